package main

import (
	"context"
	"errors"
	"log"
	"math/big"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"protectedpay/internal/config"
	"protectedpay/internal/idempotency"
	"protectedpay/internal/logging"
	"protectedpay/internal/protectedpay"
	"protectedpay/internal/server"
	"protectedpay/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("idempotency store error", zap.Error(err))
	}
	defer closeStore()

	var client protectedpay.Client = protectedpay.NewFakeClient()
	var dial wallet.Dialer = func(context.Context, string) (wallet.BalanceReader, error) {
		return emptyBalance{}, nil
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		logger.Fatal("generate key", zap.Error(err))
	}
	if cfg.Chain.PrivateKey != "" {
		if key, err = wallet.ParsePrivateKey(cfg.Chain.PrivateKey); err != nil {
			logger.Fatal("signer key error", zap.Error(err))
		}
		ethClient, err := protectedpay.Dial(ctx, cfg.Chain.RPCURL, protectedpay.EthClientConfig{
			ContractAddress: cfg.Chain.ContractAddress,
			PollInterval:    cfg.Chain.ReceiptPoll,
			ConfirmTimeout:  cfg.Chain.ConfirmTimeout,
			Logger:          logger,
		})
		if err != nil {
			logger.Fatal("contract client error", zap.Error(err))
		}
		client = ethClient
		dial = nil
	} else {
		logger.Warn("CHAIN_PRIVATE_KEY not set, serving an in-memory ledger with an ephemeral key")
	}

	chain := cfg.Deployment.WalletChain()
	chain.RPCURLs = append([]string{cfg.Chain.RPCURL}, chain.RPCURLs...)
	provider, err := wallet.NewKeyedProvider(wallet.KeyedProviderConfig{
		Key:           key,
		Chains:        []wallet.ChainParams{chain},
		ActiveChainID: chain.ChainID,
		Approver:      wallet.AutoApprove,
		Dial:          dial,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("wallet error", zap.Error(err))
	}
	manager := wallet.NewManager(provider, chain, logger)
	defer manager.Close()

	apiServer := server.NewServer(server.Options{
		Config: cfg,
		Client: client,
		Wallet: manager,
		Store:  store,
		Logger: logger,
	})

	// A wallet chain change drops the session; the event feed is reopened
	// with it.
	removeReload := manager.OnReload(func() {
		if err := apiServer.RestartEvents(ctx); err != nil {
			logger.Warn("event stream restart failed", zap.Error(err))
		}
	})
	defer removeReload()

	go func() {
		if err := apiServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

// emptyBalance backs the ephemeral wallet of the in-memory ledger.
type emptyBalance struct{}

func (emptyBalance) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return new(big.Int), nil
}

// openStore prefers Postgres, then Redis, then the local file store.
func openStore(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (idempotency.Store, func(), error) {
	switch {
	case cfg.Service.PostgresDSN != "":
		store, err := idempotency.NewPostgresStore(ctx, cfg.Service.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("idempotency store: postgres")
		return store, store.Close, nil
	case cfg.Service.RedisAddr != "":
		store, err := idempotency.NewRedisStore(ctx, cfg.Service.RedisAddr, cfg.Service.RedisPassword)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("idempotency store: redis", zap.String("addr", cfg.Service.RedisAddr))
		return store, func() { _ = store.Close() }, nil
	}
	store, err := idempotency.NewFileStore(cfg.Service.IdempotencyStorePath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("idempotency store: file", zap.String("path", cfg.Service.IdempotencyStorePath))
	return store, func() {}, nil
}
