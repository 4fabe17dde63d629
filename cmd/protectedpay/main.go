package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"protectedpay/internal/amount"
	"protectedpay/internal/config"
	"protectedpay/internal/logging"
	"protectedpay/internal/protectedpay"
	"protectedpay/internal/wallet"
)

// app carries the connected session shared by every command.
type app struct {
	yes bool

	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer

	// setup loads configuration and fills cfg, logger, client and manager.
	setup func(ctx context.Context, a *app) error

	cfg     *config.AppConfig
	logger  *zap.Logger
	client  protectedpay.Client
	manager *wallet.Manager
	session wallet.Session
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{
		in:     bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		errOut: os.Stderr,
		setup:  dialChain,
	}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func dialChain(ctx context.Context, a *app) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.Chain.PrivateKey == "" {
		return fmt.Errorf("CHAIN_PRIVATE_KEY is required")
	}
	key, err := wallet.ParsePrivateKey(cfg.Chain.PrivateKey)
	if err != nil {
		return err
	}
	client, err := protectedpay.Dial(ctx, cfg.Chain.RPCURL, protectedpay.EthClientConfig{
		ContractAddress: cfg.Chain.ContractAddress,
		PollInterval:    cfg.Chain.ReceiptPoll,
		ConfirmTimeout:  cfg.Chain.ConfirmTimeout,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	a.cfg, a.logger, a.client = cfg, logger, client
	return a.attachWallet(wallet.KeyedProviderConfig{Key: key})
}

// attachWallet builds the keyed provider and session manager for the
// deployment chain. Key and Dial come from pc; the rest is filled here.
func (a *app) attachWallet(pc wallet.KeyedProviderConfig) error {
	chain := a.cfg.Deployment.WalletChain()
	if a.cfg.Chain.RPCURL != "" {
		chain.RPCURLs = append([]string{a.cfg.Chain.RPCURL}, chain.RPCURLs...)
	}
	pc.Chains = []wallet.ChainParams{chain}
	pc.ActiveChainID = chain.ChainID
	pc.Approver = a.approve
	pc.Logger = a.logger
	provider, err := wallet.NewKeyedProvider(pc)
	if err != nil {
		return err
	}
	a.manager = wallet.NewManager(provider, chain, a.logger)
	return nil
}

// approve prompts on the terminal unless --yes was given.
func (a *app) approve(_ context.Context, req wallet.ApprovalRequest) (bool, error) {
	if a.yes {
		return true, nil
	}
	fmt.Fprintf(a.errOut, "%s [y/N] ", a.describe(req))
	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		return false, nil
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func (a *app) describe(req wallet.ApprovalRequest) string {
	switch req.Kind {
	case wallet.ApproveConnect:
		return fmt.Sprintf("Connect account %s?", req.Account.Hex())
	case wallet.ApproveSwitchChain:
		return fmt.Sprintf("Switch network to %s?", req.Chain.Name)
	case wallet.ApproveAddChain:
		return fmt.Sprintf("Add network %s (chain %s)?", req.Chain.Name, req.ChainID)
	case wallet.ApproveTransaction:
		to := "contract creation"
		if req.Tx.To() != nil {
			to = req.Tx.To().Hex()
		}
		return fmt.Sprintf("Sign transaction to %s sending %s %s?", to,
			amount.FromWei(req.Tx.Value()), a.cfg.Deployment.NativeCurrency.Symbol)
	}
	return fmt.Sprintf("Approve %s?", req.Kind)
}

func (a *app) connect(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if err := a.setup(ctx, a); err != nil {
		return err
	}
	session, err := a.manager.Connect(ctx)
	if err != nil {
		return err
	}
	if session.WrongChain {
		fmt.Fprintf(a.errOut, "warning: wallet is on chain %s, expected %s\n", session.ChainID, a.cfg.Deployment.ChainIDBig())
	}
	a.session = session
	return nil
}

func (a *app) close(*cobra.Command, []string) {
	if a.manager != nil {
		a.manager.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *app) signer() protectedpay.Signer { return a.manager.Signer() }

func (a *app) print(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// addressArg returns args[i] as an address, or the session address when
// the argument was omitted.
func (a *app) addressArg(args []string, i int) (common.Address, error) {
	if len(args) <= i {
		return a.session.Address, nil
	}
	if !common.IsHexAddress(args[i]) {
		return common.Address{}, fmt.Errorf("invalid address %q", args[i])
	}
	return common.HexToAddress(args[i]), nil
}

func idArg(raw string) (protectedpay.WireID, error) {
	id, err := protectedpay.ParseWireID(raw)
	if err != nil {
		return protectedpay.WireID{}, fmt.Errorf("invalid id %q: %w", raw, err)
	}
	return id, nil
}
