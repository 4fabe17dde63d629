package protectedpay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"protectedpay/internal/contracts"
)

const (
	defaultPollInterval   = 2 * time.Second
	defaultConfirmTimeout = 3 * time.Minute
)

// EthClient talks to the deployed ProtectedPay contract.
type EthClient struct {
	backend        Backend
	contract       *bind.BoundContract
	address        common.Address
	chainID        *big.Int
	events         eventIndex
	pollInterval   time.Duration
	confirmTimeout time.Duration
	logger         *zap.Logger
}

type EthClientConfig struct {
	ContractAddress string
	// PollInterval is the receipt polling period while awaiting confirmation.
	PollInterval time.Duration
	// ConfirmTimeout bounds the wait for one-block inclusion.
	ConfirmTimeout time.Duration
	Logger         *zap.Logger
}

// Dial connects to rpcURL and binds the contract.
func Dial(ctx context.Context, rpcURL string, cfg EthClientConfig) (*EthClient, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	cli, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	c, err := NewEthClient(ctx, cli, cfg)
	if err != nil {
		cli.Close()
		return nil, err
	}
	return c, nil
}

// NewEthClient binds the contract on an existing backend and records the
// backend's chain id; signers on any other chain are refused.
func NewEthClient(ctx context.Context, backend Backend, cfg EthClientConfig) (*EthClient, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	parsedABI, err := contracts.ParseABI()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	events, err := newEventIndex(parsedABI)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	confirm := cfg.ConfirmTimeout
	if confirm <= 0 {
		confirm = defaultConfirmTimeout
	}

	address := common.HexToAddress(cfg.ContractAddress)
	return &EthClient{
		backend:        backend,
		contract:       bind.NewBoundContract(address, parsedABI, backend, backend, backend),
		address:        address,
		chainID:        chainID,
		events:         events,
		pollInterval:   poll,
		confirmTimeout: confirm,
		logger:         logger.With(zap.Stringer("contract", address)),
	}, nil
}

func (c *EthClient) Address() common.Address { return c.address }

// ChainID is the id of the chain the client is bound to.
func (c *EthClient) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

func (c *EthClient) Ping(ctx context.Context) error {
	_, err := c.backend.BlockNumber(ctx)
	return err
}

func (c *EthClient) checkSigner(signer Signer) error {
	if signer == nil {
		return ErrNotConnected
	}
	id := signer.ChainID()
	if id == nil || id.Cmp(c.chainID) != 0 {
		return &Error{
			Kind:    KindChainMismatch,
			Message: fmt.Sprintf("wallet is on chain %v but the contract is deployed on chain %s", id, c.chainID),
		}
	}
	return nil
}

// transact submits method with an optional payment and waits for inclusion.
// It never retries: a value-bearing call must be re-invoked by the caller.
func (c *EthClient) transact(ctx context.Context, signer Signer, method string, value *big.Int, args ...interface{}) (*Receipt, error) {
	if err := c.checkSigner(signer); err != nil {
		return nil, err
	}
	opts := signer.TransactOpts(ctx)
	if opts == nil {
		return nil, ErrNotConnected
	}
	opts.Value = value

	log := c.logger.With(zap.String("method", method), zap.Stringer("from", signer.Address()))

	tx, err := c.contract.Transact(opts, method, args...)
	if err != nil {
		log.Warn("transaction submission failed", zap.Error(err))
		return nil, normalizeError(err, "failed to submit "+method)
	}
	log = log.With(zap.Stringer("tx", tx.Hash()))
	log.Info("transaction submitted")

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	receipt, err := c.waitForReceipt(waitCtx, tx)
	if err != nil {
		log.Warn("confirmation wait failed", zap.Error(err))
		normalized := normalizeError(err, fmt.Sprintf("transaction %s was submitted but not confirmed", tx.Hash().Hex()))
		normalized.TxHash = tx.Hash().Hex()
		return nil, normalized
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		reason := c.replayRevertReason(ctx, signer.Address(), tx, receipt)
		log.Warn("transaction reverted", zap.String("reason", reason), zap.Uint64("block", receipt.BlockNumber.Uint64()))
		failed := reverted(reason)
		failed.TxHash = tx.Hash().Hex()
		return nil, failed
	}

	log.Info("transaction confirmed", zap.Uint64("block", receipt.BlockNumber.Uint64()))
	return c.newReceipt(receipt), nil
}

// waitForReceipt polls until the transaction is mined or ctx is done.
func (c *EthClient) waitForReceipt(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, tx.Hash())
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// replayRevertReason re-executes a failed transaction as a call at its block
// to recover the revert reason. Empty when the node does not report one.
func (c *EthClient) replayRevertReason(ctx context.Context, from common.Address, tx *types.Transaction, receipt *types.Receipt) string {
	msg := ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	_, err := c.backend.CallContract(ctx, msg, receipt.BlockNumber)
	if err == nil {
		return ""
	}
	reason, _ := revertReason(err)
	return reason
}

func (c *EthClient) newReceipt(r *types.Receipt) *Receipt {
	out := &Receipt{
		TxHash:  r.TxHash,
		GasUsed: r.GasUsed,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	for _, lg := range r.Logs {
		if lg == nil || lg.Address != c.address {
			continue
		}
		ev, ok, err := c.decodeEvent(*lg)
		if err != nil {
			c.logger.Warn("undecodable receipt log", zap.Stringer("tx", r.TxHash), zap.Error(err))
			continue
		}
		if ok {
			out.Events = append(out.Events, ev)
		}
	}
	return out
}

// call runs a read-only method and unpacks into results.
func (c *EthClient) call(ctx context.Context, signer Signer, method string, results *[]interface{}, args ...interface{}) error {
	if err := c.checkSigner(signer); err != nil {
		return err
	}
	opts := &bind.CallOpts{Context: ctx, From: signer.Address()}
	if err := c.contract.Call(opts, results, method, args...); err != nil {
		c.logger.Debug("contract read failed", zap.String("method", method), zap.Error(err))
		return normalizeError(err, "failed to read "+method)
	}
	return nil
}
