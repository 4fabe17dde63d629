package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// ApprovalKind names the prompt a KeyedProvider raises.
type ApprovalKind string

const (
	ApproveConnect     ApprovalKind = "connect"
	ApproveSwitchChain ApprovalKind = "switch_chain"
	ApproveAddChain    ApprovalKind = "add_chain"
	ApproveTransaction ApprovalKind = "transaction"
)

type ApprovalRequest struct {
	Kind    ApprovalKind
	Account common.Address
	ChainID *big.Int
	Chain   *ChainParams
	Tx      *types.Transaction
}

// Approver decides a prompt. Returning false declines it with code 4001.
type Approver func(ctx context.Context, req ApprovalRequest) (bool, error)

// AutoApprove accepts every prompt.
func AutoApprove(context.Context, ApprovalRequest) (bool, error) { return true, nil }

// BalanceReader is the node access needed for eth_getBalance.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Dialer opens a BalanceReader for an RPC URL.
type Dialer func(ctx context.Context, rpcURL string) (BalanceReader, error)

func dialRPC(ctx context.Context, rpcURL string) (BalanceReader, error) {
	cli, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return cli, nil
}

type KeyedProviderConfig struct {
	Key *ecdsa.PrivateKey
	// Chains the wallet already knows. ActiveChainID must be one of them.
	Chains        []ChainParams
	ActiveChainID *big.Int
	Approver      Approver
	Dial          Dialer
	Logger        *zap.Logger
}

// KeyedProvider is a Provider backed by one in-process private key. Every
// account request and every signature passes the Approver.
type KeyedProvider struct {
	mu         sync.Mutex
	key        *ecdsa.PrivateKey
	authorized bool
	chains     map[string]ChainParams
	active     ChainParams
	readers    map[string]BalanceReader

	approve Approver
	dial    Dialer
	logger  *zap.Logger

	listeners map[string]map[int]func(Notification)
	nextID    int
}

func NewKeyedProvider(cfg KeyedProviderConfig) (*KeyedProvider, error) {
	if cfg.Key == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if cfg.ActiveChainID == nil {
		return nil, fmt.Errorf("active chain id is required")
	}
	p := &KeyedProvider{
		key:       cfg.Key,
		chains:    make(map[string]ChainParams, len(cfg.Chains)),
		readers:   map[string]BalanceReader{},
		approve:   cfg.Approver,
		dial:      cfg.Dial,
		logger:    cfg.Logger,
		listeners: map[string]map[int]func(Notification){},
	}
	if p.approve == nil {
		p.approve = AutoApprove
	}
	if p.dial == nil {
		p.dial = dialRPC
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	for _, c := range cfg.Chains {
		p.chains[c.HexID()] = c
	}
	active, ok := p.chains[hexutil.EncodeBig(cfg.ActiveChainID)]
	if !ok {
		return nil, fmt.Errorf("active chain %s is not among the known chains", cfg.ActiveChainID)
	}
	p.active = active
	return p, nil
}

// ParsePrivateKey accepts a hex key with or without 0x.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (p *KeyedProvider) account() common.Address {
	return crypto.PubkeyToAddress(p.key.PublicKey)
}

func rejected(what string) *ProviderError {
	return &ProviderError{Code: CodeUserRejected, Message: "user rejected " + what}
}

func (p *KeyedProvider) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	switch method {
	case MethodRequestAccounts:
		return p.requestAccounts(ctx)
	case MethodAccounts:
		p.mu.Lock()
		accounts := []common.Address{}
		if p.authorized {
			accounts = append(accounts, p.account())
		}
		p.mu.Unlock()
		return json.Marshal(accounts)
	case MethodChainID:
		p.mu.Lock()
		id := p.active.HexID()
		p.mu.Unlock()
		return json.Marshal(id)
	case MethodGetBalance:
		return p.balance(ctx, params)
	case MethodSwitchChain:
		var req SwitchChainParams
		if err := decodeParam(params, &req); err != nil {
			return nil, err
		}
		return nil, p.switchChain(ctx, req)
	case MethodAddChain:
		var req AddChainParams
		if err := decodeParam(params, &req); err != nil {
			return nil, err
		}
		return nil, p.addChain(ctx, req)
	}
	return nil, &ProviderError{Code: CodeUnsupportedMethod, Message: "unsupported method " + method}
}

// decodeParam round-trips the first parameter through JSON, the way it would
// travel to a browser wallet.
func decodeParam(params []interface{}, into interface{}) error {
	if len(params) == 0 {
		return &ProviderError{Code: CodeInvalidParams, Message: "missing params"}
	}
	raw, err := json.Marshal(params[0])
	if err != nil {
		return &ProviderError{Code: CodeInvalidParams, Message: err.Error()}
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return &ProviderError{Code: CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

func (p *KeyedProvider) requestAccounts(ctx context.Context) (json.RawMessage, error) {
	p.mu.Lock()
	account, chainID := p.account(), p.active.ChainID
	p.mu.Unlock()

	ok, err := p.approve(ctx, ApprovalRequest{Kind: ApproveConnect, Account: account, ChainID: chainID})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rejected("account access")
	}
	p.mu.Lock()
	p.authorized = true
	p.mu.Unlock()
	return json.Marshal([]common.Address{account})
}

func (p *KeyedProvider) balance(ctx context.Context, params []interface{}) (json.RawMessage, error) {
	var account common.Address
	if err := decodeParam(params, &account); err != nil {
		return nil, err
	}
	p.mu.Lock()
	chain := p.active
	reader, ok := p.readers[chain.HexID()]
	p.mu.Unlock()

	if !ok {
		if len(chain.RPCURLs) == 0 {
			return nil, fmt.Errorf("chain %s has no rpc url", chain.Name)
		}
		var err error
		if reader, err = p.dial(ctx, chain.RPCURLs[0]); err != nil {
			return nil, fmt.Errorf("dial %s: %w", chain.Name, err)
		}
		p.mu.Lock()
		p.readers[chain.HexID()] = reader
		p.mu.Unlock()
	}
	wei, err := reader.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return json.Marshal((*hexutil.Big)(wei))
}

func (p *KeyedProvider) switchChain(ctx context.Context, req SwitchChainParams) error {
	key := strings.ToLower(req.ChainID)
	p.mu.Lock()
	target, known := p.chains[key]
	current, account := p.active.HexID(), p.account()
	p.mu.Unlock()

	if !known {
		return &ProviderError{Code: CodeUnrecognizedChain, Message: "unrecognized chain id " + req.ChainID}
	}
	if key == current {
		return nil
	}
	ok, err := p.approve(ctx, ApprovalRequest{Kind: ApproveSwitchChain, Account: account, ChainID: target.ChainID, Chain: &target})
	if err != nil {
		return err
	}
	if !ok {
		return rejected("network switch")
	}

	p.mu.Lock()
	p.active = target
	p.mu.Unlock()
	p.logger.Info("switched chain", zap.String("chain", target.Name), zap.Stringer("chain_id", target.ChainID))
	p.emit(Notification{Event: EventChainChanged, ChainID: new(big.Int).Set(target.ChainID)})
	return nil
}

func (p *KeyedProvider) addChain(ctx context.Context, req AddChainParams) error {
	chain, err := req.chain()
	if err != nil {
		return &ProviderError{Code: CodeInvalidParams, Message: err.Error()}
	}
	if len(chain.RPCURLs) == 0 {
		return &ProviderError{Code: CodeInvalidParams, Message: "rpcUrls is required"}
	}
	p.mu.Lock()
	account := p.account()
	p.mu.Unlock()
	ok, err := p.approve(ctx, ApprovalRequest{Kind: ApproveAddChain, Account: account, ChainID: chain.ChainID, Chain: &chain})
	if err != nil {
		return err
	}
	if !ok {
		return rejected("adding network")
	}
	p.mu.Lock()
	p.chains[chain.HexID()] = chain
	p.mu.Unlock()
	p.logger.Info("added chain", zap.String("chain", chain.Name), zap.Stringer("chain_id", chain.ChainID))
	return nil
}

// Transactor signs as the provider's key on the active chain. The returned
// options ask the Approver before each signature.
func (p *KeyedProvider) Transactor(ctx context.Context, account common.Address) (*bind.TransactOpts, error) {
	p.mu.Lock()
	key, authorized, chainID := p.key, p.authorized, p.active.ChainID
	p.mu.Unlock()

	if !authorized || account != crypto.PubkeyToAddress(key.PublicKey) {
		return nil, &ProviderError{Code: CodeUnauthorized, Message: "account " + account.Hex() + " is not authorized"}
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	sign := opts.Signer
	opts.Signer = func(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
		ok, err := p.approve(ctx, ApprovalRequest{Kind: ApproveTransaction, Account: from, ChainID: chainID, Tx: tx})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, rejected("transaction signature")
		}
		return sign(from, tx)
	}
	opts.Context = ctx
	return opts, nil
}

// SetKey replaces the account. The new account starts unauthorized.
func (p *KeyedProvider) SetKey(key *ecdsa.PrivateKey) {
	p.mu.Lock()
	p.key = key
	p.authorized = false
	account := p.account()
	p.mu.Unlock()
	p.emit(Notification{Event: EventAccountsChanged, Accounts: []common.Address{account}})
}

func (p *KeyedProvider) On(event string, fn func(Notification)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listeners[event] == nil {
		p.listeners[event] = map[int]func(Notification){}
	}
	id := p.nextID
	p.nextID++
	p.listeners[event][id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners[event], id)
	}
}

func (p *KeyedProvider) emit(n Notification) {
	p.mu.Lock()
	fns := make([]func(Notification), 0, len(p.listeners[n.Event]))
	for _, fn := range p.listeners[n.Event] {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

var _ Provider = (*KeyedProvider)(nil)
