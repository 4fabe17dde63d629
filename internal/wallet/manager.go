package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"protectedpay/internal/amount"
	"protectedpay/internal/protectedpay"
)

var (
	ErrConnectInProgress = errors.New("wallet connection already in progress")
	ErrNoAccounts        = errors.New("wallet returned no accounts")
	ErrNotConnected      = errors.New("wallet is not connected")
)

// Session is one connected identity.
type Session struct {
	Address common.Address `json:"address"`
	ChainID *big.Int       `json:"chainId"`
	Balance string         `json:"balance"`
	// WrongChain is set when the wallet could not be moved to the required
	// chain; contract calls will fail until it is.
	WrongChain bool `json:"wrongChain"`

	signer *Signer
}

// Manager owns the single session of a process. It is the only writer of
// session state; everything else reads through Current and Signer.
type Manager struct {
	provider Provider
	chain    ChainParams
	logger   *zap.Logger

	mu         sync.Mutex
	session    *Session
	connecting atomic.Bool
	reloads    map[int]func()
	nextReload int
	unsubs     []func()
}

func NewManager(provider Provider, chain ChainParams, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		provider: provider,
		chain:    chain,
		logger:   logger,
		reloads:  map[int]func(){},
	}
	m.unsubs = append(m.unsubs,
		provider.On(EventAccountsChanged, func(Notification) {
			m.logger.Info("wallet account changed, disconnecting")
			m.Disconnect()
		}),
		provider.On(EventChainChanged, func(n Notification) {
			m.logger.Info("wallet chain changed, reloading", zap.Stringer("chain_id", n.ChainID))
			m.reload()
		}),
	)
	return m
}

// Connect requests account access, moves the wallet to the required chain
// when needed and stores the resulting session. A failed chain switch is
// logged and yields a session with WrongChain set. Concurrent calls get
// ErrConnectInProgress.
func (m *Manager) Connect(ctx context.Context) (Session, error) {
	if !m.connecting.CompareAndSwap(false, true) {
		return Session{}, ErrConnectInProgress
	}
	defer m.connecting.Store(false)

	raw, err := m.provider.Request(ctx, MethodRequestAccounts)
	if err != nil {
		m.logger.Warn("failed to connect wallet", zap.Error(err))
		return Session{}, fmt.Errorf("request accounts: %w", err)
	}
	var accounts []common.Address
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return Session{}, fmt.Errorf("decode accounts: %w", err)
	}
	if len(accounts) == 0 {
		return Session{}, ErrNoAccounts
	}
	account := accounts[0]

	chainID, err := m.chainID(ctx)
	if err != nil {
		return Session{}, err
	}
	if chainID.Cmp(m.chain.ChainID) != 0 {
		if err := m.ensureChain(ctx); err != nil {
			m.logger.Warn("failed to switch network", zap.Stringer("want", m.chain.ChainID), zap.Stringer("have", chainID), zap.Error(err))
		}
		if chainID, err = m.chainID(ctx); err != nil {
			return Session{}, err
		}
	}

	balance, err := m.balance(ctx, account)
	if err != nil {
		return Session{}, err
	}

	session := &Session{
		Address:    account,
		ChainID:    chainID,
		Balance:    balance,
		WrongChain: chainID.Cmp(m.chain.ChainID) != 0,
		signer:     &Signer{address: account, chainID: new(big.Int).Set(chainID), provider: m.provider},
	}
	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	m.logger.Info("wallet connected", zap.Stringer("address", account), zap.Stringer("chain_id", chainID), zap.Bool("wrong_chain", session.WrongChain))
	return *session, nil
}

// ensureChain switches to the required chain, registering it first when
// the wallet does not know it.
func (m *Manager) ensureChain(ctx context.Context) error {
	switchParams := SwitchChainParams{ChainID: m.chain.HexID()}
	_, err := m.provider.Request(ctx, MethodSwitchChain, switchParams)
	if err == nil || !IsUnrecognizedChain(err) {
		return err
	}
	if _, err := m.provider.Request(ctx, MethodAddChain, m.chain.AddParams()); err != nil {
		return fmt.Errorf("add chain: %w", err)
	}
	_, err = m.provider.Request(ctx, MethodSwitchChain, switchParams)
	return err
}

func (m *Manager) chainID(ctx context.Context) (*big.Int, error) {
	raw, err := m.provider.Request(ctx, MethodChainID)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	var hexID string
	if err := json.Unmarshal(raw, &hexID); err != nil {
		return nil, fmt.Errorf("decode chain id: %w", err)
	}
	id, err := hexutil.DecodeBig(hexID)
	if err != nil {
		return nil, fmt.Errorf("decode chain id %q: %w", hexID, err)
	}
	return id, nil
}

func (m *Manager) balance(ctx context.Context, account common.Address) (string, error) {
	raw, err := m.provider.Request(ctx, MethodGetBalance, account, "latest")
	if err != nil {
		return "", fmt.Errorf("balance: %w", err)
	}
	var wei hexutil.Big
	if err := json.Unmarshal(raw, &wei); err != nil {
		return "", fmt.Errorf("decode balance: %w", err)
	}
	return amount.FromWei(wei.ToInt()), nil
}

// RefreshBalance re-reads the session balance.
func (m *Manager) RefreshBalance(ctx context.Context) (Session, error) {
	m.mu.Lock()
	current := m.session
	m.mu.Unlock()
	if current == nil {
		return Session{}, ErrNotConnected
	}
	balance, err := m.balance(ctx, current.Address)
	if err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != current {
		return Session{}, ErrNotConnected
	}
	m.session.Balance = balance
	return *m.session, nil
}

// Disconnect clears the session. It is safe to call at any time.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	had := m.session != nil
	m.session = nil
	m.mu.Unlock()
	if had {
		m.logger.Info("wallet disconnected")
	}
}

// Current returns a copy of the session, if any.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// Signer returns the session's signer, or nil when disconnected.
func (m *Manager) Signer() protectedpay.Signer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return m.session.signer
}

// OnReload registers fn to run after a chain change has dropped all state.
func (m *Manager) OnReload(fn func()) (remove func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextReload
	m.nextReload++
	m.reloads[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.reloads, id)
	}
}

func (m *Manager) reload() {
	m.mu.Lock()
	m.session = nil
	fns := make([]func(), 0, len(m.reloads))
	for _, fn := range m.reloads {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Close detaches from the provider's notifications.
func (m *Manager) Close() {
	m.mu.Lock()
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
}
