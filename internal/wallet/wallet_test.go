package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
)

var (
	sepolia = ChainParams{
		ChainID:        big.NewInt(11155111),
		Name:           "Sepolia Testnet",
		NativeCurrency: NativeCurrency{Name: "ETH", Symbol: "ETH", Decimals: 18},
		RPCURLs:        []string{"https://sepolia.infura.io/"},
		ExplorerURLs:   []string{"https://sepolia.etherscan.io/"},
	}
	mainnet = ChainParams{
		ChainID:        big.NewInt(1),
		Name:           "Ethereum",
		NativeCurrency: NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
		RPCURLs:        []string{"https://mainnet.example"},
	}
)

type stubReader struct{ wei *big.Int }

func (s stubReader) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return s.wei, nil
}

// recordingApprover approves everything except the kinds in deny, and
// remembers what it was asked.
type recordingApprover struct {
	mu    sync.Mutex
	deny  map[ApprovalKind]bool
	asked []ApprovalKind
}

func (a *recordingApprover) approve(_ context.Context, req ApprovalRequest) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.asked = append(a.asked, req.Kind)
	return !a.deny[req.Kind], nil
}

func (a *recordingApprover) kinds() []ApprovalKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ApprovalKind(nil), a.asked...)
}

func newProvider(t *testing.T, approver Approver, chains ...ChainParams) *KeyedProvider {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	balance, _ := new(big.Int).SetString("1500000000000000000", 10)
	p, err := NewKeyedProvider(KeyedProviderConfig{
		Key:           key,
		Chains:        chains,
		ActiveChainID: chains[0].ChainID,
		Approver:      approver,
		Dial: func(context.Context, string) (BalanceReader, error) {
			return stubReader{wei: balance}, nil
		},
	})
	require.NoError(t, err)
	return p
}

func TestConnectOnRequiredChain(t *testing.T) {
	p := newProvider(t, AutoApprove, sepolia)
	m := NewManager(p, sepolia, nil)
	defer m.Close()

	session, err := m.Connect(context.Background())
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(p.key.PublicKey), session.Address)
	require.Equal(t, "1.5", session.Balance)
	require.False(t, session.WrongChain)
	require.Equal(t, sepolia.ChainID, session.ChainID)

	signer := m.Signer()
	require.NotNil(t, signer)
	require.Equal(t, session.Address, signer.Address())
	require.NotNil(t, signer.TransactOpts(context.Background()))
}

func TestConnectSwitchesKnownChain(t *testing.T) {
	approver := &recordingApprover{}
	p := newProvider(t, approver.approve, mainnet, sepolia)
	m := NewManager(p, sepolia, nil)
	defer m.Close()

	reloads := 0
	m.OnReload(func() { reloads++ })

	session, err := m.Connect(context.Background())
	require.NoError(t, err)
	require.False(t, session.WrongChain)
	require.Equal(t, sepolia.ChainID, session.ChainID)
	require.Equal(t, 1, reloads)
	require.Equal(t, []ApprovalKind{ApproveConnect, ApproveSwitchChain}, approver.kinds())

	// the reload dropped nothing that Connect stored afterwards
	_, ok := m.Current()
	require.True(t, ok)
}

func TestConnectAddsUnknownChain(t *testing.T) {
	approver := &recordingApprover{}
	p := newProvider(t, approver.approve, mainnet)
	m := NewManager(p, sepolia, nil)
	defer m.Close()

	session, err := m.Connect(context.Background())
	require.NoError(t, err)
	require.False(t, session.WrongChain)
	require.Equal(t, []ApprovalKind{ApproveConnect, ApproveAddChain, ApproveSwitchChain}, approver.kinds())

	p.mu.Lock()
	added, ok := p.chains[sepolia.HexID()]
	p.mu.Unlock()
	require.True(t, ok)
	require.Equal(t, "Sepolia Testnet", added.Name)
	require.Equal(t, []string{"https://sepolia.etherscan.io/"}, added.ExplorerURLs)
}

func TestDeclinedSwitchYieldsWrongChainSession(t *testing.T) {
	approver := &recordingApprover{deny: map[ApprovalKind]bool{ApproveSwitchChain: true}}
	p := newProvider(t, approver.approve, mainnet, sepolia)
	m := NewManager(p, sepolia, nil)
	defer m.Close()

	session, err := m.Connect(context.Background())
	require.NoError(t, err)
	require.True(t, session.WrongChain)
	require.Equal(t, big.NewInt(1), m.Signer().ChainID())
}

func TestConnectRejected(t *testing.T) {
	approver := &recordingApprover{deny: map[ApprovalKind]bool{ApproveConnect: true}}
	p := newProvider(t, approver.approve, sepolia)
	m := NewManager(p, sepolia, nil)
	defer m.Close()

	_, err := m.Connect(context.Background())
	require.True(t, IsUserRejected(err))
	_, ok := m.Current()
	require.False(t, ok)
	require.Nil(t, m.Signer())
}

func TestReentrantConnect(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	approver := func(_ context.Context, req ApprovalRequest) (bool, error) {
		if req.Kind == ApproveConnect {
			close(entered)
			<-release
		}
		return true, nil
	}
	p := newProvider(t, approver, sepolia)
	m := NewManager(p, sepolia, nil)
	defer m.Close()

	done := make(chan error, 1)
	go func() {
		_, err := m.Connect(context.Background())
		done <- err
	}()
	<-entered

	_, err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnectInProgress)

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("first connect did not finish")
	}
}

func TestAccountChangeDisconnects(t *testing.T) {
	p := newProvider(t, AutoApprove, sepolia)
	m := NewManager(p, sepolia, nil)
	defer m.Close()

	_, err := m.Connect(context.Background())
	require.NoError(t, err)
	signer := m.Signer()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	p.SetKey(key)

	_, ok := m.Current()
	require.False(t, ok)
	require.Nil(t, m.Signer())
	require.Nil(t, signer.TransactOpts(context.Background()))

	m.Disconnect()
	m.Disconnect()
}

func TestCloseDetachesNotifications(t *testing.T) {
	p := newProvider(t, AutoApprove, sepolia)
	m := NewManager(p, sepolia, nil)

	_, err := m.Connect(context.Background())
	require.NoError(t, err)
	m.Close()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	p.SetKey(key)

	_, ok := m.Current()
	require.True(t, ok)
}

func TestSignatureGoesThroughApprover(t *testing.T) {
	approver := &recordingApprover{deny: map[ApprovalKind]bool{ApproveTransaction: true}}
	p := newProvider(t, approver.approve, sepolia)
	m := NewManager(p, sepolia, nil)
	defer m.Close()

	_, err := m.Connect(context.Background())
	require.NoError(t, err)

	opts := m.Signer().TransactOpts(context.Background())
	require.NotNil(t, opts)
	tx := types.NewTx(&types.LegacyTx{Nonce: 0, GasPrice: big.NewInt(1), Gas: 21000, Value: big.NewInt(1)})
	_, err = opts.Signer(opts.From, tx)
	require.True(t, IsUserRejected(err))

	var coded rpc.Error
	require.True(t, errors.As(err, &coded))
	require.Equal(t, CodeUserRejected, coded.ErrorCode())
}

func TestRefreshBalance(t *testing.T) {
	p := newProvider(t, AutoApprove, sepolia)
	m := NewManager(p, sepolia, nil)
	defer m.Close()

	_, err := m.RefreshBalance(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = m.Connect(context.Background())
	require.NoError(t, err)
	session, err := m.RefreshBalance(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1.5", session.Balance)
}

func TestProviderRejectsUnknownMethods(t *testing.T) {
	p := newProvider(t, AutoApprove, sepolia)

	_, err := p.Request(context.Background(), "eth_sign")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, CodeUnsupportedMethod, perr.Code)

	_, err = p.Request(context.Background(), MethodSwitchChain, SwitchChainParams{ChainID: "0x5"})
	require.True(t, IsUnrecognizedChain(err))

	raw, err := p.Request(context.Background(), MethodAccounts)
	require.NoError(t, err)
	require.JSONEq(t, `[]`, string(raw))
}

func TestParsePrivateKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hex := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))

	parsed, err := ParsePrivateKey(hex)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(parsed.PublicKey))

	_, err = ParsePrivateKey("zz")
	require.Error(t, err)
}
