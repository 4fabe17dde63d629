package protectedpay

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/require"

	"protectedpay/internal/contracts"
)

var (
	testContract = common.HexToAddress("0xF887B4D3b17C12C86cc917cF72fb8881f866a847")
	testChainID  = big.NewInt(11155111)
)

// fakeBackend answers eth_call from per-method handlers, mines every sent
// transaction into its own block and feeds subscription logs on demand.
type fakeBackend struct {
	mu sync.Mutex

	abi     abi.ABI
	chainID *big.Int
	block   uint64

	calls       map[string]func(args []interface{}) ([]interface{}, error)
	estimateErr error
	sendErr     error

	// receiptStatus applies to every mined transaction.
	receiptStatus uint64
	// logsFor builds the contract logs of a mined transaction.
	logsFor func(tx *types.Transaction) []*types.Log
	// pendingPolls is how many receipt lookups report not found first.
	pendingPolls int

	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	history  []types.Log
	sinks    []chan<- types.Log

	// subscribeErr fails eth_subscribe, as HTTP endpoints do.
	subscribeErr error
	// filterErr fails every FilterLogs call.
	filterErr error
	// dropSub ends live subscriptions with the error sent on it.
	dropSub chan error
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	parsed, err := contracts.ParseABI()
	require.NoError(t, err)
	return &fakeBackend{
		abi:           parsed,
		chainID:       new(big.Int).Set(testChainID),
		block:         100,
		calls:         map[string]func([]interface{}) ([]interface{}, error){},
		receiptStatus: types.ReceiptStatusSuccessful,
		receipts:      map[common.Hash]*types.Receipt{},
		dropSub:       make(chan error, 1),
	}
}

func (b *fakeBackend) handle(method string, fn func(args []interface{}) ([]interface{}, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[method] = fn
}

func (b *fakeBackend) sentTxs() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.sent...)
}

// decodeTx returns the method name and arguments a transaction carries.
func (b *fakeBackend) decodeTx(t *testing.T, tx *types.Transaction) (string, []interface{}) {
	t.Helper()
	method, err := b.abi.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	return method.Name, args
}

// push delivers a log to every live subscription.
func (b *fakeBackend) push(lg types.Log) {
	b.mu.Lock()
	sinks := append([]chan<- types.Log(nil), b.sinks...)
	b.mu.Unlock()
	for _, ch := range sinks {
		ch <- lg
	}
}

// mine appends lgs to the chain history in a new block.
func (b *fakeBackend) mine(lgs ...types.Log) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.block++
	for i, lg := range lgs {
		lg.BlockNumber = b.block
		lg.Index = uint(i)
		b.history = append(b.history, lg)
	}
}

func (b *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, errors.New("short call data")
	}
	method, err := b.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	fn, ok := b.calls[method.Name]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no handler for %s", method.Name)
	}
	out, err := fn(args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &types.Header{Number: new(big.Int).SetUint64(b.block)}, nil
}

func (b *fakeBackend) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.sent)), nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	return 120_000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	b.block++
	receipt := &types.Receipt{
		Status:      b.receiptStatus,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(b.block),
		GasUsed:     54_321,
	}
	if b.logsFor != nil {
		for i, lg := range b.logsFor(tx) {
			lg.TxHash = tx.Hash()
			lg.BlockNumber = b.block
			lg.Index = uint(i)
			receipt.Logs = append(receipt.Logs, lg)
		}
	}
	b.receipts[tx.Hash()] = receipt
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pendingPolls > 0 {
		b.pendingPolls--
		return nil, ethereum.NotFound
	}
	r, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.filterErr != nil {
		return nil, b.filterErr
	}
	var out []types.Log
	for _, lg := range b.history {
		if q.FromBlock != nil && lg.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && lg.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func (b *fakeBackend) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	b.sinks = append(b.sinks, ch)
	drop := b.dropSub
	return event.NewSubscription(func(quit <-chan struct{}) error {
		select {
		case <-quit:
			return nil
		case err := <-drop:
			return err
		}
	}), nil
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.chainID), nil
}

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.block, nil
}

// testSigner signs with an in-memory key. reject, when set, replaces the
// signing step the way a declined wallet prompt would.
type testSigner struct {
	key     *ecdsa.PrivateKey
	chainID *big.Int
	reject  error
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &testSigner{key: key, chainID: new(big.Int).Set(testChainID)}
}

func (s *testSigner) Address() common.Address { return crypto.PubkeyToAddress(s.key.PublicKey) }
func (s *testSigner) ChainID() *big.Int       { return s.chainID }

func (s *testSigner) TransactOpts(ctx context.Context) *bind.TransactOpts {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		return nil
	}
	opts.Context = ctx
	if s.reject != nil {
		reject := s.reject
		opts.Signer = func(common.Address, *types.Transaction) (*types.Transaction, error) {
			return nil, reject
		}
	}
	return opts
}

// codedError mimics an EIP-1193 provider error.
type codedError struct {
	code int
	msg  string
}

func (e codedError) Error() string  { return e.msg }
func (e codedError) ErrorCode() int { return e.code }

// revertError mimics a node error carrying Error(string) revert data.
type revertError struct {
	data string
}

func (e revertError) Error() string          { return "execution reverted" }
func (e revertError) ErrorCode() int         { return 3 }
func (e revertError) ErrorData() interface{} { return e.data }

func newTestClient(t *testing.T) (*EthClient, *fakeBackend, *testSigner) {
	t.Helper()
	backend := newFakeBackend(t)
	client, err := NewEthClient(context.Background(), backend, EthClientConfig{
		ContractAddress: testContract.Hex(),
		PollInterval:    time.Millisecond,
		ConfirmTimeout:  2 * time.Second,
	})
	require.NoError(t, err)
	return client, backend, newTestSigner(t)
}

// eventLog builds a contract log for event name. indexed are the topics
// after the signature, data the non-indexed values in ABI order.
func eventLog(t *testing.T, parsed abi.ABI, name string, indexed []common.Hash, data ...interface{}) types.Log {
	t.Helper()
	ev, ok := parsed.Events[name]
	require.True(t, ok, "unknown event %s", name)
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)
	return types.Log{
		Address: testContract,
		Topics:  append([]common.Hash{ev.ID}, indexed...),
		Data:    packed,
	}
}

func addrTopic(a common.Address) common.Hash { return common.BytesToHash(a.Bytes()) }

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func testID(b byte) WireID {
	var id WireID
	for i := range id {
		id[i] = b
	}
	return id
}
