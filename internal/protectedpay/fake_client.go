package protectedpay

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"protectedpay/internal/amount"
)

// FakeCall records one invocation on a FakeClient.
type FakeCall struct {
	Method string
	From   common.Address
	Args   []interface{}
}

// FakeClient is an in-memory ledger with the contract's observable behaviour,
// for tests of code built on Client. Failures are injected per method via
// Errors; the injected error is returned before any state changes.
type FakeClient struct {
	mu sync.Mutex

	Errors map[string]error
	Calls  []FakeCall

	usernames     map[common.Address]string
	addresses     map[string]common.Address
	transfers     map[WireID]*Transfer
	groupPayments map[WireID]*GroupPayment
	pots          map[WireID]*SavingsPot
	contributions map[WireID]map[common.Address]*big.Int
	profiles      map[common.Address]*UserProfile
	pending       map[common.Address][]WireID

	nonce    uint64
	block    uint64
	handlers map[int]func(Event)
	drops    map[int]chan error
	nextSub  int
	now      func() time.Time
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		Errors:        map[string]error{},
		usernames:     map[common.Address]string{},
		addresses:     map[string]common.Address{},
		transfers:     map[WireID]*Transfer{},
		groupPayments: map[WireID]*GroupPayment{},
		pots:          map[WireID]*SavingsPot{},
		contributions: map[WireID]map[common.Address]*big.Int{},
		profiles:      map[common.Address]*UserProfile{},
		pending:       map[common.Address][]WireID{},
		handlers:      map[int]func(Event){},
		drops:         map[int]chan error{},
		now:           time.Now,
	}
}

// CallsTo returns the recorded calls of one method, in order.
func (f *FakeClient) CallsTo(method string) []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []FakeCall
	for _, c := range f.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Emit delivers ev to every current subscriber.
func (f *FakeClient) Emit(ev Event) {
	f.mu.Lock()
	handlers := make([]func(Event), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Subscribers reports how many subscriptions are active.
func (f *FakeClient) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

// begin records the call and returns the injected error, if any. f.mu must
// be held.
func (f *FakeClient) begin(method string, signer Signer, args ...interface{}) error {
	var from common.Address
	if signer != nil {
		from = signer.Address()
	}
	f.Calls = append(f.Calls, FakeCall{Method: method, From: from, Args: args})
	if err := f.Errors[method]; err != nil {
		return err
	}
	if signer == nil {
		return ErrNotConnected
	}
	return nil
}

func (f *FakeClient) newID(kind string, from common.Address) WireID {
	f.nonce++
	return WireID(sha256.Sum256([]byte(fmt.Sprintf("%s/%s/%d", kind, from.Hex(), f.nonce))))
}

func (f *FakeClient) receipt(method string, events ...Event) *Receipt {
	f.nonce++
	f.block++
	hash := common.Hash(sha256.Sum256([]byte(fmt.Sprintf("%s/%d", method, f.nonce))))
	for i := range events {
		events[i].BlockNumber = f.block
		events[i].TxHash = hash
		events[i].LogIndex = uint(i)
	}
	return &Receipt{TxHash: hash, BlockNumber: f.block, GasUsed: 21000, Events: events}
}

// deliver must be called without f.mu held.
func (f *FakeClient) deliver(r *Receipt) {
	for _, ev := range r.Events {
		f.Emit(ev)
	}
}

func (f *FakeClient) profile(a common.Address) *UserProfile {
	p, ok := f.profiles[a]
	if !ok {
		p = &UserProfile{}
		f.profiles[a] = p
	}
	return p
}

func revert(reason string) error { return reverted(reason) }

func (f *FakeClient) RegisterUsername(_ context.Context, signer Signer, username string) (*Receipt, error) {
	f.mu.Lock()
	if err := f.begin("RegisterUsername", signer, username); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	from := signer.Address()
	if _, ok := f.usernames[from]; ok {
		f.mu.Unlock()
		return nil, revert("User already registered")
	}
	if _, ok := f.addresses[username]; ok {
		f.mu.Unlock()
		return nil, revert("Username already taken")
	}
	f.usernames[from] = username
	f.addresses[username] = from
	f.profile(from).Username = username
	r := f.receipt("RegisterUsername")
	f.mu.Unlock()
	return r, nil
}

func (f *FakeClient) SendToAddress(_ context.Context, signer Signer, recipient common.Address, amt, remarks string) (*Receipt, error) {
	f.mu.Lock()
	if err := f.begin("SendToAddress", signer, recipient, amt, remarks); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	r, err := f.send(signer.Address(), recipient, amt, remarks)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f.deliver(r)
	return r, nil
}

func (f *FakeClient) SendToUsername(_ context.Context, signer Signer, username, amt, remarks string) (*Receipt, error) {
	f.mu.Lock()
	if err := f.begin("SendToUsername", signer, username, amt, remarks); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	recipient, ok := f.addresses[username]
	if !ok {
		f.mu.Unlock()
		return nil, revert("Recipient not registered")
	}
	r, err := f.send(signer.Address(), recipient, amt, remarks)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f.deliver(r)
	return r, nil
}

func (f *FakeClient) send(from, to common.Address, amt, remarks string) (*Receipt, error) {
	wei, err := payment(amt)
	if err != nil {
		return nil, err
	}
	id := f.newID("transfer", from)
	t := &Transfer{
		ID:        id,
		Sender:    from,
		Recipient: to,
		Amount:    amount.FromWei(wei),
		Timestamp: f.now().Unix(),
		Status:    TransferPending,
		Remarks:   remarks,
	}
	f.transfers[id] = t
	f.pending[to] = append(f.pending[to], id)
	if from != to {
		f.pending[from] = append(f.pending[from], id)
	}
	f.profile(from).TransferIDs = append(f.profile(from).TransferIDs, id)
	if from != to {
		f.profile(to).TransferIDs = append(f.profile(to).TransferIDs, id)
	}
	return f.receipt("send", Event{
		Type:      EventTransferInitiated,
		ID:        id,
		Sender:    addr(from),
		Recipient: addr(to),
		Amount:    t.Amount,
		Remarks:   remarks,
	}), nil
}

func (f *FakeClient) dropPending(t *Transfer) {
	for _, a := range []common.Address{t.Sender, t.Recipient} {
		ids := f.pending[a][:0]
		for _, id := range f.pending[a] {
			if id != t.ID {
				ids = append(ids, id)
			}
		}
		f.pending[a] = ids
	}
}

func (f *FakeClient) claim(claimer common.Address, match func(*Transfer) bool) (*Receipt, error) {
	for _, id := range f.pending[claimer] {
		t := f.transfers[id]
		if t.Recipient != claimer || !match(t) {
			continue
		}
		t.Status = TransferClaimed
		f.dropPending(t)
		return f.receipt("claim", Event{
			Type:      EventTransferClaimed,
			ID:        t.ID,
			Recipient: addr(claimer),
			Amount:    t.Amount,
		}), nil
	}
	return nil, revert("No pending transfer")
}

func (f *FakeClient) ClaimTransferByAddress(_ context.Context, signer Signer, sender common.Address) (*Receipt, error) {
	f.mu.Lock()
	if err := f.begin("ClaimTransferByAddress", signer, sender); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	r, err := f.claim(signer.Address(), func(t *Transfer) bool { return t.Sender == sender })
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f.deliver(r)
	return r, nil
}

func (f *FakeClient) ClaimTransferByUsername(_ context.Context, signer Signer, sender string) (*Receipt, error) {
	f.mu.Lock()
	if err := f.begin("ClaimTransferByUsername", signer, sender); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	from, ok := f.addresses[sender]
	if !ok {
		f.mu.Unlock()
		return nil, revert("Sender not registered")
	}
	r, err := f.claim(signer.Address(), func(t *Transfer) bool { return t.Sender == from })
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f.deliver(r)
	return r, nil
}

func (f *FakeClient) ClaimTransferByID(_ context.Context, signer Signer, id WireID) (*Receipt, error) {
	f.mu.Lock()
	if err := f.begin("ClaimTransferByID", signer, id); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	r, err := f.claim(signer.Address(), func(t *Transfer) bool { return t.ID == id })
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f.deliver(r)
	return r, nil
}

func (f *FakeClient) RefundTransfer(_ context.Context, signer Signer, id WireID) (*Receipt, error) {
	f.mu.Lock()
	if err := f.begin("RefundTransfer", signer, id); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	t, ok := f.transfers[id]
	switch {
	case !ok:
		f.mu.Unlock()
		return nil, revert("Transfer does not exist")
	case t.Sender != signer.Address():
		f.mu.Unlock()
		return nil, revert("Only sender can refund")
	case t.Status != TransferPending:
		f.mu.Unlock()
		return nil, revert("Transfer not pending")
	}
	t.Status = TransferRefunded
	f.dropPending(t)
	r := f.receipt("RefundTransfer", Event{Type: EventTransferRefunded, ID: id, Sender: addr(t.Sender), Amount: t.Amount})
	f.mu.Unlock()
	f.deliver(r)
	return r, nil
}

func (f *FakeClient) CreateGroupPayment(_ context.Context, signer Signer, recipient common.Address, numParticipants uint64, totalAmount, remarks string) (*Receipt, error) {
	f.mu.Lock()
	if err := f.begin("CreateGroupPayment", signer, recipient, numParticipants, totalAmount, remarks); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if numParticipants < MinParticipants {
		f.mu.Unlock()
		return nil, invalidInput(fmt.Sprintf("a group payment needs at least %d participants", MinParticipants))
	}
	total, err := payment(totalAmount)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	from := signer.Address()
	id := f.newID("group", from)
	perPerson := new(big.Int).Div(total, new(big.Int).SetUint64(numParticipants))
	f.groupPayments[id] = &GroupPayment{
		ID:              id,
		Creator:         from,
		Recipient:       recipient,
		TotalAmount:     amount.FromWei(total),
		AmountPerPerson: amount.FromWei(perPerson),
		NumParticipants: numParticipants,
		AmountCollected: amount.FromWei(new(big.Int)),
		Timestamp:       f.now().Unix(),
		Status:          GroupPaymentPending,
		Remarks:         remarks,
	}
	f.contributions[id] = map[common.Address]*big.Int{}
	f.profile(from).GroupPaymentIDs = append(f.profile(from).GroupPaymentIDs, id)
	r := f.receipt("CreateGroupPayment", Event{
		Type:            EventGroupPaymentCreated,
		ID:              id,
		Creator:         addr(from),
		Recipient:       addr(recipient),
		Amount:          amount.FromWei(total),
		NumParticipants: numParticipants,
		Remarks:         remarks,
	})
	f.mu.Unlock()
	f.deliver(r)
	return r, nil
}

func (f *FakeClient) ContributeToGroupPayment(_ context.Context, signer Signer, id WireID, amt string) (*Receipt, error) {
	f.mu.Lock()
	if err := f.begin("ContributeToGroupPayment", signer, id, amt); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	value, err := payment(amt)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	g, ok := f.groupPayments[id]
	if !ok || g.Status != GroupPaymentPending {
		f.mu.Unlock()
		return nil, revert("Group payment not active")
	}
	from := signer.Address()
	if _, done := f.contributions[id][from]; done {
		f.mu.Unlock()
		return nil, revert("Already contributed")
	}
	f.contributions[id][from] = value
	collected, _ := amount.ToWei(g.AmountCollected)
	collected.Add(collected, value)
	g.AmountCollected = amount.FromWei(collected)
	f.profile(from).ParticipatedGroupPaymentIDs = append(f.profile(from).ParticipatedGroupPaymentIDs, id)

	events := []Event{{Type: EventGroupPaymentContributed, ID: id, Contributor: addr(from), Amount: amount.FromWei(value)}}
	total, _ := amount.ToWei(g.TotalAmount)
	if collected.Cmp(total) >= 0 {
		g.Status = GroupPaymentCompleted
		events = append(events, Event{Type: EventGroupPaymentCompleted, ID: id, Recipient: addr(g.Recipient), Amount: g.AmountCollected})
	}
	r := f.receipt("ContributeToGroupPayment", events...)
	f.mu.Unlock()
	f.deliver(r)
	return r, nil
}

func (f *FakeClient) CreateSavingsPot(_ context.Context, signer Signer, name, targetAmount, remarks string) (*Receipt, error) {
	f.mu.Lock()
	if err := f.begin("CreateSavingsPot", signer, name, targetAmount, remarks); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	target, err := payment(targetAmount)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	from := signer.Address()
	id := f.newID("pot", from)
	f.pots[id] = &SavingsPot{
		ID:            id,
		Owner:         from,
		Name:          name,
		TargetAmount:  amount.FromWei(target),
		CurrentAmount: amount.FromWei(new(big.Int)),
		Timestamp:     f.now().Unix(),
		Status:        PotActive,
		Remarks:       remarks,
	}
	f.profile(from).SavingsPotIDs = append(f.profile(from).SavingsPotIDs, id)
	r := f.receipt("CreateSavingsPot", Event{
		Type:    EventSavingsPotCreated,
		ID:      id,
		Owner:   addr(from),
		Name:    name,
		Amount:  amount.FromWei(target),
		Remarks: remarks,
	})
	f.mu.Unlock()
	f.deliver(r)
	return r, nil
}

func (f *FakeClient) ContributeToSavingsPot(_ context.Context, signer Signer, id WireID, amt string) (*Receipt, error) {
	f.mu.Lock()
	if err := f.begin("ContributeToSavingsPot", signer, id, amt); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	value, err := payment(amt)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	p, ok := f.pots[id]
	if !ok || p.Status != PotActive {
		f.mu.Unlock()
		return nil, revert("Pot not active")
	}
	if p.Owner != signer.Address() {
		f.mu.Unlock()
		return nil, revert("Only owner can contribute")
	}
	current, _ := amount.ToWei(p.CurrentAmount)
	p.CurrentAmount = amount.FromWei(current.Add(current, value))
	r := f.receipt("ContributeToSavingsPot", Event{Type: EventPotContribution, ID: id, Contributor: addr(p.Owner), Amount: amount.FromWei(value)})
	f.mu.Unlock()
	f.deliver(r)
	return r, nil
}

func (f *FakeClient) BreakPot(_ context.Context, signer Signer, id WireID) (*Receipt, error) {
	f.mu.Lock()
	if err := f.begin("BreakPot", signer, id); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	p, ok := f.pots[id]
	if !ok || p.Status != PotActive {
		f.mu.Unlock()
		return nil, revert("Pot not active")
	}
	if p.Owner != signer.Address() {
		f.mu.Unlock()
		return nil, revert("Only owner can break pot")
	}
	p.Status = PotBroken
	r := f.receipt("BreakPot", Event{Type: EventPotBroken, ID: id, Owner: addr(p.Owner), Amount: p.CurrentAmount})
	f.mu.Unlock()
	f.deliver(r)
	return r, nil
}

func (f *FakeClient) GetUserProfile(_ context.Context, signer Signer, user common.Address) (*UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetUserProfile", signer, user); err != nil {
		return nil, err
	}
	p, ok := f.profiles[user]
	if !ok {
		return &UserProfile{}, nil
	}
	cp := UserProfile{
		Username:                    p.Username,
		TransferIDs:                 append([]WireID(nil), p.TransferIDs...),
		GroupPaymentIDs:             append([]WireID(nil), p.GroupPaymentIDs...),
		ParticipatedGroupPaymentIDs: append([]WireID(nil), p.ParticipatedGroupPaymentIDs...),
		SavingsPotIDs:               append([]WireID(nil), p.SavingsPotIDs...),
	}
	return &cp, nil
}

func (f *FakeClient) GetUserByAddress(_ context.Context, signer Signer, user common.Address) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetUserByAddress", signer, user); err != nil {
		return "", err
	}
	return f.usernames[user], nil
}

func (f *FakeClient) GetUserByUsername(_ context.Context, signer Signer, username string) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetUserByUsername", signer, username); err != nil {
		return common.Address{}, err
	}
	return f.addresses[username], nil
}

func (f *FakeClient) GetTransferDetails(_ context.Context, signer Signer, id WireID) (*Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetTransferDetails", signer, id); err != nil {
		return nil, err
	}
	t, ok := f.transfers[id]
	if !ok {
		return nil, revert("Transfer does not exist")
	}
	cp := *t
	return &cp, nil
}

func (f *FakeClient) GetGroupPaymentDetails(_ context.Context, signer Signer, id WireID) (*GroupPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetGroupPaymentDetails", signer, id); err != nil {
		return nil, err
	}
	g, ok := f.groupPayments[id]
	if !ok {
		return nil, revert("Group payment does not exist")
	}
	cp := *g
	return &cp, nil
}

func (f *FakeClient) GetSavingsPotDetails(_ context.Context, signer Signer, id WireID) (*SavingsPot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetSavingsPotDetails", signer, id); err != nil {
		return nil, err
	}
	p, ok := f.pots[id]
	if !ok {
		return nil, revert("Pot does not exist")
	}
	cp := *p
	return &cp, nil
}

func (f *FakeClient) GetPendingTransfers(_ context.Context, signer Signer, user common.Address) ([]WireID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetPendingTransfers", signer, user); err != nil {
		return nil, err
	}
	return append([]WireID{}, f.pending[user]...), nil
}

func (f *FakeClient) GetUserTransfers(_ context.Context, signer Signer, user common.Address) ([]Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetUserTransfers", signer, user); err != nil {
		return nil, err
	}
	out := []Transfer{}
	if p, ok := f.profiles[user]; ok {
		for _, id := range p.TransferIDs {
			t := *f.transfers[id]
			t.ID = WireID{}
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *FakeClient) GetGroupPaymentContribution(_ context.Context, signer Signer, id WireID, user common.Address) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetGroupPaymentContribution", signer, id, user); err != nil {
		return "", err
	}
	return amount.FromWei(f.contributions[id][user]), nil
}

func (f *FakeClient) HasContributedToGroupPayment(_ context.Context, signer Signer, id WireID, user common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("HasContributedToGroupPayment", signer, id, user); err != nil {
		return false, err
	}
	_, ok := f.contributions[id][user]
	return ok, nil
}

func (f *FakeClient) SubscribeEvents(_ context.Context, handler func(Event)) (event.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors["SubscribeEvents"]; err != nil {
		return nil, err
	}
	id := f.nextSub
	f.nextSub++
	drop := make(chan error, 1)
	f.handlers[id] = handler
	f.drops[id] = drop
	return event.NewSubscription(func(quit <-chan struct{}) error {
		var err error
		select {
		case <-quit:
		case err = <-drop:
		}
		f.mu.Lock()
		delete(f.handlers, id)
		delete(f.drops, id)
		f.mu.Unlock()
		return err
	}), nil
}

// DropSubscriptions ends every current subscription with err, the way a
// lost node connection does.
func (f *FakeClient) DropSubscriptions(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, drop := range f.drops {
		select {
		case drop <- err:
		default:
		}
	}
}

// Ping fails when Errors["Ping"] is set.
func (f *FakeClient) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Errors["Ping"]
}

var (
	_ Client        = (*FakeClient)(nil)
	_ HealthChecker = (*FakeClient)(nil)
	_ Client        = (*EthClient)(nil)
	_ HealthChecker = (*EthClient)(nil)
)
