package protectedpay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"protectedpay/internal/amount"
	"protectedpay/internal/contracts"
)

type eventDecoder func(bc *bind.BoundContract, lg types.Log) (Event, error)

// eventTable maps each subscribed event to its normalizer.
var eventTable = []struct {
	name   EventType
	decode eventDecoder
}{
	{EventTransferInitiated, func(bc *bind.BoundContract, lg types.Log) (Event, error) {
		var raw contracts.TransferInitiated
		if err := bc.UnpackLog(&raw, contracts.EventTransferInitiated, lg); err != nil {
			return Event{}, err
		}
		return Event{
			ID:        raw.TransferId,
			Sender:    addr(raw.Sender),
			Recipient: addr(raw.Recipient),
			Amount:    amount.FromWei(raw.Amount),
			Remarks:   raw.Remarks,
		}, nil
	}},
	{EventTransferClaimed, func(bc *bind.BoundContract, lg types.Log) (Event, error) {
		var raw contracts.TransferClaimed
		if err := bc.UnpackLog(&raw, contracts.EventTransferClaimed, lg); err != nil {
			return Event{}, err
		}
		return Event{ID: raw.TransferId, Recipient: addr(raw.Recipient), Amount: amount.FromWei(raw.Amount)}, nil
	}},
	{EventTransferRefunded, func(bc *bind.BoundContract, lg types.Log) (Event, error) {
		var raw contracts.TransferRefunded
		if err := bc.UnpackLog(&raw, contracts.EventTransferRefunded, lg); err != nil {
			return Event{}, err
		}
		return Event{ID: raw.TransferId, Sender: addr(raw.Sender), Amount: amount.FromWei(raw.Amount)}, nil
	}},
	{EventGroupPaymentCreated, func(bc *bind.BoundContract, lg types.Log) (Event, error) {
		var raw contracts.GroupPaymentCreated
		if err := bc.UnpackLog(&raw, contracts.EventGroupPaymentCreated, lg); err != nil {
			return Event{}, err
		}
		return Event{
			ID:              raw.PaymentId,
			Creator:         addr(raw.Creator),
			Recipient:       addr(raw.Recipient),
			Amount:          amount.FromWei(raw.TotalAmount),
			NumParticipants: count(raw.NumParticipants),
			Remarks:         raw.Remarks,
		}, nil
	}},
	{EventGroupPaymentContributed, func(bc *bind.BoundContract, lg types.Log) (Event, error) {
		var raw contracts.GroupPaymentContributed
		if err := bc.UnpackLog(&raw, contracts.EventGroupPaymentContributed, lg); err != nil {
			return Event{}, err
		}
		return Event{ID: raw.PaymentId, Contributor: addr(raw.Contributor), Amount: amount.FromWei(raw.Amount)}, nil
	}},
	{EventGroupPaymentCompleted, func(bc *bind.BoundContract, lg types.Log) (Event, error) {
		var raw contracts.GroupPaymentCompleted
		if err := bc.UnpackLog(&raw, contracts.EventGroupPaymentCompleted, lg); err != nil {
			return Event{}, err
		}
		return Event{ID: raw.PaymentId, Recipient: addr(raw.Recipient), Amount: amount.FromWei(raw.Amount)}, nil
	}},
	{EventSavingsPotCreated, func(bc *bind.BoundContract, lg types.Log) (Event, error) {
		var raw contracts.SavingsPotCreated
		if err := bc.UnpackLog(&raw, contracts.EventSavingsPotCreated, lg); err != nil {
			return Event{}, err
		}
		return Event{
			ID:      raw.PotId,
			Owner:   addr(raw.Owner),
			Name:    raw.Name,
			Amount:  amount.FromWei(raw.TargetAmount),
			Remarks: raw.Remarks,
		}, nil
	}},
	{EventPotContribution, func(bc *bind.BoundContract, lg types.Log) (Event, error) {
		var raw contracts.PotContribution
		if err := bc.UnpackLog(&raw, contracts.EventPotContribution, lg); err != nil {
			return Event{}, err
		}
		return Event{ID: raw.PotId, Contributor: addr(raw.Contributor), Amount: amount.FromWei(raw.Amount)}, nil
	}},
	{EventPotBroken, func(bc *bind.BoundContract, lg types.Log) (Event, error) {
		var raw contracts.PotBroken
		if err := bc.UnpackLog(&raw, contracts.EventPotBroken, lg); err != nil {
			return Event{}, err
		}
		return Event{ID: raw.PotId, Owner: addr(raw.Owner), Amount: amount.FromWei(raw.Amount)}, nil
	}},
}

func addr(a common.Address) *common.Address { return &a }

type eventIndex struct {
	ids      []common.Hash
	byTopic  map[common.Hash]EventType
	decoders map[common.Hash]eventDecoder
}

func newEventIndex(parsed abi.ABI) (eventIndex, error) {
	idx := eventIndex{
		byTopic:  make(map[common.Hash]EventType, len(eventTable)),
		decoders: make(map[common.Hash]eventDecoder, len(eventTable)),
	}
	for _, entry := range eventTable {
		ev, ok := parsed.Events[string(entry.name)]
		if !ok {
			return eventIndex{}, fmt.Errorf("abi has no event %s", entry.name)
		}
		idx.ids = append(idx.ids, ev.ID)
		idx.byTopic[ev.ID] = entry.name
		idx.decoders[ev.ID] = entry.decode
	}
	return idx, nil
}

// decodeEvent normalizes one log. ok is false for logs that are not one of
// the subscribed events.
func (c *EthClient) decodeEvent(lg types.Log) (Event, bool, error) {
	if len(lg.Topics) == 0 {
		return Event{}, false, nil
	}
	decode, found := c.events.decoders[lg.Topics[0]]
	if !found {
		return Event{}, false, nil
	}
	ev, err := decode(c.contract, lg)
	if err != nil {
		return Event{}, false, fmt.Errorf("decode %s: %w", c.events.byTopic[lg.Topics[0]], err)
	}
	ev.Type = c.events.byTopic[lg.Topics[0]]
	ev.BlockNumber = lg.BlockNumber
	ev.TxHash = lg.TxHash
	ev.LogIndex = lg.Index
	return ev, true, nil
}

func (c *EthClient) eventQuery(from, to *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{c.events.ids},
	}
}

const (
	// maxPollFailures is how many consecutive failed polls end a polled
	// subscription.
	maxPollFailures = 5
	// methodNotFoundCode is the JSON-RPC code some gateways answer
	// eth_subscribe with.
	methodNotFoundCode = -32601
)

// SubscribeEvents opens one log subscription covering all nine events and
// calls handler from a single goroutine in delivery order. Nodes that cannot
// push logs, such as plain HTTP endpoints, are polled with FilterLogs every
// poll interval starting after the current head. Nothing is buffered for
// replay. A subscription that stops on its own reports why on Err.
func (c *EthClient) SubscribeEvents(ctx context.Context, handler func(Event)) (event.Subscription, error) {
	logs := make(chan types.Log, 64)
	sub, err := c.backend.SubscribeFilterLogs(ctx, c.eventQuery(nil, nil), logs)
	if err != nil && pushUnsupported(err) {
		return c.pollEvents(ctx, handler)
	}
	if err != nil {
		c.logger.Warn("event subscription failed", zap.Error(err))
		return nil, normalizeError(err, "failed to subscribe to contract events")
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case <-quit:
				return nil
			case err := <-sub.Err():
				if err == nil {
					err = errors.New("subscription closed by node")
				}
				c.logger.Warn("event subscription dropped", zap.Error(err))
				return &Error{Kind: KindUnavailable, Message: "event subscription dropped"}
			case lg := <-logs:
				c.deliver(lg, quit, handler)
			}
		}
	}), nil
}

// pollEvents is SubscribeEvents for nodes without log notifications.
func (c *EthClient) pollEvents(ctx context.Context, handler func(Event)) (event.Subscription, error) {
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return nil, normalizeError(err, "failed to subscribe to contract events")
	}
	c.logger.Info("node cannot push logs, polling for contract events",
		zap.Uint64("from_block", head+1), zap.Duration("interval", c.pollInterval))

	next := head + 1
	return event.NewSubscription(func(quit <-chan struct{}) error {
		pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		go func() {
			select {
			case <-quit:
			case <-ctx.Done():
			case <-pollCtx.Done():
			}
			cancel()
		}()

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		failures := 0
		for {
			select {
			case <-quit:
				return nil
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}

			latest, logs, err := c.pollOnce(pollCtx, next)
			if err != nil {
				if pollCtx.Err() != nil {
					return nil
				}
				failures++
				c.logger.Warn("event poll failed", zap.Int("failures", failures), zap.Error(err))
				if failures >= maxPollFailures {
					return &Error{Kind: KindUnavailable, Message: "event polling failed"}
				}
				continue
			}
			failures = 0
			for _, lg := range logs {
				if !c.deliver(lg, quit, handler) {
					return nil
				}
			}
			if latest >= next {
				next = latest + 1
			}
		}
	}), nil
}

// pollOnce fetches the subscribed logs in [from, head].
func (c *EthClient) pollOnce(ctx context.Context, from uint64) (uint64, []types.Log, error) {
	latest, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, nil, err
	}
	if latest < from {
		return latest, nil, nil
	}
	q := c.eventQuery(new(big.Int).SetUint64(from), new(big.Int).SetUint64(latest))
	logs, err := c.backend.FilterLogs(ctx, q)
	if err != nil {
		return 0, nil, err
	}
	return latest, logs, nil
}

// deliver decodes lg and hands it to handler. It reports false once quit is
// closed.
func (c *EthClient) deliver(lg types.Log, quit <-chan struct{}, handler func(Event)) bool {
	if lg.Removed {
		return true
	}
	ev, ok, err := c.decodeEvent(lg)
	if err != nil {
		c.logger.Warn("undecodable event log", zap.Stringer("tx", lg.TxHash), zap.Error(err))
		return true
	}
	if !ok {
		return true
	}
	select {
	case <-quit:
		return false
	default:
	}
	handler(ev)
	return true
}

// pushUnsupported reports whether the node refused eth_subscribe itself.
func pushUnsupported(err error) bool {
	if errors.Is(err, rpc.ErrNotificationsUnsupported) {
		return true
	}
	var coded rpc.Error
	return errors.As(err, &coded) && coded.ErrorCode() == methodNotFoundCode
}

// FilterEvents returns past events between two blocks (nil means genesis or
// latest) in chain order.
func (c *EthClient) FilterEvents(ctx context.Context, from, to *big.Int) ([]Event, error) {
	logs, err := c.backend.FilterLogs(ctx, c.eventQuery(from, to))
	if err != nil {
		return nil, normalizeError(err, "failed to read contract events")
	}
	events := make([]Event, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, ok, err := c.decodeEvent(lg)
		if err != nil {
			c.logger.Warn("undecodable event log", zap.Stringer("tx", lg.TxHash), zap.Error(err))
			continue
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events, nil
}
