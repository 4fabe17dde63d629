package protectedpay

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// Signer is an authenticated identity able to authorize transactions.
// TransactOpts must return a fresh copy bound to ctx, or nil when the
// signer can no longer sign.
type Signer interface {
	Address() common.Address
	ChainID() *big.Int
	TransactOpts(ctx context.Context) *bind.TransactOpts
}

// Backend is the node connection the client needs. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client is typed, unit-correct access to every ProtectedPay method. Writes
// return only after the transaction is included in a block; reads never
// cache. Amounts are decimal strings in native units.
type Client interface {
	RegisterUsername(ctx context.Context, signer Signer, username string) (*Receipt, error)
	SendToAddress(ctx context.Context, signer Signer, recipient common.Address, amount, remarks string) (*Receipt, error)
	SendToUsername(ctx context.Context, signer Signer, username, amount, remarks string) (*Receipt, error)
	ClaimTransferByAddress(ctx context.Context, signer Signer, sender common.Address) (*Receipt, error)
	ClaimTransferByUsername(ctx context.Context, signer Signer, sender string) (*Receipt, error)
	ClaimTransferByID(ctx context.Context, signer Signer, id WireID) (*Receipt, error)
	RefundTransfer(ctx context.Context, signer Signer, id WireID) (*Receipt, error)
	CreateGroupPayment(ctx context.Context, signer Signer, recipient common.Address, numParticipants uint64, totalAmount, remarks string) (*Receipt, error)
	ContributeToGroupPayment(ctx context.Context, signer Signer, id WireID, amount string) (*Receipt, error)
	CreateSavingsPot(ctx context.Context, signer Signer, name, targetAmount, remarks string) (*Receipt, error)
	ContributeToSavingsPot(ctx context.Context, signer Signer, id WireID, amount string) (*Receipt, error)
	BreakPot(ctx context.Context, signer Signer, id WireID) (*Receipt, error)

	GetUserProfile(ctx context.Context, signer Signer, user common.Address) (*UserProfile, error)
	GetUserByAddress(ctx context.Context, signer Signer, user common.Address) (string, error)
	GetUserByUsername(ctx context.Context, signer Signer, username string) (common.Address, error)
	GetTransferDetails(ctx context.Context, signer Signer, id WireID) (*Transfer, error)
	GetGroupPaymentDetails(ctx context.Context, signer Signer, id WireID) (*GroupPayment, error)
	GetSavingsPotDetails(ctx context.Context, signer Signer, id WireID) (*SavingsPot, error)
	GetPendingTransfers(ctx context.Context, signer Signer, user common.Address) ([]WireID, error)
	GetUserTransfers(ctx context.Context, signer Signer, user common.Address) ([]Transfer, error)
	GetGroupPaymentContribution(ctx context.Context, signer Signer, id WireID, user common.Address) (string, error)
	HasContributedToGroupPayment(ctx context.Context, signer Signer, id WireID, user common.Address) (bool, error)

	// SubscribeEvents delivers every contract event to handler, one at a
	// time and in delivery order, until the subscription is unsubscribed or
	// fails. A failure is sent on the subscription's Err channel.
	SubscribeEvents(ctx context.Context, handler func(Event)) (event.Subscription, error)
}

// HealthChecker is implemented by clients that can ping their node.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
