package protectedpay

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// DefaultReadConcurrency bounds parallel detail reads when no limit is given.
const DefaultReadConcurrency = 8

// ResolvedProfile is a profile with every id list expanded into records.
type ResolvedProfile struct {
	Address                   common.Address `json:"address"`
	Username                  string         `json:"username"`
	Transfers                 []Transfer     `json:"transfers"`
	GroupPayments             []GroupPayment `json:"groupPayments"`
	ParticipatedGroupPayments []GroupPayment `json:"participatedGroupPayments"`
	SavingsPots               []SavingsPot   `json:"savingsPots"`
}

// resolveAll runs fetch for every id with at most limit in flight. out[i]
// always corresponds to ids[i]; an empty ids issues no calls.
func resolveAll[T any](ctx context.Context, ids []WireID, limit int, fetch func(context.Context, WireID) (*T, error)) ([]T, error) {
	out := make([]T, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	if limit <= 0 {
		limit = DefaultReadConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			v, err := fetch(gctx, id)
			if err != nil {
				return err
			}
			out[i] = *v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveTransfers reads the details of each id, preserving order.
func ResolveTransfers(ctx context.Context, c Client, signer Signer, ids []WireID, limit int) ([]Transfer, error) {
	return resolveAll(ctx, ids, limit, func(ctx context.Context, id WireID) (*Transfer, error) {
		return c.GetTransferDetails(ctx, signer, id)
	})
}

func ResolveGroupPayments(ctx context.Context, c Client, signer Signer, ids []WireID, limit int) ([]GroupPayment, error) {
	return resolveAll(ctx, ids, limit, func(ctx context.Context, id WireID) (*GroupPayment, error) {
		return c.GetGroupPaymentDetails(ctx, signer, id)
	})
}

func ResolveSavingsPots(ctx context.Context, c Client, signer Signer, ids []WireID, limit int) ([]SavingsPot, error) {
	return resolveAll(ctx, ids, limit, func(ctx context.Context, id WireID) (*SavingsPot, error) {
		return c.GetSavingsPotDetails(ctx, signer, id)
	})
}

// ResolveProfile fetches the profile of address and expands its four id
// lists. The lists are resolved one after another, each in parallel.
func ResolveProfile(ctx context.Context, c Client, signer Signer, address common.Address, limit int) (*ResolvedProfile, error) {
	profile, err := c.GetUserProfile(ctx, signer, address)
	if err != nil {
		return nil, err
	}
	resolved := &ResolvedProfile{Address: address, Username: profile.Username}
	if resolved.Transfers, err = ResolveTransfers(ctx, c, signer, profile.TransferIDs, limit); err != nil {
		return nil, err
	}
	if resolved.GroupPayments, err = ResolveGroupPayments(ctx, c, signer, profile.GroupPaymentIDs, limit); err != nil {
		return nil, err
	}
	if resolved.ParticipatedGroupPayments, err = ResolveGroupPayments(ctx, c, signer, profile.ParticipatedGroupPaymentIDs, limit); err != nil {
		return nil, err
	}
	if resolved.SavingsPots, err = ResolveSavingsPots(ctx, c, signer, profile.SavingsPotIDs, limit); err != nil {
		return nil, err
	}
	return resolved, nil
}

// PendingTransfers resolves the pending transfer ids of address.
func PendingTransfers(ctx context.Context, c Client, signer Signer, address common.Address, limit int) ([]Transfer, error) {
	ids, err := c.GetPendingTransfers(ctx, signer, address)
	if err != nil {
		return nil, err
	}
	return ResolveTransfers(ctx, c, signer, ids, limit)
}

// RefundableTransfers are the pending transfers of address that it sent
// and may therefore refund.
func RefundableTransfers(ctx context.Context, c Client, signer Signer, address common.Address, limit int) ([]Transfer, error) {
	pending, err := PendingTransfers(ctx, c, signer, address, limit)
	if err != nil {
		return nil, err
	}
	refundable := make([]Transfer, 0, len(pending))
	for _, t := range pending {
		if t.Sender == address && t.Status == TransferPending {
			refundable = append(refundable, t)
		}
	}
	return refundable, nil
}
