package protectedpay

import (
	"fmt"
	"math"
	"math/big"

	"protectedpay/internal/amount"
	"protectedpay/internal/contracts"
)

// One decoder per contract return tuple. Amounts become decimal strings,
// timestamps stay unix seconds and enums pass through unchanged.

func decodeTransfer(id WireID, raw contracts.TransferDetails) Transfer {
	return Transfer{
		ID:        id,
		Sender:    raw.Sender,
		Recipient: raw.Recipient,
		Amount:    amount.FromWei(raw.Amount),
		Timestamp: seconds(raw.Timestamp),
		Status:    TransferStatus(raw.Status),
		Remarks:   raw.Remarks,
	}
}

func decodeGroupPayment(id WireID, raw contracts.GroupPaymentDetails) GroupPayment {
	return GroupPayment{
		ID:              id,
		Creator:         raw.Creator,
		Recipient:       raw.Recipient,
		TotalAmount:     amount.FromWei(raw.TotalAmount),
		AmountPerPerson: amount.FromWei(raw.AmountPerPerson),
		NumParticipants: count(raw.NumParticipants),
		AmountCollected: amount.FromWei(raw.AmountCollected),
		Timestamp:       seconds(raw.Timestamp),
		Status:          GroupPaymentStatus(raw.Status),
		Remarks:         raw.Remarks,
	}
}

func decodeSavingsPot(id WireID, raw contracts.SavingsPotDetails) SavingsPot {
	return SavingsPot{
		ID:            id,
		Owner:         raw.Owner,
		Name:          raw.Name,
		TargetAmount:  amount.FromWei(raw.TargetAmount),
		CurrentAmount: amount.FromWei(raw.CurrentAmount),
		Timestamp:     seconds(raw.Timestamp),
		Status:        PotStatus(raw.Status),
		Remarks:       raw.Remarks,
	}
}

func decodeProfile(raw contracts.UserProfile) UserProfile {
	return UserProfile{
		Username:                    raw.Username,
		TransferIDs:                 wireIDs(raw.TransferIDs),
		GroupPaymentIDs:             wireIDs(raw.GroupPaymentIDs),
		ParticipatedGroupPaymentIDs: wireIDs(raw.ParticipatedGroupPaymentIDs),
		SavingsPotIDs:               wireIDs(raw.SavingsPotIDs),
	}
}

// seconds narrows an on-chain uint256 timestamp; out-of-range values clamp.
func seconds(v *big.Int) int64 {
	if v == nil || v.Sign() < 0 {
		return 0
	}
	if !v.IsInt64() {
		return math.MaxInt64
	}
	return v.Int64()
}

func count(v *big.Int) uint64 {
	if v == nil || v.Sign() < 0 {
		return 0
	}
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}

// single checks that a read returned exactly one value.
func single(method string, out []interface{}) (interface{}, error) {
	if len(out) != 1 {
		return nil, &Error{Kind: KindTransactionFailed, Message: fmt.Sprintf("unexpected %s result: %d values", method, len(out))}
	}
	return out[0], nil
}
