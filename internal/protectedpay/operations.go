package protectedpay

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"protectedpay/internal/amount"
	"protectedpay/internal/contracts"
)

func payment(s string) (*big.Int, error) {
	wei, err := amount.ToPositiveWei(s)
	if err != nil {
		return nil, invalidInput(fmt.Sprintf("invalid amount: %v", err))
	}
	return wei, nil
}

func requireText(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", invalidInput(field + " is required")
	}
	return value, nil
}

func (c *EthClient) RegisterUsername(ctx context.Context, signer Signer, username string) (*Receipt, error) {
	username, err := requireText("username", username)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, signer, contracts.MethodRegisterUsername, nil, username)
}

func (c *EthClient) SendToAddress(ctx context.Context, signer Signer, recipient common.Address, amt, remarks string) (*Receipt, error) {
	if recipient == (common.Address{}) {
		return nil, invalidInput("recipient address is required")
	}
	value, err := payment(amt)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, signer, contracts.MethodSendToAddress, value, recipient, remarks)
}

func (c *EthClient) SendToUsername(ctx context.Context, signer Signer, username, amt, remarks string) (*Receipt, error) {
	username, err := requireText("recipient username", username)
	if err != nil {
		return nil, err
	}
	value, err := payment(amt)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, signer, contracts.MethodSendToUsername, value, username, remarks)
}

func (c *EthClient) ClaimTransferByAddress(ctx context.Context, signer Signer, sender common.Address) (*Receipt, error) {
	return c.transact(ctx, signer, contracts.MethodClaimTransferByAddress, nil, sender)
}

func (c *EthClient) ClaimTransferByUsername(ctx context.Context, signer Signer, sender string) (*Receipt, error) {
	return c.transact(ctx, signer, contracts.MethodClaimTransferByUsername, nil, sender)
}

func (c *EthClient) ClaimTransferByID(ctx context.Context, signer Signer, id WireID) (*Receipt, error) {
	return c.transact(ctx, signer, contracts.MethodClaimTransferByID, nil, [32]byte(id))
}

// RefundTransfer succeeds only for the original sender of a pending
// transfer; the contract enforces both.
func (c *EthClient) RefundTransfer(ctx context.Context, signer Signer, id WireID) (*Receipt, error) {
	return c.transact(ctx, signer, contracts.MethodRefundTransfer, nil, [32]byte(id))
}

// CreateGroupPayment deposits totalAmount up front; how it is split across
// participants is decided on-chain.
func (c *EthClient) CreateGroupPayment(ctx context.Context, signer Signer, recipient common.Address, numParticipants uint64, totalAmount, remarks string) (*Receipt, error) {
	if recipient == (common.Address{}) {
		return nil, invalidInput("recipient address is required")
	}
	if numParticipants < MinParticipants {
		return nil, invalidInput(fmt.Sprintf("a group payment needs at least %d participants", MinParticipants))
	}
	value, err := payment(totalAmount)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, signer, contracts.MethodCreateGroupPayment, value,
		recipient, new(big.Int).SetUint64(numParticipants), remarks)
}

func (c *EthClient) ContributeToGroupPayment(ctx context.Context, signer Signer, id WireID, amt string) (*Receipt, error) {
	value, err := payment(amt)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, signer, contracts.MethodContributeToGroupPayment, value, [32]byte(id))
}

// CreateSavingsPot records a target; it does not deposit anything.
func (c *EthClient) CreateSavingsPot(ctx context.Context, signer Signer, name, targetAmount, remarks string) (*Receipt, error) {
	name, err := requireText("pot name", name)
	if err != nil {
		return nil, err
	}
	target, err := payment(targetAmount)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, signer, contracts.MethodCreateSavingsPot, nil, name, target, remarks)
}

func (c *EthClient) ContributeToSavingsPot(ctx context.Context, signer Signer, id WireID, amt string) (*Receipt, error) {
	value, err := payment(amt)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, signer, contracts.MethodContributeToSavingsPot, value, [32]byte(id))
}

func (c *EthClient) BreakPot(ctx context.Context, signer Signer, id WireID) (*Receipt, error) {
	return c.transact(ctx, signer, contracts.MethodBreakPot, nil, [32]byte(id))
}

func (c *EthClient) GetUserProfile(ctx context.Context, signer Signer, user common.Address) (*UserProfile, error) {
	var raw contracts.UserProfile
	out := []interface{}{&raw}
	if err := c.call(ctx, signer, contracts.MethodGetUserProfile, &out, user); err != nil {
		return nil, err
	}
	profile := decodeProfile(raw)
	return &profile, nil
}

func (c *EthClient) GetUserByAddress(ctx context.Context, signer Signer, user common.Address) (string, error) {
	var out []interface{}
	if err := c.call(ctx, signer, contracts.MethodGetUserByAddress, &out, user); err != nil {
		return "", err
	}
	v, err := single(contracts.MethodGetUserByAddress, out)
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(v, new(string)).(*string), nil
}

func (c *EthClient) GetUserByUsername(ctx context.Context, signer Signer, username string) (common.Address, error) {
	var out []interface{}
	if err := c.call(ctx, signer, contracts.MethodGetUserByUsername, &out, username); err != nil {
		return common.Address{}, err
	}
	v, err := single(contracts.MethodGetUserByUsername, out)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(v, new(common.Address)).(*common.Address), nil
}

func (c *EthClient) GetTransferDetails(ctx context.Context, signer Signer, id WireID) (*Transfer, error) {
	var raw contracts.TransferDetails
	out := []interface{}{&raw}
	if err := c.call(ctx, signer, contracts.MethodGetTransferDetails, &out, [32]byte(id)); err != nil {
		return nil, err
	}
	t := decodeTransfer(id, raw)
	return &t, nil
}

func (c *EthClient) GetGroupPaymentDetails(ctx context.Context, signer Signer, id WireID) (*GroupPayment, error) {
	var raw contracts.GroupPaymentDetails
	out := []interface{}{&raw}
	if err := c.call(ctx, signer, contracts.MethodGetGroupPaymentDetails, &out, [32]byte(id)); err != nil {
		return nil, err
	}
	g := decodeGroupPayment(id, raw)
	return &g, nil
}

func (c *EthClient) GetSavingsPotDetails(ctx context.Context, signer Signer, id WireID) (*SavingsPot, error) {
	var raw contracts.SavingsPotDetails
	out := []interface{}{&raw}
	if err := c.call(ctx, signer, contracts.MethodGetSavingsPotDetails, &out, [32]byte(id)); err != nil {
		return nil, err
	}
	p := decodeSavingsPot(id, raw)
	return &p, nil
}

// GetPendingTransfers returns ids in contract order.
func (c *EthClient) GetPendingTransfers(ctx context.Context, signer Signer, user common.Address) ([]WireID, error) {
	var out []interface{}
	if err := c.call(ctx, signer, contracts.MethodGetPendingTransfers, &out, user); err != nil {
		return nil, err
	}
	v, err := single(contracts.MethodGetPendingTransfers, out)
	if err != nil {
		return nil, err
	}
	return wireIDs(*abi.ConvertType(v, new([][32]byte)).(*[][32]byte)), nil
}

// GetUserTransfers returns full transfer records without ids; the contract
// does not include them in this tuple.
func (c *EthClient) GetUserTransfers(ctx context.Context, signer Signer, user common.Address) ([]Transfer, error) {
	var out []interface{}
	if err := c.call(ctx, signer, contracts.MethodGetUserTransfers, &out, user); err != nil {
		return nil, err
	}
	v, err := single(contracts.MethodGetUserTransfers, out)
	if err != nil {
		return nil, err
	}
	raw := *abi.ConvertType(v, new([]contracts.TransferDetails)).(*[]contracts.TransferDetails)
	transfers := make([]Transfer, len(raw))
	for i, r := range raw {
		transfers[i] = decodeTransfer(WireID{}, r)
	}
	return transfers, nil
}

func (c *EthClient) GetGroupPaymentContribution(ctx context.Context, signer Signer, id WireID, user common.Address) (string, error) {
	var out []interface{}
	if err := c.call(ctx, signer, contracts.MethodGetGroupPaymentContribution, &out, [32]byte(id), user); err != nil {
		return "", err
	}
	v, err := single(contracts.MethodGetGroupPaymentContribution, out)
	if err != nil {
		return "", err
	}
	return amount.FromWei(*abi.ConvertType(v, new(*big.Int)).(**big.Int)), nil
}

func (c *EthClient) HasContributedToGroupPayment(ctx context.Context, signer Signer, id WireID, user common.Address) (bool, error) {
	var out []interface{}
	if err := c.call(ctx, signer, contracts.MethodHasContributedToGroupPayment, &out, [32]byte(id), user); err != nil {
		return false, err
	}
	v, err := single(contracts.MethodHasContributedToGroupPayment, out)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(v, new(bool)).(*bool), nil
}
