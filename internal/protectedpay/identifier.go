package protectedpay

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ClaimKind selects the contract method used to claim a transfer.
type ClaimKind int

const (
	ClaimByID ClaimKind = iota + 1
	ClaimByAddress
	ClaimByUsername
)

func (k ClaimKind) String() string {
	switch k {
	case ClaimByID:
		return "id"
	case ClaimByAddress:
		return "address"
	case ClaimByUsername:
		return "username"
	}
	return "unknown"
}

// ClaimTarget is a parsed claim identifier. Exactly one of ID, Address or
// Username is meaningful, according to Kind.
type ClaimTarget struct {
	Kind     ClaimKind
	ID       WireID
	Address  common.Address
	Username string
}

// ParseClaimIdentifier classifies free-form input by shape: a 32-byte hex
// value claims by id, anything else starting with 0x claims by sender
// address, and everything else claims by sender username. It never fails;
// the contract decides whether the target exists.
func ParseClaimIdentifier(input string) ClaimTarget {
	if id, err := ParseWireID(input); err == nil {
		return ClaimTarget{Kind: ClaimByID, ID: id}
	}
	if strings.HasPrefix(input, "0x") {
		return ClaimTarget{Kind: ClaimByAddress, Address: common.HexToAddress(input)}
	}
	return ClaimTarget{Kind: ClaimByUsername, Username: input}
}

// ClaimTransfer parses identifier and invokes the matching claim method.
func ClaimTransfer(ctx context.Context, c Client, signer Signer, identifier string) (ClaimTarget, *Receipt, error) {
	target := ParseClaimIdentifier(identifier)
	var (
		receipt *Receipt
		err     error
	)
	switch target.Kind {
	case ClaimByID:
		receipt, err = c.ClaimTransferByID(ctx, signer, target.ID)
	case ClaimByAddress:
		receipt, err = c.ClaimTransferByAddress(ctx, signer, target.Address)
	case ClaimByUsername:
		receipt, err = c.ClaimTransferByUsername(ctx, signer, target.Username)
	default:
		panic(fmt.Sprintf("unhandled claim kind %d", target.Kind))
	}
	return target, receipt, err
}

// RecipientKind selects the contract method used to send a transfer.
type RecipientKind int

const (
	RecipientAddress RecipientKind = iota + 1
	RecipientUsername
)

// Recipient is a parsed send target.
type Recipient struct {
	Kind     RecipientKind
	Address  common.Address
	Username string
}

// ParseRecipient treats input starting with 0x as an address and anything
// else as a username. Unlike claims, a malformed address is rejected because
// the call carries value.
func ParseRecipient(input string) (Recipient, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Recipient{}, invalidInput("recipient is required")
	}
	if strings.HasPrefix(input, "0x") {
		if !common.IsHexAddress(input) {
			return Recipient{}, invalidInput(fmt.Sprintf("invalid recipient address %q", input))
		}
		return Recipient{Kind: RecipientAddress, Address: common.HexToAddress(input)}, nil
	}
	return Recipient{Kind: RecipientUsername, Username: input}, nil
}

// Send parses recipient and invokes sendToAddress or sendToUsername.
func Send(ctx context.Context, c Client, signer Signer, recipient, amount, remarks string) (*Receipt, error) {
	target, err := ParseRecipient(recipient)
	if err != nil {
		return nil, err
	}
	switch target.Kind {
	case RecipientAddress:
		return c.SendToAddress(ctx, signer, target.Address, amount, remarks)
	case RecipientUsername:
		return c.SendToUsername(ctx, signer, target.Username, amount, remarks)
	}
	panic(fmt.Sprintf("unhandled recipient kind %d", target.Kind))
}
