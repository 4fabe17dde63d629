package protectedpay

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Kind classifies a client error.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindNotConnected
	KindChainMismatch
	KindUserRejected
	KindInsufficientFunds
	KindReverted
	KindTransactionFailed
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotConnected:
		return "not_connected"
	case KindChainMismatch:
		return "chain_mismatch"
	case KindUserRejected:
		return "user_rejected"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindReverted:
		return "reverted"
	case KindTransactionFailed:
		return "transaction_failed"
	case KindUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// Error is the only error type returned by the client. Message is meant for
// humans; provider errors are logged, never carried.
type Error struct {
	Kind    Kind
	Message string
	// Reason is the contract revert reason, when the node reported one.
	Reason string
	// TxHash is set when the failure happened after broadcast.
	TxHash string
}

func (e *Error) Error() string { return e.Message }

// Is matches on Kind, so errors.Is(err, ErrReverted) holds for any revert.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidInput      = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrNotConnected      = &Error{Kind: KindNotConnected, Message: "wallet is not connected"}
	ErrChainMismatch     = &Error{Kind: KindChainMismatch, Message: "wallet is connected to the wrong network"}
	ErrUserRejected      = &Error{Kind: KindUserRejected, Message: "Transaction was rejected"}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds, Message: "Insufficient funds for transaction"}
	ErrReverted          = &Error{Kind: KindReverted, Message: "transaction reverted"}
	ErrTransactionFailed = &Error{Kind: KindTransactionFailed, Message: "transaction failed"}
	ErrUnavailable       = &Error{Kind: KindUnavailable, Message: "network unavailable"}
)

// userRejectedCode is the EIP-1193 code for a declined wallet prompt.
const userRejectedCode = 4001

func invalidInput(msg string) *Error {
	return &Error{Kind: KindInvalidInput, Message: msg}
}

// normalizeError maps a provider, node or binding error to an *Error.
// fallback is used as the message when nothing more specific is known.
func normalizeError(err error, fallback string) *Error {
	if err == nil {
		return nil
	}
	var own *Error
	if errors.As(err, &own) {
		cp := *own
		return &cp
	}
	if isUserRejection(err) {
		return &Error{Kind: KindUserRejected, Message: ErrUserRejected.Message}
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "insufficient funds") {
		return &Error{Kind: KindInsufficientFunds, Message: ErrInsufficientFunds.Message}
	}
	if reason, ok := revertReason(err); ok {
		return reverted(reason)
	}
	if strings.Contains(lower, "execution reverted") {
		return reverted("")
	}
	if errors.Is(err, bind.ErrNoCode) {
		return &Error{Kind: KindUnavailable, Message: "no contract deployed at the configured address on this network"}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindUnavailable, Message: fallback + ": request timed out"}
	}
	return &Error{Kind: KindTransactionFailed, Message: fallback}
}

func reverted(reason string) *Error {
	if reason == "" {
		return &Error{Kind: KindReverted, Message: ErrReverted.Message}
	}
	return &Error{Kind: KindReverted, Message: "transaction reverted: " + reason, Reason: reason}
}

func isUserRejection(err error) bool {
	var coded rpc.Error
	if errors.As(err, &coded) && coded.ErrorCode() == userRejectedCode {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "user rejected") || strings.Contains(lower, "user denied")
}

// revertReason extracts an Error(string) reason from RPC error data, falling
// back to the "execution reverted: <reason>" message form.
func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if encoded, ok := dataErr.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(encoded); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason, true
				}
			}
		}
	}
	const marker = "execution reverted: "
	msg := err.Error()
	if i := strings.Index(msg, marker); i >= 0 {
		if reason := strings.TrimSpace(msg[i+len(marker):]); reason != "" {
			return reason, true
		}
	}
	return "", false
}
