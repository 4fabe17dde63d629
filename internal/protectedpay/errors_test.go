package protectedpay

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/stretchr/testify/require"
)

func TestNormalizeError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"coded rejection", codedError{code: 4001, msg: "nope"}, KindUserRejected},
		{"wrapped rejection", fmt.Errorf("sign: %w", codedError{code: 4001, msg: "nope"}), KindUserRejected},
		{"denied text", errors.New("User denied transaction signature"), KindUserRejected},
		{"funds", errors.New("err: insufficient funds for transfer"), KindInsufficientFunds},
		{"reason text", errors.New("execution reverted: Not owner"), KindReverted},
		{"bare revert", errors.New("execution reverted"), KindReverted},
		{"no code", bind.ErrNoCode, KindUnavailable},
		{"deadline", context.DeadlineExceeded, KindUnavailable},
		{"other", errors.New("connection reset"), KindTransactionFailed},
		{"own", invalidInput("bad"), KindInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeError(tc.err, "failed")
			require.Equal(t, tc.want, got.Kind)
		})
	}
}

func TestNormalizeErrorNeverLeaksProviderText(t *testing.T) {
	got := normalizeError(errors.New("dial tcp 10.0.0.1:8545: connection refused"), "failed to submit sendToAddress")
	require.Equal(t, "failed to submit sendToAddress", got.Error())
}

func TestNormalizeErrorCopiesSentinels(t *testing.T) {
	got := normalizeError(ErrReverted, "x")
	got.TxHash = "0xabc"
	require.Empty(t, ErrReverted.TxHash)
}
