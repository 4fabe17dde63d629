package amount

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []string{
		"0",
		"0.000000000000000001",
		"1",
		"0.25",
		"10.5",
		"120000000",
		"120000000.123456789012345678",
	}
	for _, in := range cases {
		t.Run(in, func(t *testing.T) {
			wei, err := ToWei(in)
			require.NoError(t, err)
			back, err := ToWei(FromWei(wei))
			require.NoError(t, err)
			require.Zero(t, wei.Cmp(back), "round trip of %s gave %s", in, FromWei(wei))
		})
	}
}

func TestFromWeiCanonicalForm(t *testing.T) {
	oneEther, _ := new(big.Int).SetString("1000000000000000000", 10)
	require.Equal(t, "1.0", FromWei(oneEther))
	require.Equal(t, "0.0", FromWei(big.NewInt(0)))
	require.Equal(t, "0.0", FromWei(nil))
	require.Equal(t, "0.000000000000000001", FromWei(big.NewInt(1)))

	half, _ := new(big.Int).SetString("1500000000000000000", 10)
	require.Equal(t, "1.5", FromWei(half))
}

func TestToWeiExact(t *testing.T) {
	wei, err := ToWei("120000000.123456789012345678")
	require.NoError(t, err)
	require.Equal(t, "120000000123456789012345678", wei.String())

	wei, err = ToWei(".5")
	require.NoError(t, err)
	require.Equal(t, "500000000000000000", wei.String())

	wei, err = ToWei("2.")
	require.NoError(t, err)
	require.Equal(t, "2000000000000000000", wei.String())
}

func TestToWeiRejects(t *testing.T) {
	_, err := ToWei("")
	require.ErrorIs(t, err, ErrEmpty)

	for _, in := range []string{"-1", "1e18", "abc", "1.2.3", "0x10", " . "} {
		_, err := ToWei(in)
		require.ErrorIs(t, err, ErrMalformed, in)
	}

	_, err = ToWei("0.0000000000000000001")
	require.ErrorIs(t, err, ErrTooPrecise)

	_, err = ToPositiveWei("0")
	require.ErrorIs(t, err, ErrNotPositive)
	_, err = ToPositiveWei("0.000")
	require.ErrorIs(t, err, ErrNotPositive)
}

func TestProgress(t *testing.T) {
	p, err := Progress("0", "10.0")
	require.NoError(t, err)
	require.Equal(t, 0.0, p)

	p, err = Progress("10.0", "10.0")
	require.NoError(t, err)
	require.Equal(t, 1.0, p)

	p, err = Progress("2.0", "10.0")
	require.NoError(t, err)
	require.InDelta(t, 0.2, p, 1e-12)

	p, err = Progress("5", "0")
	require.NoError(t, err)
	require.Equal(t, 0.0, p)

	p, err = Progress("12", "10")
	require.NoError(t, err)
	require.Equal(t, 1.0, p)

	_, err = Progress("x", "10")
	require.Error(t, err)
}
