package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Signer is the signing capability of one session.
type Signer struct {
	address  common.Address
	chainID  *big.Int
	provider Provider
}

func (s *Signer) Address() common.Address { return s.address }

// ChainID is the chain the wallet was on when the session was made.
func (s *Signer) ChainID() *big.Int { return new(big.Int).Set(s.chainID) }

// TransactOpts returns nil once the provider no longer authorizes the
// account.
func (s *Signer) TransactOpts(ctx context.Context) *bind.TransactOpts {
	opts, err := s.provider.Transactor(ctx, s.address)
	if err != nil {
		return nil
	}
	return opts
}
