// Package wallet owns the signing session: an EIP-1193 shaped Provider, a
// local key-backed implementation of it, and the Manager that turns a
// provider into a connected Session handing out Signers.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Provider request methods.
const (
	MethodRequestAccounts = "eth_requestAccounts"
	MethodAccounts        = "eth_accounts"
	MethodChainID         = "eth_chainId"
	MethodGetBalance      = "eth_getBalance"
	MethodSwitchChain     = "wallet_switchEthereumChain"
	MethodAddChain        = "wallet_addEthereumChain"
)

// Provider notifications.
const (
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
)

// EIP-1193 and EIP-3085 error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeUnrecognizedChain = 4902
	CodeInvalidParams     = -32602
)

// Provider is the boundary to the user's signing environment.
type Provider interface {
	Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)
	// On registers fn for event and returns a function removing it.
	On(event string, fn func(Notification)) (remove func())
	// Transactor returns signing options for an authorized account on the
	// provider's active chain.
	Transactor(ctx context.Context, account common.Address) (*bind.TransactOpts, error)
}

// Notification is delivered to On listeners.
type Notification struct {
	Event    string
	Accounts []common.Address
	ChainID  *big.Int
}

// ProviderError carries an EIP-1193 code. It satisfies rpc.Error.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string  { return fmt.Sprintf("provider error %d: %s", e.Code, e.Message) }
func (e *ProviderError) ErrorCode() int { return e.Code }

// IsUserRejected reports whether err is a declined prompt.
func IsUserRejected(err error) bool {
	return hasCode(err, CodeUserRejected)
}

// IsUnrecognizedChain reports whether err says the wallet does not know the
// requested chain.
func IsUnrecognizedChain(err error) bool {
	return hasCode(err, CodeUnrecognizedChain)
}

func hasCode(err error, code int) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Code == code
}

// NativeCurrency describes a chain's gas token.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// ChainParams is what a wallet needs to register a chain.
type ChainParams struct {
	ChainID        *big.Int
	Name           string
	NativeCurrency NativeCurrency
	RPCURLs        []string
	ExplorerURLs   []string
}

// SwitchChainParams is the wallet_switchEthereumChain argument.
type SwitchChainParams struct {
	ChainID string `json:"chainId"`
}

// AddChainParams is the wallet_addEthereumChain argument.
type AddChainParams struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls"`
}

func (c ChainParams) HexID() string { return hexutil.EncodeBig(c.ChainID) }

func (c ChainParams) AddParams() AddChainParams {
	return AddChainParams{
		ChainID:           c.HexID(),
		ChainName:         c.Name,
		NativeCurrency:    c.NativeCurrency,
		RPCURLs:           c.RPCURLs,
		BlockExplorerURLs: c.ExplorerURLs,
	}
}

func (p AddChainParams) chain() (ChainParams, error) {
	id, err := hexutil.DecodeBig(p.ChainID)
	if err != nil {
		return ChainParams{}, fmt.Errorf("chainId: %w", err)
	}
	return ChainParams{
		ChainID:        id,
		Name:           p.ChainName,
		NativeCurrency: p.NativeCurrency,
		RPCURLs:        p.RPCURLs,
		ExplorerURLs:   p.BlockExplorerURLs,
	}, nil
}
