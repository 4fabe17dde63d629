// Package contracts holds the ABI of the deployed ProtectedPay contract and
// the Go shapes of its return tuples and events. The ABI is an external,
// versioned interface and must not be edited by hand.
package contracts

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ProtectedPayABI is the JSON ABI of the deployed contract.
const ProtectedPayABI = `[
	{"inputs":[{"internalType":"bytes32","name":"_potId","type":"bytes32"}],"name":"breakPot","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"address","name":"_senderAddress","type":"address"}],"name":"claimTransferByAddress","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"bytes32","name":"_transferId","type":"bytes32"}],"name":"claimTransferById","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"string","name":"_senderUsername","type":"string"}],"name":"claimTransferByUsername","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"bytes32","name":"_paymentId","type":"bytes32"}],"name":"contributeToGroupPayment","outputs":[],"stateMutability":"payable","type":"function"},
	{"inputs":[{"internalType":"bytes32","name":"_potId","type":"bytes32"}],"name":"contributeToSavingsPot","outputs":[],"stateMutability":"payable","type":"function"},
	{"inputs":[{"internalType":"address","name":"_recipient","type":"address"},{"internalType":"uint256","name":"_numParticipants","type":"uint256"},{"internalType":"string","name":"_remarks","type":"string"}],"name":"createGroupPayment","outputs":[],"stateMutability":"payable","type":"function"},
	{"inputs":[{"internalType":"string","name":"_name","type":"string"},{"internalType":"uint256","name":"_targetAmount","type":"uint256"},{"internalType":"string","name":"_remarks","type":"string"}],"name":"createSavingsPot","outputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],"stateMutability":"nonpayable","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"bytes32","name":"paymentId","type":"bytes32"},{"indexed":true,"internalType":"address","name":"recipient","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"GroupPaymentCompleted","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"bytes32","name":"paymentId","type":"bytes32"},{"indexed":true,"internalType":"address","name":"contributor","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"GroupPaymentContributed","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"bytes32","name":"paymentId","type":"bytes32"},{"indexed":true,"internalType":"address","name":"creator","type":"address"},{"indexed":false,"internalType":"address","name":"recipient","type":"address"},{"indexed":false,"internalType":"uint256","name":"totalAmount","type":"uint256"},{"indexed":false,"internalType":"uint256","name":"numParticipants","type":"uint256"},{"indexed":false,"internalType":"string","name":"remarks","type":"string"}],"name":"GroupPaymentCreated","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"bytes32","name":"potId","type":"bytes32"},{"indexed":true,"internalType":"address","name":"owner","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"PotBroken","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"bytes32","name":"potId","type":"bytes32"},{"indexed":true,"internalType":"address","name":"contributor","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"PotContribution","type":"event"},
	{"inputs":[{"internalType":"bytes32","name":"_transferId","type":"bytes32"}],"name":"refundTransfer","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"string","name":"_username","type":"string"}],"name":"registerUsername","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"bytes32","name":"potId","type":"bytes32"},{"indexed":true,"internalType":"address","name":"owner","type":"address"},{"indexed":false,"internalType":"string","name":"name","type":"string"},{"indexed":false,"internalType":"uint256","name":"targetAmount","type":"uint256"},{"indexed":false,"internalType":"string","name":"remarks","type":"string"}],"name":"SavingsPotCreated","type":"event"},
	{"inputs":[{"internalType":"address","name":"_recipient","type":"address"},{"internalType":"string","name":"_remarks","type":"string"}],"name":"sendToAddress","outputs":[],"stateMutability":"payable","type":"function"},
	{"inputs":[{"internalType":"string","name":"_username","type":"string"},{"internalType":"string","name":"_remarks","type":"string"}],"name":"sendToUsername","outputs":[],"stateMutability":"payable","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"bytes32","name":"transferId","type":"bytes32"},{"indexed":true,"internalType":"address","name":"recipient","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"TransferClaimed","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"bytes32","name":"transferId","type":"bytes32"},{"indexed":true,"internalType":"address","name":"sender","type":"address"},{"indexed":true,"internalType":"address","name":"recipient","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},{"indexed":false,"internalType":"string","name":"remarks","type":"string"}],"name":"TransferInitiated","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"bytes32","name":"transferId","type":"bytes32"},{"indexed":true,"internalType":"address","name":"sender","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"TransferRefunded","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"userAddress","type":"address"},{"indexed":false,"internalType":"string","name":"username","type":"string"}],"name":"UserRegistered","type":"event"},
	{"inputs":[{"internalType":"bytes32","name":"_paymentId","type":"bytes32"},{"internalType":"address","name":"_user","type":"address"}],"name":"getGroupPaymentContribution","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"bytes32","name":"_paymentId","type":"bytes32"}],"name":"getGroupPaymentDetails","outputs":[{"internalType":"address","name":"creator","type":"address"},{"internalType":"address","name":"recipient","type":"address"},{"internalType":"uint256","name":"totalAmount","type":"uint256"},{"internalType":"uint256","name":"amountPerPerson","type":"uint256"},{"internalType":"uint256","name":"numParticipants","type":"uint256"},{"internalType":"uint256","name":"amountCollected","type":"uint256"},{"internalType":"uint256","name":"timestamp","type":"uint256"},{"internalType":"enum ProtectedPay.GroupPaymentStatus","name":"status","type":"uint8"},{"internalType":"string","name":"remarks","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"_sender","type":"address"}],"name":"getPendingTransfers","outputs":[{"internalType":"bytes32[]","name":"","type":"bytes32[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"bytes32","name":"_potId","type":"bytes32"}],"name":"getSavingsPotDetails","outputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"string","name":"name","type":"string"},{"internalType":"uint256","name":"targetAmount","type":"uint256"},{"internalType":"uint256","name":"currentAmount","type":"uint256"},{"internalType":"uint256","name":"timestamp","type":"uint256"},{"internalType":"enum ProtectedPay.PotStatus","name":"status","type":"uint8"},{"internalType":"string","name":"remarks","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"bytes32","name":"_transferId","type":"bytes32"}],"name":"getTransferDetails","outputs":[{"internalType":"address","name":"sender","type":"address"},{"internalType":"address","name":"recipient","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"uint256","name":"timestamp","type":"uint256"},{"internalType":"enum ProtectedPay.TransferStatus","name":"status","type":"uint8"},{"internalType":"string","name":"remarks","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"_userAddress","type":"address"}],"name":"getUserByAddress","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"string","name":"_username","type":"string"}],"name":"getUserByUsername","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"_userAddress","type":"address"}],"name":"getUserProfile","outputs":[{"internalType":"string","name":"username","type":"string"},{"internalType":"bytes32[]","name":"transferIds","type":"bytes32[]"},{"internalType":"bytes32[]","name":"groupPaymentIds","type":"bytes32[]"},{"internalType":"bytes32[]","name":"participatedGroupPayments","type":"bytes32[]"},{"internalType":"bytes32[]","name":"savingsPotIds","type":"bytes32[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"_userAddress","type":"address"}],"name":"getUserTransfers","outputs":[{"components":[{"internalType":"address","name":"sender","type":"address"},{"internalType":"address","name":"recipient","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"uint256","name":"timestamp","type":"uint256"},{"internalType":"enum ProtectedPay.TransferStatus","name":"status","type":"uint8"},{"internalType":"string","name":"remarks","type":"string"}],"internalType":"struct ProtectedPay.Transfer[]","name":"","type":"tuple[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],"name":"groupPayments","outputs":[{"internalType":"bytes32","name":"paymentId","type":"bytes32"},{"internalType":"address","name":"creator","type":"address"},{"internalType":"address","name":"recipient","type":"address"},{"internalType":"uint256","name":"totalAmount","type":"uint256"},{"internalType":"uint256","name":"amountPerPerson","type":"uint256"},{"internalType":"uint256","name":"numParticipants","type":"uint256"},{"internalType":"uint256","name":"amountCollected","type":"uint256"},{"internalType":"uint256","name":"timestamp","type":"uint256"},{"internalType":"string","name":"remarks","type":"string"},{"internalType":"enum ProtectedPay.GroupPaymentStatus","name":"status","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"bytes32","name":"_paymentId","type":"bytes32"},{"internalType":"address","name":"_user","type":"address"}],"name":"hasContributedToGroupPayment","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"","type":"address"},{"internalType":"uint256","name":"","type":"uint256"}],"name":"pendingTransfersBySender","outputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],"name":"savingsPots","outputs":[{"internalType":"bytes32","name":"potId","type":"bytes32"},{"internalType":"address","name":"owner","type":"address"},{"internalType":"string","name":"name","type":"string"},{"internalType":"uint256","name":"targetAmount","type":"uint256"},{"internalType":"uint256","name":"currentAmount","type":"uint256"},{"internalType":"uint256","name":"timestamp","type":"uint256"},{"internalType":"enum ProtectedPay.PotStatus","name":"status","type":"uint8"},{"internalType":"string","name":"remarks","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],"name":"transfers","outputs":[{"internalType":"address","name":"sender","type":"address"},{"internalType":"address","name":"recipient","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"uint256","name":"timestamp","type":"uint256"},{"internalType":"enum ProtectedPay.TransferStatus","name":"status","type":"uint8"},{"internalType":"string","name":"remarks","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"string","name":"","type":"string"}],"name":"usernameToAddress","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"","type":"address"}],"name":"users","outputs":[{"internalType":"string","name":"username","type":"string"}],"stateMutability":"view","type":"function"}
]`

// ParseABI parses ProtectedPayABI.
func ParseABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(ProtectedPayABI))
}

// Method and event names as they appear in ProtectedPayABI.
const (
	MethodRegisterUsername             = "registerUsername"
	MethodSendToAddress                = "sendToAddress"
	MethodSendToUsername               = "sendToUsername"
	MethodClaimTransferByAddress       = "claimTransferByAddress"
	MethodClaimTransferByUsername      = "claimTransferByUsername"
	MethodClaimTransferByID            = "claimTransferById"
	MethodRefundTransfer               = "refundTransfer"
	MethodCreateGroupPayment           = "createGroupPayment"
	MethodContributeToGroupPayment     = "contributeToGroupPayment"
	MethodCreateSavingsPot             = "createSavingsPot"
	MethodContributeToSavingsPot       = "contributeToSavingsPot"
	MethodBreakPot                     = "breakPot"
	MethodGetUserProfile               = "getUserProfile"
	MethodGetUserByAddress             = "getUserByAddress"
	MethodGetUserByUsername            = "getUserByUsername"
	MethodGetTransferDetails           = "getTransferDetails"
	MethodGetGroupPaymentDetails       = "getGroupPaymentDetails"
	MethodGetSavingsPotDetails         = "getSavingsPotDetails"
	MethodGetPendingTransfers          = "getPendingTransfers"
	MethodGetUserTransfers             = "getUserTransfers"
	MethodGetGroupPaymentContribution  = "getGroupPaymentContribution"
	MethodHasContributedToGroupPayment = "hasContributedToGroupPayment"

	EventTransferInitiated       = "TransferInitiated"
	EventTransferClaimed         = "TransferClaimed"
	EventTransferRefunded        = "TransferRefunded"
	EventGroupPaymentCreated     = "GroupPaymentCreated"
	EventGroupPaymentContributed = "GroupPaymentContributed"
	EventGroupPaymentCompleted   = "GroupPaymentCompleted"
	EventSavingsPotCreated       = "SavingsPotCreated"
	EventPotContribution         = "PotContribution"
	EventPotBroken               = "PotBroken"
)

// TransferDetails is the return tuple of getTransferDetails and the element
// type of getUserTransfers.
type TransferDetails struct {
	Sender    common.Address
	Recipient common.Address
	Amount    *big.Int
	Timestamp *big.Int
	Status    uint8
	Remarks   string
}

// GroupPaymentDetails is the return tuple of getGroupPaymentDetails.
type GroupPaymentDetails struct {
	Creator         common.Address
	Recipient       common.Address
	TotalAmount     *big.Int
	AmountPerPerson *big.Int
	NumParticipants *big.Int
	AmountCollected *big.Int
	Timestamp       *big.Int
	Status          uint8
	Remarks         string
}

// SavingsPotDetails is the return tuple of getSavingsPotDetails.
type SavingsPotDetails struct {
	Owner         common.Address
	Name          string
	TargetAmount  *big.Int
	CurrentAmount *big.Int
	Timestamp     *big.Int
	Status        uint8
	Remarks       string
}

// UserProfile is the return tuple of getUserProfile.
type UserProfile struct {
	Username                    string     `abi:"username"`
	TransferIDs                 [][32]byte `abi:"transferIds"`
	GroupPaymentIDs             [][32]byte `abi:"groupPaymentIds"`
	ParticipatedGroupPaymentIDs [][32]byte `abi:"participatedGroupPayments"`
	SavingsPotIDs               [][32]byte `abi:"savingsPotIds"`
}

// Event shapes. Indexed fields are filled from topics by name, so field names
// follow the ABI argument names.

type TransferInitiated struct {
	TransferId [32]byte
	Sender     common.Address
	Recipient  common.Address
	Amount     *big.Int
	Remarks    string
	Raw        types.Log
}

type TransferClaimed struct {
	TransferId [32]byte
	Recipient  common.Address
	Amount     *big.Int
	Raw        types.Log
}

type TransferRefunded struct {
	TransferId [32]byte
	Sender     common.Address
	Amount     *big.Int
	Raw        types.Log
}

type GroupPaymentCreated struct {
	PaymentId       [32]byte
	Creator         common.Address
	Recipient       common.Address
	TotalAmount     *big.Int
	NumParticipants *big.Int
	Remarks         string
	Raw             types.Log
}

type GroupPaymentContributed struct {
	PaymentId   [32]byte
	Contributor common.Address
	Amount      *big.Int
	Raw         types.Log
}

type GroupPaymentCompleted struct {
	PaymentId [32]byte
	Recipient common.Address
	Amount    *big.Int
	Raw       types.Log
}

type SavingsPotCreated struct {
	PotId        [32]byte
	Owner        common.Address
	Name         string
	TargetAmount *big.Int
	Remarks      string
	Raw          types.Log
}

type PotContribution struct {
	PotId       [32]byte
	Contributor common.Address
	Amount      *big.Int
	Raw         types.Log
}

type PotBroken struct {
	PotId  [32]byte
	Owner  common.Address
	Amount *big.Int
	Raw    types.Log
}
