package protectedpay

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"protectedpay/internal/amount"
)

// MinParticipants is the smallest group a group payment may be split across.
const MinParticipants = 2

var wireIDPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// WireID is the opaque 32-byte identifier the contract assigns to transfers,
// group payments and savings pots. It is only ever round-tripped.
type WireID [32]byte

// ParseWireID accepts exactly "0x" followed by 64 hex digits.
func ParseWireID(s string) (WireID, error) {
	var id WireID
	if !wireIDPattern.MatchString(s) {
		return id, fmt.Errorf("invalid id %q: want 0x followed by 64 hex digits", s)
	}
	if _, err := hex.Decode(id[:], []byte(s[2:])); err != nil {
		return id, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

func (id WireID) Hex() string    { return "0x" + hex.EncodeToString(id[:]) }
func (id WireID) String() string { return id.Hex() }
func (id WireID) IsZero() bool   { return id == WireID{} }

func (id WireID) MarshalText() ([]byte, error) { return []byte(id.Hex()), nil }

func (id *WireID) UnmarshalText(b []byte) error {
	parsed, err := ParseWireID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func wireIDs(raw [][32]byte) []WireID {
	out := make([]WireID, len(raw))
	for i, v := range raw {
		out[i] = WireID(v)
	}
	return out
}

// TransferStatus mirrors the contract enum by position.
type TransferStatus uint8

const (
	TransferPending TransferStatus = iota
	TransferClaimed
	TransferRefunded
)

func (s TransferStatus) String() string {
	switch s {
	case TransferPending:
		return "Pending"
	case TransferClaimed:
		return "Claimed"
	case TransferRefunded:
		return "Refunded"
	}
	return "Unknown(" + strconv.Itoa(int(s)) + ")"
}

// GroupPaymentStatus mirrors the contract enum by position.
type GroupPaymentStatus uint8

const (
	GroupPaymentPending GroupPaymentStatus = iota
	GroupPaymentCompleted
	GroupPaymentCancelled
)

func (s GroupPaymentStatus) String() string {
	switch s {
	case GroupPaymentPending:
		return "Pending"
	case GroupPaymentCompleted:
		return "Completed"
	case GroupPaymentCancelled:
		return "Cancelled"
	}
	return "Unknown(" + strconv.Itoa(int(s)) + ")"
}

// PotStatus mirrors the contract enum by position.
type PotStatus uint8

const (
	PotActive PotStatus = iota
	PotBroken
)

func (s PotStatus) String() string {
	switch s {
	case PotActive:
		return "Active"
	case PotBroken:
		return "Broken"
	}
	return "Unknown(" + strconv.Itoa(int(s)) + ")"
}

// Transfer is an escrowed transfer. Timestamp is unix seconds; use Time at
// presentation boundaries.
type Transfer struct {
	ID        WireID         `json:"id"`
	Sender    common.Address `json:"sender"`
	Recipient common.Address `json:"recipient"`
	Amount    string         `json:"amount"`
	Timestamp int64          `json:"timestamp"`
	Status    TransferStatus `json:"status"`
	Remarks   string         `json:"remarks"`
}

func (t Transfer) Time() time.Time { return time.Unix(t.Timestamp, 0) }

type GroupPayment struct {
	ID              WireID             `json:"id"`
	Creator         common.Address     `json:"creator"`
	Recipient       common.Address     `json:"recipient"`
	TotalAmount     string             `json:"totalAmount"`
	AmountPerPerson string             `json:"amountPerPerson"`
	NumParticipants uint64             `json:"numParticipants"`
	AmountCollected string             `json:"amountCollected"`
	Timestamp       int64              `json:"timestamp"`
	Status          GroupPaymentStatus `json:"status"`
	Remarks         string             `json:"remarks"`
}

func (g GroupPayment) Time() time.Time { return time.Unix(g.Timestamp, 0) }

// Progress is amountCollected/totalAmount in [0,1]; 0 when the total is zero.
func (g GroupPayment) Progress() float64 {
	p, err := amount.Progress(g.AmountCollected, g.TotalAmount)
	if err != nil {
		return 0
	}
	return p
}

type SavingsPot struct {
	ID            WireID         `json:"id"`
	Owner         common.Address `json:"owner"`
	Name          string         `json:"name"`
	TargetAmount  string         `json:"targetAmount"`
	CurrentAmount string         `json:"currentAmount"`
	Timestamp     int64          `json:"timestamp"`
	Status        PotStatus      `json:"status"`
	Remarks       string         `json:"remarks"`
}

func (p SavingsPot) Time() time.Time { return time.Unix(p.Timestamp, 0) }

// Progress is currentAmount/targetAmount in [0,1]; 0 when the target is zero.
func (p SavingsPot) Progress() float64 {
	r, err := amount.Progress(p.CurrentAmount, p.TargetAmount)
	if err != nil {
		return 0
	}
	return r
}

// UserProfile holds the username and the four id indexes kept by the contract.
type UserProfile struct {
	Username                    string   `json:"username"`
	TransferIDs                 []WireID `json:"transferIds"`
	GroupPaymentIDs             []WireID `json:"groupPaymentIds"`
	ParticipatedGroupPaymentIDs []WireID `json:"participatedGroupPaymentIds"`
	SavingsPotIDs               []WireID `json:"savingsPotIds"`
}

// Receipt describes a confirmed write. Events holds the contract's own logs
// from the receipt, decoded like subscription events.
type Receipt struct {
	TxHash      common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
	GasUsed     uint64      `json:"gasUsed"`
	Events      []Event     `json:"events,omitempty"`
}

// EventType names one of the nine contract events.
type EventType string

const (
	EventTransferInitiated       EventType = "TransferInitiated"
	EventTransferClaimed         EventType = "TransferClaimed"
	EventTransferRefunded        EventType = "TransferRefunded"
	EventGroupPaymentCreated     EventType = "GroupPaymentCreated"
	EventGroupPaymentContributed EventType = "GroupPaymentContributed"
	EventGroupPaymentCompleted   EventType = "GroupPaymentCompleted"
	EventSavingsPotCreated       EventType = "SavingsPotCreated"
	EventPotContribution         EventType = "PotContribution"
	EventPotBroken               EventType = "PotBroken"
)

// Event is the normalized form of every contract event. ID is the transfer,
// payment or pot id depending on Type; unused address fields are nil.
type Event struct {
	Type            EventType       `json:"type"`
	ID              WireID          `json:"id"`
	Sender          *common.Address `json:"sender,omitempty"`
	Recipient       *common.Address `json:"recipient,omitempty"`
	Creator         *common.Address `json:"creator,omitempty"`
	Contributor     *common.Address `json:"contributor,omitempty"`
	Owner           *common.Address `json:"owner,omitempty"`
	Amount          string          `json:"amount"`
	Name            string          `json:"name,omitempty"`
	NumParticipants uint64          `json:"numParticipants,omitempty"`
	Remarks         string          `json:"remarks,omitempty"`
	BlockNumber     uint64          `json:"blockNumber"`
	TxHash          common.Hash     `json:"txHash"`
	LogIndex        uint            `json:"logIndex"`
}
