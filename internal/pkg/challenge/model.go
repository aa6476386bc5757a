package challenge

import (
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

type Status uint8

const (
	StatusOpen Status = iota
	StatusActive
	StatusCompleted
)

func (s Status) Valid() bool {
	return s <= StatusCompleted
}

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw uint8

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return fmt.Errorf("failed to unmarshal status: %w", err)
	}

	if !Status(raw).Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, raw)
	}

	*s = Status(raw)

	return nil
}

// Challenge is the persisted wager record. Nil pointers are absent values.
type Challenge struct {
	Creator  solana.PublicKey  `json:"creator"`
	Acceptor *solana.PublicKey `json:"acceptor"`

	Amount    uint64 `json:"amount"`
	AssetPair string `json:"asset_pair"`
	Status    Status `json:"status"`

	StartTime *int64 `json:"start_time"`
	EndTime   *int64 `json:"end_time"`

	CreatorEntryPrice  *uint64 `json:"creator_entry_price"`
	AcceptorEntryPrice *uint64 `json:"acceptor_entry_price"`

	Winner *solana.PublicKey `json:"winner"`
}

type Account struct {
	Address   solana.PublicKey `json:"address"`
	Challenge Challenge        `json:"challenge"`
}

type CreateRequest struct {
	Challenge solana.PublicKey `json:"challenge"`
	Creator   solana.PublicKey `json:"creator"`

	Amount          uint64 `json:"amount"`
	AssetPair       string `json:"asset_pair"`
	DurationSeconds uint64 `json:"duration_seconds"`

	// Signature is the creator's; ChallengeSignature proves control of the
	// record address.
	Signature          solana.Signature `json:"signature"`
	ChallengeSignature solana.Signature `json:"challenge_signature"`
}

type AcceptRequest struct {
	Acceptor solana.PublicKey `json:"acceptor"`
	Creator  solana.PublicKey `json:"creator"`

	Signature solana.Signature `json:"signature"`
}

type EventKind string

const (
	EventCreated  EventKind = "challenge_created"
	EventAccepted EventKind = "challenge_accepted"
)

// Event is emitted once per committed invocation.
type Event struct {
	Kind      EventKind        `json:"kind"`
	Address   solana.PublicKey `json:"address"`
	Challenge Challenge        `json:"challenge"`
	Timestamp int64            `json:"timestamp"`
}
