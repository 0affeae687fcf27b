package model

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrInvalidHistory is returned by History.Validate.
var ErrInvalidHistory = errors.New("invalid history")

// Key distribution names accepted in HistoryParams.KeyDistribution.
const (
	DistributionUniform = "uniform"
	DistributionZipf    = "zipf"
	DistributionHotspot = "hotspot"
)

// Variable identifies one mutable slot in the tested database.
type Variable uint64

// EventKind is the operation performed by an Event.
type EventKind uint8

// Event kinds.
const (
	EventRead EventKind = iota
	EventWrite
)

func (k EventKind) String() string {
	switch k {
	case EventRead:
		return "read"
	case EventWrite:
		return "write"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// MarshalText encodes the kind as "read" or "write".
func (k EventKind) MarshalText() ([]byte, error) {
	switch k {
	case EventRead, EventWrite:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("invalid event kind %d", uint8(k))
}

// UnmarshalText decodes "read" or "write".
func (k *EventKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "read":
		*k = EventRead
	case "write":
		*k = EventWrite
	default:
		return fmt.Errorf("invalid event kind %q", string(b))
	}
	return nil
}

// Event is a single read or write of one Variable. For writes Value is the
// value to write; for reads it is the value observed at commit time.
type Event struct {
	Kind     EventKind `json:"kind" yaml:"kind"`
	Variable Variable  `json:"variable" yaml:"variable"`
	Value    uint64    `json:"value" yaml:"value"`
	Success  bool      `json:"success" yaml:"success"`
}

// Read returns an uncommitted read event on v.
func Read(v Variable) Event {
	return Event{Kind: EventRead, Variable: v}
}

// Write returns an uncommitted write of value to v.
func Write(v Variable, value uint64) Event {
	return Event{Kind: EventWrite, Variable: v, Value: value}
}

// IsWrite reports whether the event writes its variable.
func (e Event) IsWrite() bool { return e.Kind == EventWrite }

// Transaction is an ordered sequence of events executed atomically.
type Transaction struct {
	Events  []Event `json:"events" yaml:"events"`
	Success bool    `json:"success" yaml:"success"`
}

// Committed reports whether the transaction and all of its events committed.
func (t Transaction) Committed() bool {
	if !t.Success {
		return false
	}
	for _, e := range t.Events {
		if !e.Success {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of t.
func (t Transaction) Clone() Transaction {
	events := make([]Event, len(t.Events))
	copy(events, t.Events)
	return Transaction{Events: events, Success: t.Success}
}

// Session is one client's serial stream of transactions. Sessions are
// independent of each other.
type Session struct {
	Transactions []Transaction `json:"transactions" yaml:"transactions"`
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	txns := make([]Transaction, len(s.Transactions))
	for i, t := range s.Transactions {
		txns[i] = t.Clone()
	}
	return Session{Transactions: txns}
}

// HistoryParams holds the generation parameters of a history. They are
// carried through execution untouched.
type HistoryParams struct {
	Nodes             int     `json:"n_node" yaml:"n_node"`
	Variables         int     `json:"n_variable" yaml:"n_variable"`
	Transactions      int     `json:"n_transaction" yaml:"n_transaction"`
	Events            int     `json:"n_event" yaml:"n_event"`
	ReadProbability   float64 `json:"read_probability" yaml:"read_probability"`
	KeyDistribution   string  `json:"key_distribution" yaml:"key_distribution"`
	LongTxnProportion float64 `json:"longtxn_proportion" yaml:"longtxn_proportion"`
	LongTxnSize       float64 `json:"longtxn_size" yaml:"longtxn_size"`
	RandomTxnSize     bool    `json:"random_txn_size" yaml:"random_txn_size"`
}

// History is either a generated test case (Label empty, Start/End nil) or its
// executed counterpart.
type History struct {
	ID       int           `json:"id" yaml:"id"`
	Params   HistoryParams `json:"params" yaml:"params"`
	Label    string        `json:"label" yaml:"label"`
	Start    *time.Time    `json:"start,omitempty" yaml:"start,omitempty"`
	End      *time.Time    `json:"end,omitempty" yaml:"end,omitempty"`
	Sessions []Session     `json:"sessions" yaml:"sessions"`
}

// CloneSessions returns a deep copy of the history's sessions.
func (h *History) CloneSessions() []Session {
	out := make([]Session, len(h.Sessions))
	for i, s := range h.Sessions {
		out[i] = s.Clone()
	}
	return out
}

// Executed reports whether the history is an execution result.
func (h *History) Executed() bool {
	return h.Label != "" && h.Start != nil && h.End != nil
}

// Committed reports whether every transaction of every session committed.
func (h *History) Committed() bool {
	for _, s := range h.Sessions {
		for _, t := range s.Transactions {
			if !t.Committed() {
				return false
			}
		}
	}
	return true
}

// Validate checks that every event names a variable the cluster is seeded
// with, i.e. one in [0, Params.Variables). Such an event can never commit.
func (h *History) Validate() error {
	n := uint64(max(h.Params.Variables, 0))
	for si, s := range h.Sessions {
		for ti, t := range s.Transactions {
			for ei, e := range t.Events {
				if uint64(e.Variable) >= n {
					return errors.Wrapf(ErrInvalidHistory,
						"history %d: session %d transaction %d event %d references variable %d, n_variable=%d",
						h.ID, si, ti, ei, e.Variable, h.Params.Variables)
				}
			}
		}
	}
	return nil
}

// Counts returns the number of sessions, transactions and events.
func (h *History) Counts() (sessions, transactions, events int) {
	for _, s := range h.Sessions {
		transactions += len(s.Transactions)
		for _, t := range s.Transactions {
			events += len(t.Events)
		}
	}
	return len(h.Sessions), transactions, events
}

// NewResult builds the executed counterpart of src. Timestamps are stored
// in UTC.
func NewResult(src *History, label string, start, end time.Time, sessions []Session) *History {
	s, e := start.UTC(), end.UTC()
	return &History{
		ID:       src.ID,
		Params:   src.Params,
		Label:    label,
		Start:    &s,
		End:      &e,
		Sessions: sessions,
	}
}
