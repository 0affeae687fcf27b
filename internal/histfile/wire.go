package histfile

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/seantiz/dbcop/internal/model"
)

// Field numbers of the binary encoding. The layout follows protobuf
// conventions so a .proto description can be derived from it; numbers must
// never be reused.
const (
	historyID       protowire.Number = 1
	historyParams   protowire.Number = 2
	historyLabel    protowire.Number = 3
	historyStart    protowire.Number = 4
	historyEnd      protowire.Number = 5
	historySessions protowire.Number = 6

	paramsNodes             protowire.Number = 1
	paramsVariables         protowire.Number = 2
	paramsTransactions      protowire.Number = 3
	paramsEvents            protowire.Number = 4
	paramsReadProbability   protowire.Number = 5
	paramsKeyDistribution   protowire.Number = 6
	paramsLongTxnProportion protowire.Number = 7
	paramsLongTxnSize       protowire.Number = 8
	paramsRandomTxnSize     protowire.Number = 9

	sessionTransactions protowire.Number = 1

	txnEvents  protowire.Number = 1
	txnSuccess protowire.Number = 2

	eventKind     protowire.Number = 1
	eventVariable protowire.Number = 2
	eventValue    protowire.Number = 3
	eventSuccess  protowire.Number = 4

	tsSeconds protowire.Number = 1
	tsNanos   protowire.Number = 2
)

// ErrMalformed is returned when binary input cannot be decoded.
var ErrMalformed = errors.New("malformed binary history")

// MarshalBinary encodes h in the binary history format.
func MarshalBinary(h *model.History) []byte {
	var b []byte
	b = appendVarint(b, historyID, uint64(h.ID))
	b = protowire.AppendTag(b, historyParams, protowire.BytesType)
	b = protowire.AppendBytes(b, appendParams(nil, h.Params))
	if h.Label != "" {
		b = protowire.AppendTag(b, historyLabel, protowire.BytesType)
		b = protowire.AppendString(b, h.Label)
	}
	if h.Start != nil {
		b = protowire.AppendTag(b, historyStart, protowire.BytesType)
		b = protowire.AppendBytes(b, appendTimestamp(nil, *h.Start))
	}
	if h.End != nil {
		b = protowire.AppendTag(b, historyEnd, protowire.BytesType)
		b = protowire.AppendBytes(b, appendTimestamp(nil, *h.End))
	}
	for _, s := range h.Sessions {
		b = protowire.AppendTag(b, historySessions, protowire.BytesType)
		b = protowire.AppendBytes(b, appendSession(nil, s))
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendParams(b []byte, p model.HistoryParams) []byte {
	b = appendVarint(b, paramsNodes, uint64(p.Nodes))
	b = appendVarint(b, paramsVariables, uint64(p.Variables))
	b = appendVarint(b, paramsTransactions, uint64(p.Transactions))
	b = appendVarint(b, paramsEvents, uint64(p.Events))
	b = appendDouble(b, paramsReadProbability, p.ReadProbability)
	if p.KeyDistribution != "" {
		b = protowire.AppendTag(b, paramsKeyDistribution, protowire.BytesType)
		b = protowire.AppendString(b, p.KeyDistribution)
	}
	b = appendDouble(b, paramsLongTxnProportion, p.LongTxnProportion)
	b = appendDouble(b, paramsLongTxnSize, p.LongTxnSize)
	b = appendVarint(b, paramsRandomTxnSize, protowire.EncodeBool(p.RandomTxnSize))
	return b
}

func appendTimestamp(b []byte, t time.Time) []byte {
	b = appendVarint(b, tsSeconds, protowire.EncodeZigZag(t.Unix()))
	return appendVarint(b, tsNanos, uint64(t.Nanosecond()))
}

func appendSession(b []byte, s model.Session) []byte {
	for _, t := range s.Transactions {
		b = protowire.AppendTag(b, sessionTransactions, protowire.BytesType)
		b = protowire.AppendBytes(b, appendTransaction(nil, t))
	}
	return b
}

func appendTransaction(b []byte, t model.Transaction) []byte {
	for _, e := range t.Events {
		b = protowire.AppendTag(b, txnEvents, protowire.BytesType)
		b = protowire.AppendBytes(b, appendEvent(nil, e))
	}
	return appendVarint(b, txnSuccess, protowire.EncodeBool(t.Success))
}

func appendEvent(b []byte, e model.Event) []byte {
	b = appendVarint(b, eventKind, uint64(e.Kind))
	b = appendVarint(b, eventVariable, uint64(e.Variable))
	b = appendVarint(b, eventValue, e.Value)
	return appendVarint(b, eventSuccess, protowire.EncodeBool(e.Success))
}

// UnmarshalBinary decodes a history from the binary history format.
func UnmarshalBinary(b []byte) (*model.History, error) {
	h := &model.History{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == historyID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			h.ID = int(v)
			return n, nil
		case num == historyParams && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			p, err := decodeParams(v)
			h.Params = p
			return n, err
		case num == historyLabel && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			h.Label = v
			return n, nil
		case (num == historyStart || num == historyEnd) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			ts, err := decodeTimestamp(v)
			if num == historyStart {
				h.Start = &ts
			} else {
				h.End = &ts
			}
			return n, err
		case num == historySessions && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			s, err := decodeSession(v)
			h.Sessions = append(h.Sessions, s)
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}
	canonicalize(h)
	return h, nil
}

// walk iterates the fields of one message. fn consumes the value of each
// field and returns the number of bytes read (negative on wire errors).
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Mark(errors.Wrap(protowire.ParseError(n), "read tag"), ErrMalformed)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return errors.Mark(errors.Wrapf(protowire.ParseError(m), "read field %d", num), ErrMalformed)
		}
		b = b[m:]
	}
	return nil
}

func decodeParams(b []byte) (model.HistoryParams, error) {
	var p model.HistoryParams
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			switch num {
			case paramsNodes:
				p.Nodes = int(v)
			case paramsVariables:
				p.Variables = int(v)
			case paramsTransactions:
				p.Transactions = int(v)
			case paramsEvents:
				p.Events = int(v)
			case paramsRandomTxnSize:
				p.RandomTxnSize = protowire.DecodeBool(v)
			}
			return n, nil
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			f := math.Float64frombits(v)
			switch num {
			case paramsReadProbability:
				p.ReadProbability = f
			case paramsLongTxnProportion:
				p.LongTxnProportion = f
			case paramsLongTxnSize:
				p.LongTxnSize = f
			}
			return n, nil
		case protowire.BytesType:
			if num == paramsKeyDistribution {
				v, n := protowire.ConsumeString(b)
				p.KeyDistribution = v
				return n, nil
			}
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return p, err
}

func decodeTimestamp(b []byte) (time.Time, error) {
	var sec int64
	var nsec int64
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			switch num {
			case tsSeconds:
				sec = protowire.DecodeZigZag(v)
			case tsNanos:
				nsec = int64(v)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if nsec < 0 || nsec >= int64(time.Second) {
		return time.Time{}, errors.Mark(errors.Newf("timestamp nanos %d out of range", nsec), ErrMalformed)
	}
	return time.Unix(sec, nsec).UTC(), err
}

func decodeSession(b []byte) (model.Session, error) {
	var s model.Session
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == sessionTransactions && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			t, err := decodeTransaction(v)
			s.Transactions = append(s.Transactions, t)
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return s, err
}

func decodeTransaction(b []byte) (model.Transaction, error) {
	var t model.Transaction
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == txnEvents && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			e, err := decodeEvent(v)
			t.Events = append(t.Events, e)
			return n, err
		case num == txnSuccess && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			t.Success = protowire.DecodeBool(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return t, err
}

func decodeEvent(b []byte) (model.Event, error) {
	var e model.Event
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			switch num {
			case eventKind:
				if v > uint64(model.EventWrite) {
					return n, errors.Mark(errors.Newf("unknown event kind %d", v), ErrMalformed)
				}
				e.Kind = model.EventKind(v)
			case eventVariable:
				e.Variable = model.Variable(v)
			case eventValue:
				e.Value = v
			case eventSuccess:
				e.Success = protowire.DecodeBool(v)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return e, err
}

// canonicalize replaces nil collections with empty ones and moves
// timestamps to UTC so both encodings decode to identical values. Only the
// instant of a timestamp is kept; its zone is not.
func canonicalize(h *model.History) {
	for _, ts := range []**time.Time{&h.Start, &h.End} {
		if *ts != nil {
			u := (*ts).UTC()
			*ts = &u
		}
	}
	if h.Sessions == nil {
		h.Sessions = []model.Session{}
	}
	for i := range h.Sessions {
		s := &h.Sessions[i]
		if s.Transactions == nil {
			s.Transactions = []model.Transaction{}
		}
		for j := range s.Transactions {
			if s.Transactions[j].Events == nil {
				s.Transactions[j].Events = []model.Event{}
			}
		}
	}
}
