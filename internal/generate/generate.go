// Package generate builds synthetic histories: one session per node, each a
// stream of read/write transactions over a fixed variable range.
package generate

import (
	"math"
	"math/rand/v2"

	"github.com/cockroachdb/errors"

	"github.com/seantiz/dbcop/internal/model"
)

// Validate checks that p describes a history that can be generated.
func Validate(p model.HistoryParams) error {
	switch {
	case p.Nodes <= 0:
		return errors.Newf("node count must be positive, got %d", p.Nodes)
	case p.Variables <= 0:
		return errors.Newf("variable count must be positive, got %d", p.Variables)
	case p.Transactions < 0:
		return errors.Newf("transaction count must not be negative, got %d", p.Transactions)
	case p.Events <= 0:
		return errors.Newf("event count must be positive, got %d", p.Events)
	case p.ReadProbability < 0 || p.ReadProbability > 1 || math.IsNaN(p.ReadProbability):
		return errors.Newf("read probability must be in [0, 1], got %v", p.ReadProbability)
	case p.LongTxnProportion < 0 || p.LongTxnProportion > 1 || math.IsNaN(p.LongTxnProportion):
		return errors.Newf("long transaction proportion must be in [0, 1], got %v", p.LongTxnProportion)
	case p.LongTxnProportion > 0 && (p.LongTxnSize < 1 || math.IsInf(p.LongTxnSize, 0)):
		return errors.Newf("long transaction size must be at least 1, got %v", p.LongTxnSize)
	}
	return nil
}

// Generator produces histories from a seeded random source.
type Generator struct {
	rng *rand.Rand
}

// New returns a generator seeded with seed.
func New(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// History generates one history with the given id. Each of the p.Nodes
// sessions holds p.Transactions transactions. Write values are unique per
// variable, starting at 1, so every read can be traced back to its writer;
// 0 is the seeded initial value.
func (g *Generator) History(id int, p model.HistoryParams) (*model.History, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	dist, err := NewKeyDistribution(p.KeyDistribution, p.Variables)
	if err != nil {
		return nil, err
	}
	if p.KeyDistribution == "" {
		p.KeyDistribution = model.DistributionUniform
	}

	counters := make(map[model.Variable]uint64)
	sessions := make([]model.Session, p.Nodes)
	for i := range sessions {
		txns := make([]model.Transaction, p.Transactions)
		for j := range txns {
			events := make([]model.Event, g.txnSize(p))
			for k := range events {
				v := dist.Sample(g.rng)
				if g.rng.Float64() < p.ReadProbability {
					events[k] = model.Read(v)
					continue
				}
				counters[v]++
				events[k] = model.Write(v, counters[v])
			}
			txns[j] = model.Transaction{Events: events}
		}
		sessions[i] = model.Session{Transactions: txns}
	}

	return &model.History{ID: id, Params: p, Sessions: sessions}, nil
}

// Histories generates n histories with ids 1..n.
func (g *Generator) Histories(n int, p model.HistoryParams) ([]*model.History, error) {
	out := make([]*model.History, 0, n)
	for id := 1; id <= n; id++ {
		h, err := g.History(id, p)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (g *Generator) txnSize(p model.HistoryParams) int {
	size := p.Events
	if p.LongTxnProportion > 0 && g.rng.Float64() < p.LongTxnProportion {
		size = int(math.Round(float64(p.Events) * p.LongTxnSize))
	}
	if p.RandomTxnSize && size > 1 {
		size = 1 + g.rng.IntN(size)
	}
	return size
}
