package generate

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/dbcop/internal/model"
)

func params() model.HistoryParams {
	return model.HistoryParams{
		Nodes:           3,
		Variables:       10,
		Transactions:    5,
		Events:          4,
		ReadProbability: 0.5,
		KeyDistribution: model.DistributionUniform,
		LongTxnSize:     10,
	}
}

func TestHistoryShape(t *testing.T) {
	h, err := New(1).History(7, params())
	require.NoError(t, err)

	assert.Equal(t, 7, h.ID)
	assert.Equal(t, params(), h.Params)
	assert.Empty(t, h.Label)
	assert.Nil(t, h.Start)
	require.Len(t, h.Sessions, 3)
	for _, s := range h.Sessions {
		require.Len(t, s.Transactions, 5)
		for _, txn := range s.Transactions {
			assert.False(t, txn.Success)
			require.Len(t, txn.Events, 4)
			for _, e := range txn.Events {
				assert.Less(t, uint64(e.Variable), uint64(10))
				assert.False(t, e.Success)
				if !e.IsWrite() {
					assert.Zero(t, e.Value)
				}
			}
		}
	}
}

func TestWriteValuesUniquePerVariable(t *testing.T) {
	p := params()
	p.ReadProbability = 0.2
	h, err := New(2).History(1, p)
	require.NoError(t, err)

	seen := make(map[[2]uint64]bool)
	for _, s := range h.Sessions {
		for _, txn := range s.Transactions {
			for _, e := range txn.Events {
				if !e.IsWrite() {
					continue
				}
				key := [2]uint64{uint64(e.Variable), e.Value}
				assert.False(t, seen[key], "duplicate write %v", key)
				assert.NotZero(t, e.Value)
				seen[key] = true
			}
		}
	}
}

func TestDeterministicForSeed(t *testing.T) {
	a, err := New(42).Histories(2, params())
	require.NoError(t, err)
	b, err := New(42).Histories(2, params())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, a[0].ID)
	assert.Equal(t, 2, a[1].ID)
}

func TestLongAndRandomTxnSize(t *testing.T) {
	p := params()
	p.LongTxnProportion = 1
	p.LongTxnSize = 3
	h, err := New(3).History(1, p)
	require.NoError(t, err)
	for _, txn := range h.Sessions[0].Transactions {
		assert.Len(t, txn.Events, 12)
	}

	p.RandomTxnSize = true
	h, err = New(3).History(1, p)
	require.NoError(t, err)
	for _, txn := range h.Sessions[0].Transactions {
		assert.GreaterOrEqual(t, len(txn.Events), 1)
		assert.LessOrEqual(t, len(txn.Events), 12)
	}
}

func TestValidate(t *testing.T) {
	bad := []func(*model.HistoryParams){
		func(p *model.HistoryParams) { p.Nodes = 0 },
		func(p *model.HistoryParams) { p.Variables = 0 },
		func(p *model.HistoryParams) { p.Events = 0 },
		func(p *model.HistoryParams) { p.ReadProbability = 1.5 },
		func(p *model.HistoryParams) { p.LongTxnProportion = -0.1 },
		func(p *model.HistoryParams) { p.LongTxnProportion = 0.5; p.LongTxnSize = 0 },
		func(p *model.HistoryParams) { p.KeyDistribution = "pareto" },
	}
	for i, mutate := range bad {
		p := params()
		mutate(&p)
		_, err := New(1).History(1, p)
		assert.Error(t, err, "case %d", i)
	}
}

func TestDistributionsStayInRange(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for _, name := range []string{model.DistributionUniform, model.DistributionZipf, model.DistributionHotspot} {
		for _, n := range []int{1, 2, 5, 100} {
			d, err := NewKeyDistribution(name, n)
			require.NoError(t, err)
			for i := 0; i < 1000; i++ {
				v := d.Sample(r)
				require.Less(t, int(v), n, "%s over %d", name, n)
			}
		}
	}
}

func TestZipfFavoursLowRanks(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	d, err := NewKeyDistribution(model.DistributionZipf, 100)
	require.NoError(t, err)

	counts := make([]int, 100)
	for i := 0; i < 20000; i++ {
		counts[d.Sample(r)]++
	}
	assert.Greater(t, counts[0], counts[99])
}

func TestHotspotFavoursHotKeys(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 8))
	d, err := NewKeyDistribution(model.DistributionHotspot, 100)
	require.NoError(t, err)

	hot := 0
	const samples = 10000
	for i := 0; i < samples; i++ {
		if d.Sample(r) < 20 {
			hot++
		}
	}
	assert.InDelta(t, 0.8, float64(hot)/samples, 0.05)
}
