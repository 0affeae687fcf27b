package generate

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/seantiz/dbcop/internal/model"
)

// zipfExponent is the skew of the zipf key distribution.
const zipfExponent = 0.5

// Hotspot layout: hotKeyFraction of the keys receive hotProbability of the accesses.
const (
	hotKeyFraction = 0.2
	hotProbability = 0.8
)

// KeyDistribution samples variables in [0, n).
type KeyDistribution interface {
	Sample(r *rand.Rand) model.Variable
}

// NewKeyDistribution returns the distribution named name over n variables.
func NewKeyDistribution(name string, n int) (KeyDistribution, error) {
	if n <= 0 {
		return nil, errors.Newf("variable count must be positive, got %d", n)
	}
	switch name {
	case model.DistributionUniform, "":
		return uniform{n: n}, nil
	case model.DistributionZipf:
		return newZipf(n, zipfExponent), nil
	case model.DistributionHotspot:
		return newHotspot(n), nil
	}
	return nil, errors.WithHint(
		errors.Newf("unknown key distribution %q", name),
		"use one of uniform, zipf, hotspot")
}

type uniform struct{ n int }

func (u uniform) Sample(r *rand.Rand) model.Variable {
	return model.Variable(r.IntN(u.n))
}

// zipf samples rank k in [1, n] with probability proportional to 1/k^s
// through an inverse CDF lookup and returns k-1.
type zipf struct {
	cdf []float64
}

func newZipf(n int, s float64) zipf {
	cdf := make([]float64, n)
	var sum float64
	for k := 1; k <= n; k++ {
		sum += 1 / math.Pow(float64(k), s)
		cdf[k-1] = sum
	}
	for i := range cdf {
		cdf[i] /= sum
	}
	return zipf{cdf: cdf}
}

func (z zipf) Sample(r *rand.Rand) model.Variable {
	u := r.Float64()
	i := sort.SearchFloat64s(z.cdf, u)
	if i >= len(z.cdf) {
		i = len(z.cdf) - 1
	}
	return model.Variable(i)
}

type hotspot struct {
	hot, n int
}

func newHotspot(n int) hotspot {
	hot := int(float64(n) * hotKeyFraction)
	if hot < 1 {
		hot = 1
	}
	return hotspot{hot: hot, n: n}
}

func (h hotspot) Sample(r *rand.Rand) model.Variable {
	if h.hot >= h.n || r.Float64() < hotProbability {
		return model.Variable(r.IntN(h.hot))
	}
	return model.Variable(h.hot + r.IntN(h.n-h.hot))
}
