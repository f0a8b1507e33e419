package mediasearch

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_UnitNormAndIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for n := 0; n < 200; n++ {
		dim := 1 + rng.Intn(64)
		v := make([]float32, dim)
		for i := range v {
			v[i] = float32(rng.NormFloat64() * 10)
		}
		v[rng.Intn(dim)] += 0.5 // 保证非零

		once, err := Normalize(v)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, L2Norm(once), 1e-5)

		twice, err := Normalize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	v := []float32{3, 4}
	out, err := Normalize(v)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, v)
	assert.InDelta(t, 0.6, out[0], 1e-7)
	assert.InDelta(t, 0.8, out[1], 1e-7)
}

func TestNormalize_Degenerate(t *testing.T) {
	cases := map[string][]float32{
		"empty": {},
		"zero":  {0, 0, 0},
		"nan":   {1, float32(math.NaN())},
		"inf":   {float32(math.Inf(1)), 0},
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(v)
			assert.ErrorIs(t, err, ErrDegenerateVector)
		})
	}
}

func TestDot(t *testing.T) {
	assert.Equal(t, 1.0, Dot([]float32{1, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, Dot([]float32{1, 0}, []float32{0, 1}))
	assert.Equal(t, 0.0, Dot([]float32{1, 0}, []float32{1, 0, 0}))
}

func TestMeanPool(t *testing.T) {
	t.Run("identical vectors keep their value", func(t *testing.T) {
		frames := make([][]float32, 8)
		for i := range frames {
			frames[i] = []float32{0.6, 0.8}
		}
		got, err := MeanPool(frames)
		require.NoError(t, err)
		assert.Equal(t, []float32{0.6, 0.8}, got)
	})

	t.Run("mean of raw vectors then normalize", func(t *testing.T) {
		got, err := MeanPool([][]float32{{2, 0}, {0, 2}})
		require.NoError(t, err)
		assert.InDelta(t, math.Sqrt2/2, got[0], 1e-6)
		assert.InDelta(t, math.Sqrt2/2, got[1], 1e-6)
	})

	t.Run("opposite vectors cancel out", func(t *testing.T) {
		_, err := MeanPool([][]float32{{1, 0}, {-1, 0}})
		assert.ErrorIs(t, err, ErrDegenerateVector)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := MeanPool([][]float32{{1, 0}, {1, 0, 0}})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("no vectors", func(t *testing.T) {
		_, err := MeanPool(nil)
		assert.ErrorIs(t, err, ErrDegenerateVector)
	})
}
