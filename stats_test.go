package rasterpager

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statsElement(t *testing.T, interleave InterleaveFormat, inMemory bool) *Element {
	t.Helper()
	e := testEngine(t, func(cfg *Config) { cfg.PageBytes = 24 })
	el, err := e.CreateRasterElement("stats", 3, 4, 3, Int2SBytes, interleave, inMemory, nil)
	require.NoError(t, err)
	fillElement(t, el, func(row, col, band int) float64 {
		v := float64(row*4 + col + 1)
		switch band {
		case 1:
			if v == 1 || v == 12 {
				return -1
			}
			return 5
		case 2:
			return 2 * v
		}
		return v
	})
	el.desc.BadValues = []int{-1}
	return el
}

func TestComputeStatistics(t *testing.T) {
	for _, el := range []*Element{
		statsElement(t, BSQ, true),
		statsElement(t, BIP, false),
	} {
		ctx := context.Background()
		st, err := ComputeStatistics(ctx, el, 0)
		require.NoError(t, err)
		assert.EqualValues(t, 12, st.Count)
		assert.Zero(t, st.BadCount)
		assert.Equal(t, 1.0, st.Min)
		assert.Equal(t, 12.0, st.Max)
		assert.InDelta(t, 6.5, st.Mean, 1e-9)
		assert.InDelta(t, math.Sqrt(143.0/12), st.StdDev, 1e-9)

		st, err = ComputeStatistics(ctx, el, 1)
		require.NoError(t, err)
		assert.EqualValues(t, 10, st.Count)
		assert.EqualValues(t, 2, st.BadCount)
		assert.Equal(t, 5.0, st.Min)
		assert.Equal(t, 5.0, st.Max)
		assert.InDelta(t, 0, st.StdDev, 1e-9)

		all, err := ComputeBandStatistics(ctx, el, 2)
		require.NoError(t, err)
		require.Len(t, all, 3)
		for b, st := range all {
			assert.Equal(t, b, st.Band)
			one, err := ComputeStatistics(ctx, el, b)
			require.NoError(t, err)
			assert.Equal(t, one, st)
		}

		_, err = ComputeStatistics(ctx, el, 3)
		assert.ErrorIs(t, err, ErrInvalidRequest)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = ComputeStatistics(cctx, el, 0)
		assert.ErrorIs(t, err, context.Canceled)
		_, err = ComputeBandStatistics(cctx, el, 0)
		assert.Error(t, err)
		require.NoError(t, el.Close())
	}
}

func TestComputeCovariance(t *testing.T) {
	el := statsElement(t, BSQ, true)
	cov, err := ComputeCovariance(context.Background(), el)
	require.NoError(t, err)
	require.Len(t, cov, 3)
	// band 1 is bad on the pixels holding 1 and 12 in band 0
	v := 10.0 * 11 / 12
	expected := [][]float64{
		{v, 0, 2 * v},
		{0, 0, 0},
		{2 * v, 0, 4 * v},
	}
	for i := range expected {
		for j := range expected[i] {
			assert.InDelta(t, expected[i][j], cov[i][j], 1e-9, "%d,%d", i, j)
		}
	}
	require.NoError(t, el.Close())

	e := testEngine(t)
	single, err := e.CreateRasterElement("single", 1, 1, 2, Int1UByte, BIP, true, nil)
	require.NoError(t, err)
	_, err = ComputeCovariance(context.Background(), single)
	assert.Error(t, err)
	require.NoError(t, single.Close())
}
