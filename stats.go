package rasterpager

import (
	"context"
	"fmt"
	"math"

	"github.com/sourcegraph/conc/pool"
)

// Statistics summarizes the valid values of one band.
type Statistics struct {
	Band     int
	Count    int64
	BadCount int64
	Min, Max float64
	Mean     float64
	StdDev   float64
}

func bandRequest(el *Element, band int) *DataRequest {
	req := &DataRequest{
		StartBand: el.desc.Bands.ByActive(uint32(band)),
		StopBand:  el.desc.Bands.ByActive(uint32(band)),
	}
	if el.desc.Interleave == BSQ {
		req.ConcurrentBands = 1
	}
	return req
}

// ComputeStatistics scans a band row by row, skipping bad values. ctx is
// checked between rows.
func ComputeStatistics(ctx context.Context, el *Element, band int) (Statistics, error) {
	st := Statistics{Band: band, Min: math.NaN(), Max: math.NaN(), Mean: math.NaN(), StdDev: math.NaN()}
	if band < 0 || band >= len(el.desc.Bands) {
		return st, fmt.Errorf("%w: band %d", ErrInvalidRequest, band)
	}
	a := el.GetDataAccessorContext(ctx, bandRequest(el, band))
	defer a.Release()
	if !a.IsValid() {
		return st, a.Err()
	}
	cols := len(el.desc.Columns)
	var mean, m2 float64
	for ; a.IsValid(); a.NextRow() {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		for c := 0; c < cols; c++ {
			v := a.Value(band)
			a.NextColumn()
			if el.desc.IsBadValue(v) || math.IsNaN(v) {
				st.BadCount++
				continue
			}
			st.Count++
			if st.Count == 1 || v < st.Min {
				st.Min = v
			}
			if st.Count == 1 || v > st.Max {
				st.Max = v
			}
			delta := v - mean
			mean += delta / float64(st.Count)
			m2 += delta * (v - mean)
		}
	}
	if err := a.Err(); err != nil {
		return st, err
	}
	if st.Count > 0 {
		st.Mean = mean
		st.StdDev = math.Sqrt(m2 / float64(st.Count))
	}
	return st, nil
}

// ComputeBandStatistics computes the statistics of every band, scanning up
// to workers bands concurrently with independent accessors.
func ComputeBandStatistics(ctx context.Context, el *Element, workers int) ([]Statistics, error) {
	if workers <= 0 {
		workers = 1
	}
	ret := make([]Statistics, len(el.desc.Bands))
	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(workers)
	for b := range el.desc.Bands {
		b := b
		p.Go(func(ctx context.Context) error {
			st, err := ComputeStatistics(ctx, el, b)
			if err != nil {
				return fmt.Errorf("band %d: %w", b, err)
			}
			ret[b] = st
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return ret, nil
}

// ComputeCovariance returns the band covariance matrix of el, traversing
// pixels row then column. Pixels holding a bad value in any band are
// skipped.
func ComputeCovariance(ctx context.Context, el *Element) ([][]float64, error) {
	d := el.desc
	bands := len(d.Bands)
	a := el.GetDataAccessorContext(ctx, &DataRequest{Interleave: BIP})
	defer a.Release()
	if !a.IsValid() {
		return nil, a.Err()
	}
	mean := make([]float64, bands)
	delta := make([]float64, bands)
	pixel := make([]float64, bands)
	comoment := make([][]float64, bands)
	for i := range comoment {
		comoment[i] = make([]float64, bands)
	}
	var n float64
	cols := len(d.Columns)
	for ; a.IsValid(); a.NextRow() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	pixels:
		for c := 0; c < cols; c++ {
			for b := 0; b < bands; b++ {
				pixel[b] = a.Value(b)
				if d.IsBadValue(pixel[b]) || math.IsNaN(pixel[b]) {
					a.NextColumn()
					continue pixels
				}
			}
			a.NextColumn()
			n++
			for b := range pixel {
				delta[b] = pixel[b] - mean[b]
				mean[b] += delta[b] / n
			}
			for i := 0; i < bands; i++ {
				for j := i; j < bands; j++ {
					comoment[i][j] += delta[i] * (pixel[j] - mean[j])
				}
			}
		}
	}
	if err := a.Err(); err != nil {
		return nil, err
	}
	if n < 2 {
		return nil, fmt.Errorf("covariance needs at least 2 valid pixels, got %d", int(n))
	}
	for i := 0; i < bands; i++ {
		for j := i; j < bands; j++ {
			comoment[i][j] /= n - 1
			comoment[j][i] = comoment[i][j]
		}
	}
	return comoment, nil
}
