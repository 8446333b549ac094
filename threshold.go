package rasterpager

import (
	"context"
	"fmt"
)

// Threshold creates an in-memory Int1UByte mask of el's shape, holding 1
// where the given band is strictly above value and 0 elsewhere, and returns
// it along with the number of selected pixels. The mask inherits el's
// classification.
func (e *Engine) Threshold(ctx context.Context, el *Element, band int, value float64) (*Element, int, error) {
	d := el.desc
	if band < 0 || band >= len(d.Bands) {
		return nil, 0, fmt.Errorf("%w: band %d", ErrInvalidRequest, band)
	}
	mask, err := e.CreateRasterElement(d.Name+" threshold", len(d.Rows), len(d.Columns), 1,
		Int1UByte, BSQ, true, el)
	if err != nil {
		return nil, 0, err
	}
	count, err := threshold(ctx, el, mask, band, value)
	if err != nil {
		mask.Close()
		return nil, 0, err
	}
	return mask, count, nil
}

func threshold(ctx context.Context, el, mask *Element, band int, value float64) (int, error) {
	src := el.GetDataAccessorContext(ctx, bandRequest(el, band))
	defer src.Release()
	if !src.IsValid() {
		return 0, src.Err()
	}
	dst := mask.GetDataAccessorContext(ctx, &DataRequest{Writable: true})
	defer dst.Release()
	if !dst.IsValid() {
		return 0, dst.Err()
	}
	count := 0
	cols := len(el.desc.Columns)
	for src.IsValid() && dst.IsValid() {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		for c := 0; c < cols; c++ {
			v := src.Value(band)
			selected := !el.desc.IsBadValue(v) && v > value
			if selected {
				count++
			}
			out := dst.Column()
			if selected {
				out[0] = 1
			} else {
				out[0] = 0
			}
			src.NextColumn()
			dst.NextColumn()
		}
		src.NextRow()
		dst.NextRow()
	}
	if err := src.Err(); err != nil {
		return count, err
	}
	return count, dst.Err()
}
