package rasterpager

import "fmt"

// A DataRequest describes the window of a raster an accessor should expose.
// Unset start and stop descriptors stand for the whole axis, an unspecified
// interleave for the element's own. Descriptors are matched by active
// number.
//
// Requests are consumed by GetDataAccessor and not retained.
type DataRequest struct {
	StartRow, StopRow       DimensionDescriptor
	StartColumn, StopColumn DimensionDescriptor
	StartBand, StopBand     DimensionDescriptor
	// ConcurrentRows is the number of contiguous rows guaranteed to be
	// addressable from Row() at every cursor position
	ConcurrentRows    int
	ConcurrentColumns int
	// ConcurrentBands is 1 to page a BSQ raster band by band, or the band
	// count to page all bands together
	ConcurrentBands int
	Interleave      InterleaveFormat
	Writable        bool
}

func NewDataRequest() *DataRequest {
	return &DataRequest{}
}

// Polish returns a copy of the request with every default resolved against d.
func (r DataRequest) Polish(d *RasterDescriptor) DataRequest {
	if !r.StartRow.IsValid() && len(d.Rows) > 0 {
		r.StartRow = d.Rows[0]
	}
	if !r.StopRow.IsValid() && len(d.Rows) > 0 {
		r.StopRow = d.Rows[len(d.Rows)-1]
	}
	if !r.StartColumn.IsValid() && len(d.Columns) > 0 {
		r.StartColumn = d.Columns[0]
	}
	if !r.StopColumn.IsValid() && len(d.Columns) > 0 {
		r.StopColumn = d.Columns[len(d.Columns)-1]
	}
	if !r.StartBand.IsValid() && len(d.Bands) > 0 {
		r.StartBand = d.Bands[0]
	}
	if !r.StopBand.IsValid() && len(d.Bands) > 0 {
		r.StopBand = d.Bands[len(d.Bands)-1]
	}
	if r.Interleave == InterleaveUnspecified {
		r.Interleave = d.Interleave
	}
	if r.ConcurrentRows <= 0 {
		r.ConcurrentRows = 1
	}
	if r.ConcurrentColumns <= 0 {
		r.ConcurrentColumns = 1
	}
	if r.ConcurrentBands <= 0 {
		if r.Interleave == BSQ {
			r.ConcurrentBands = 1
		} else {
			r.ConcurrentBands = len(d.Bands)
		}
	}
	return r
}

// Validate checks a polished request against d.
func (r DataRequest) Validate(d *RasterDescriptor) error {
	check := func(axis string, start, stop DimensionDescriptor, count, concurrent int) error {
		s, ok1 := start.ActiveNumber()
		e, ok2 := stop.ActiveNumber()
		if !ok1 || !ok2 {
			return fmt.Errorf("%w: %s range not set", ErrInvalidRequest, axis)
		}
		if s > e {
			return fmt.Errorf("%w: %s start %d after stop %d", ErrInvalidRequest, axis, s, e)
		}
		if int(e) >= count {
			return fmt.Errorf("%w: %s stop %d outside of [0,%d)", ErrInvalidRequest, axis, e, count)
		}
		if concurrent > count {
			return fmt.Errorf("%w: %d concurrent %s for %d available", ErrInvalidRequest, concurrent, axis, count)
		}
		return nil
	}
	if err := check("rows", r.StartRow, r.StopRow, len(d.Rows), r.ConcurrentRows); err != nil {
		return err
	}
	if err := check("columns", r.StartColumn, r.StopColumn, len(d.Columns), r.ConcurrentColumns); err != nil {
		return err
	}
	if err := check("bands", r.StartBand, r.StopBand, len(d.Bands), r.ConcurrentBands); err != nil {
		return err
	}
	switch r.Interleave {
	case BSQ, BIP, BIL:
	default:
		return fmt.Errorf("%w: interleave %v", ErrInvalidRequest, r.Interleave)
	}
	if r.ConcurrentBands != 1 && r.ConcurrentBands != len(d.Bands) {
		return fmt.Errorf("%w: %d concurrent bands, must be 1 or %d", ErrInvalidRequest, r.ConcurrentBands, len(d.Bands))
	}
	if r.ConcurrentBands == 1 && r.Interleave != BSQ && len(d.Bands) > 1 {
		return fmt.Errorf("%w: single band paging requires bsq", ErrInvalidRequest)
	}
	return nil
}
