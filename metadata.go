package rasterpager

import "strings"

// Metadata is a tree of named attributes. Nested groups are Metadata values;
// leaves are scalars or slices.
type Metadata map[string]interface{}

const (
	SpecialMetadata       = "Special"
	RowMetadataPath       = "Special/Row Metadata"
	ColumnMetadataPath    = "Special/Column Metadata"
	BandMetadataPath      = "Special/Band Metadata"
	BandNamesPath         = "Special/Band Metadata/Names"
	CenterWavelengthsPath = "Special/Band Metadata/Center Wavelengths"
)

// Get returns the attribute at a slash separated path.
func (m Metadata) Get(path string) (interface{}, bool) {
	var cur interface{} = m
	for _, p := range strings.Split(path, "/") {
		g, ok := asMetadata(cur)
		if !ok {
			return nil, false
		}
		cur, ok = g[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores v at path, creating intermediate groups.
func (m Metadata) Set(path string, v interface{}) {
	parts := strings.Split(path, "/")
	cur := m
	for _, p := range parts[:len(parts)-1] {
		next, ok := asMetadata(cur[p])
		if !ok {
			next = Metadata{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func asMetadata(v interface{}) (Metadata, bool) {
	switch g := v.(type) {
	case Metadata:
		return g, g != nil
	case map[string]interface{}:
		return Metadata(g), g != nil
	}
	return nil, false
}

// Clone deep copies groups and slices of the supported types. Other values
// are shared.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	ret := make(Metadata, len(m))
	for k, v := range m {
		if g, ok := asMetadata(v); ok {
			ret[k] = g.Clone()
			continue
		}
		if c, ok := chipValue(v, nil); ok {
			ret[k] = c
			continue
		}
		ret[k] = v
	}
	return ret
}

// ChipMetadata rewrites the vectors stored under the row, column and band
// metadata groups so that they only keep the entries of the selected rows,
// columns and bands, matched by original number. A nil selection leaves the
// corresponding group untouched. Values of unsupported types are left as
// they are.
//
// When a selected original number is outside a vector, nothing is modified
// and false is returned.
func ChipMetadata(m Metadata, rows, columns, bands Dimensions) bool {
	if m == nil {
		return true
	}
	type pending struct {
		group Metadata
		key   string
		value interface{}
	}
	var updates []pending
	for _, sel := range []struct {
		path string
		dims Dimensions
	}{{RowMetadataPath, rows}, {ColumnMetadataPath, columns}, {BandMetadataPath, bands}} {
		if sel.dims == nil {
			continue
		}
		gv, ok := m.Get(sel.path)
		if !ok {
			continue
		}
		group, ok := asMetadata(gv)
		if !ok {
			continue
		}
		idx := make([]int, 0, len(sel.dims))
		for _, d := range sel.dims {
			n, ok := d.OriginalNumber()
			if !ok {
				return false
			}
			idx = append(idx, int(n))
		}
		for k, v := range group {
			if !sliceLenAtLeast(v, idx) {
				if _, supported := chipValue(v, nil); supported {
					return false
				}
				continue
			}
			c, ok := chipValue(v, idx)
			if !ok {
				continue
			}
			updates = append(updates, pending{group, k, c})
		}
	}
	for _, u := range updates {
		u.group[u.key] = u.value
	}
	return true
}

func sliceLenAtLeast(v interface{}, idx []int) bool {
	n := sliceLen(v)
	if n < 0 {
		return false
	}
	for _, i := range idx {
		if i >= n {
			return false
		}
	}
	return true
}

func sliceLen(v interface{}) int {
	switch s := v.(type) {
	case []int8:
		return len(s)
	case []uint8:
		return len(s)
	case []int16:
		return len(s)
	case []uint16:
		return len(s)
	case []int32:
		return len(s)
	case []uint32:
		return len(s)
	case []int64:
		return len(s)
	case []uint64:
		return len(s)
	case []int:
		return len(s)
	case []uint:
		return len(s)
	case []float32:
		return len(s)
	case []float64:
		return len(s)
	case []bool:
		return len(s)
	case []string:
		return len(s)
	}
	return -1
}

// chipValue returns a copy of the supported slice v restricted to idx, or a
// full copy when idx is nil.
func chipValue(v interface{}, idx []int) (interface{}, bool) {
	switch s := v.(type) {
	case []int8:
		return pick(s, idx), true
	case []uint8:
		return pick(s, idx), true
	case []int16:
		return pick(s, idx), true
	case []uint16:
		return pick(s, idx), true
	case []int32:
		return pick(s, idx), true
	case []uint32:
		return pick(s, idx), true
	case []int64:
		return pick(s, idx), true
	case []uint64:
		return pick(s, idx), true
	case []int:
		return pick(s, idx), true
	case []uint:
		return pick(s, idx), true
	case []float32:
		return pick(s, idx), true
	case []float64:
		return pick(s, idx), true
	case []bool:
		return pick(s, idx), true
	case []string:
		return pick(s, idx), true
	}
	return nil, false
}

func pick[T any](s []T, idx []int) []T {
	if idx == nil {
		if s == nil {
			return nil
		}
		return append([]T(nil), s...)
	}
	ret := make([]T, len(idx))
	for i, j := range idx {
		ret[i] = s[j]
	}
	return ret
}
