package domain

// UpdateMap tracks the last local-edit timestamp (epoch millis) per field
// inside one content group. A field wins a merge when its timestamp is
// strictly greater than the other side's; a missing entry always loses to a
// present one.
type UpdateMap map[string]int64

// Get returns the timestamp for a field and whether it is present.
func (m UpdateMap) Get(field string) (int64, bool) {
	if m == nil {
		return 0, false
	}
	ts, ok := m[field]
	return ts, ok
}

// Stamp records a timestamp for a field, allocating the map if needed.
// Returns the (possibly new) map so callers can assign it back.
func (m UpdateMap) Stamp(field string, ts int64) UpdateMap {
	if m == nil {
		m = make(UpdateMap)
	}
	m[field] = ts
	return m
}

// Drop removes a field's entry.
func (m UpdateMap) Drop(field string) {
	delete(m, field)
}

// Clone returns a copy of the map.
func (m UpdateMap) Clone() UpdateMap {
	if m == nil {
		return nil
	}
	out := make(UpdateMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
