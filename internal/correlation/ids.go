package correlation

import "sync/atomic"

// IDSource hands out request and ticker ids. One source is shared by every
// registry and the market cache so an id carried by a venue error names
// exactly one outstanding item.
type IDSource struct {
	next atomic.Int64
}

// NewIDSource starts counting at base.
func NewIDSource(base int64) *IDSource {
	s := &IDSource{}
	s.next.Store(base)
	return s
}

// Next returns a fresh id. Safe for concurrent use.
func (s *IDSource) Next() int64 {
	return s.next.Add(1) - 1
}
