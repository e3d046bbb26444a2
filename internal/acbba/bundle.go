package acbba

import "time"

// BundleItem is one claimed task inside an agent's bundle, with the
// scheduled imaging time and the marginal-utility bid that won it.
type BundleItem struct {
	TaskID string
	// ImagingTime is when the observation is scheduled to start.
	ImagingTime time.Time
	// Bid is the marginal utility claimed when the item was added.
	Bid float64
}

// Bundle is an agent's ordered task claim. Items are kept twice: in
// insertion order (the bundle proper) and in execution order (the path).
// Releasing an item invalidates the marginal bids of everything inserted
// after it, so releases cascade in insertion order.
//
// A Bundle is exclusively owned by one agent and never shared by reference.
type Bundle struct {
	// items in insertion order.
	items []BundleItem
	// path holds task ids in execution order.
	path []string
}

// Len returns the number of held tasks.
func (b *Bundle) Len() int { return len(b.items) }

// Contains reports whether the bundle holds taskID.
func (b *Bundle) Contains(taskID string) bool {
	for _, it := range b.items {
		if it.TaskID == taskID {
			return true
		}
	}
	return false
}

// TaskIDs returns the held task ids in insertion order.
func (b *Bundle) TaskIDs() []string {
	out := make([]string, len(b.items))
	for i, it := range b.items {
		out[i] = it.TaskID
	}
	return out
}

// Path returns the held task ids in execution order.
func (b *Bundle) Path() []string {
	return append([]string(nil), b.path...)
}

// Items returns a copy of the items in insertion order.
func (b *Bundle) Items() []BundleItem {
	return append([]BundleItem(nil), b.items...)
}

// Item returns the bundle item for taskID.
func (b *Bundle) Item(taskID string) (BundleItem, bool) {
	for _, it := range b.items {
		if it.TaskID == taskID {
			return it, true
		}
	}
	return BundleItem{}, false
}

// Insert appends an item to the bundle and splices it into the path at
// pathIndex. pathIndex is clamped to the path bounds.
func (b *Bundle) Insert(item BundleItem, pathIndex int) {
	b.items = append(b.items, item)

	if pathIndex < 0 {
		pathIndex = 0
	}
	if pathIndex > len(b.path) {
		pathIndex = len(b.path)
	}
	b.path = append(b.path, "")
	copy(b.path[pathIndex+1:], b.path[pathIndex:])
	b.path[pathIndex] = item.TaskID
}

// SetImagingTimes updates the scheduled imaging time of each held task.
// Unknown ids are ignored.
func (b *Bundle) SetImagingTimes(times map[string]time.Time) {
	for i := range b.items {
		if t, ok := times[b.items[i].TaskID]; ok {
			b.items[i].ImagingTime = t
		}
	}
}

// ReleaseFrom removes taskID and every item inserted after it, returning
// the released task ids in insertion order. Releasing an id the bundle does
// not hold is a no-op.
func (b *Bundle) ReleaseFrom(taskID string) []string {
	idx := -1
	for i, it := range b.items {
		if it.TaskID == taskID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	released := make([]string, 0, len(b.items)-idx)
	for _, it := range b.items[idx:] {
		released = append(released, it.TaskID)
	}
	b.items = b.items[:idx]

	drop := make(map[string]struct{}, len(released))
	for _, id := range released {
		drop[id] = struct{}{}
	}
	kept := b.path[:0]
	for _, id := range b.path {
		if _, gone := drop[id]; !gone {
			kept = append(kept, id)
		}
	}
	b.path = kept

	return released
}

// TruncateBefore releases taskID and everything after it in insertion
// order. It is the recovery path for contradictory peer histories: the
// bundle rolls back to the point preceding the contradiction and rebids
// from there.
func (b *Bundle) TruncateBefore(taskID string) []string {
	return b.ReleaseFrom(taskID)
}

// Clear releases everything, returning the released ids in insertion order.
func (b *Bundle) Clear() []string {
	if len(b.items) == 0 {
		return nil
	}
	return b.ReleaseFrom(b.items[0].TaskID)
}
