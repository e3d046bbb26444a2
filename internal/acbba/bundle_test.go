package acbba

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

func item(id string, bid float64) BundleItem {
	return BundleItem{TaskID: id, Bid: bid}
}

func TestBundleInsertOrders(t *testing.T) {
	var b Bundle
	b.Insert(item("t1", 0.9), 0)
	b.Insert(item("t2", 0.7), 0) // executes before t1
	b.Insert(item("t3", 0.5), 1) // executes between t2 and t1

	check.Equal(t, []string{"t1", "t2", "t3"}, b.TaskIDs())
	check.Equal(t, []string{"t2", "t3", "t1"}, b.Path())
}

func TestBundleInsertClampsPathIndex(t *testing.T) {
	var b Bundle
	b.Insert(item("t1", 0.9), -3)
	b.Insert(item("t2", 0.7), 99)
	check.Equal(t, []string{"t1", "t2"}, b.Path())
}

func TestBundleReleaseFromCascades(t *testing.T) {
	var b Bundle
	b.Insert(item("t1", 0.9), 0)
	b.Insert(item("t2", 0.7), 0)
	b.Insert(item("t3", 0.5), 2)

	released := b.ReleaseFrom("t2")
	// t2 and everything inserted after it go; t1 survives in both orders.
	check.Equal(t, []string{"t2", "t3"}, released)
	check.Equal(t, []string{"t1"}, b.TaskIDs())
	check.Equal(t, []string{"t1"}, b.Path())
}

func TestBundleReleaseHeadClearsAll(t *testing.T) {
	var b Bundle
	b.Insert(item("t1", 0.9), 0)
	b.Insert(item("t2", 0.7), 1)

	released := b.ReleaseFrom("t1")
	check.Equal(t, []string{"t1", "t2"}, released)
	check.Equal(t, 0, b.Len())
	check.Equal(t, 0, len(b.Path()))
}

func TestBundleReleaseUnknownNoop(t *testing.T) {
	var b Bundle
	b.Insert(item("t1", 0.9), 0)
	check.Equal(t, 0, len(b.ReleaseFrom("nope")))
	check.Equal(t, 1, b.Len())
}

func TestBundleSetImagingTimes(t *testing.T) {
	var b Bundle
	b.Insert(item("t1", 0.9), 0)
	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.SetImagingTimes(map[string]time.Time{"t1": when, "unknown": when})

	it, ok := b.Item("t1")
	check.True(t, ok)
	check.Equal(t, when, it.ImagingTime)
}

func TestBundleClear(t *testing.T) {
	var b Bundle
	check.Equal(t, 0, len(b.Clear()))

	b.Insert(item("t1", 0.9), 0)
	b.Insert(item("t2", 0.7), 1)
	check.Equal(t, []string{"t1", "t2"}, b.Clear())
	check.Equal(t, 0, b.Len())
}
