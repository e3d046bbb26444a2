package acbba

import (
	"context"
	"testing"
	"time"

	"github.com/peterldowns/testy/check"

	"github.com/signalsfoundry/tasking-simulator/core"
	"github.com/signalsfoundry/tasking-simulator/model"
)

func testTask(id string, reward float64, start time.Time, length time.Duration) model.Task {
	return model.Task{
		ID:       id,
		Window:   model.Window{Start: start, End: start.Add(length)},
		Duration: 30 * time.Second,
		Reward:   reward,
	}
}

// openAccess grants every task one access window covering the whole horizon.
func openAccess(start time.Time, length time.Duration) func(string) []model.Window {
	return func(string) []model.Window {
		return []model.Window{{Start: start, End: start.Add(length)}}
	}
}

func testSnapshot(start time.Time) Snapshot {
	return Snapshot{
		Time:       start,
		HorizonEnd: start.Add(2 * time.Hour),
		Access:     openAccess(start, 2*time.Hour),
	}
}

func TestBuildBidsClaimsBestTasks(t *testing.T) {
	start := t0
	tasks := []model.Task{
		testTask("t1", 0.3, start, time.Hour),
		testTask("t2", 0.9, start, time.Hour),
		testTask("t3", 0.6, start, time.Hour),
		testTask("t4", 0.1, start, time.Hour),
	}
	a := New(Config{AgentID: "sat-a", BundleCap: 3, Tasks: tasks})

	changed := a.BuildBids(context.Background(), testSnapshot(start))
	check.True(t, changed)

	// Cap of 3: the three highest-reward tasks, claimed best-first.
	check.Equal(t, []string{"t2", "t3", "t1"}, func() []string {
		ids := make([]string, 0, 3)
		for _, it := range a.Bundle() {
			ids = append(ids, it.TaskID)
		}
		return ids
	}())

	bids := a.BidList()
	check.Equal(t, "sat-a", bids["t2"].Bidder)
	check.Equal(t, 0.9, bids["t2"].Value)
	_, unbid := bids["t4"]
	check.False(t, unbid)
}

func TestBuildBidsRespectsKnownHigherBid(t *testing.T) {
	start := t0
	tasks := []model.Task{testTask("t1", 0.6, start, time.Hour)}
	a := New(Config{AgentID: "sat-b", Tasks: tasks})

	// sat-a already holds t1 at 0.8; our 0.6 cannot beat it.
	msg := BidMessage{Sender: "sat-a", SentAt: start, Records: []BidRecord{
		{TaskID: "t1", Bidder: "sat-a", Value: 0.8, Timestamp: start},
	}}
	a.Reconcile(context.Background(), []BidMessage{msg}, start)

	a.BeginRound()
	changed := a.BuildBids(context.Background(), testSnapshot(start))
	check.False(t, changed)
	check.Equal(t, 0, len(a.Bundle()))
}

func TestTwoAgentsAgreeInOneExchange(t *testing.T) {
	start := t0
	ctx := context.Background()
	tasks := []model.Task{testTask("t1", 1.0, start, time.Hour)}

	// Linear utility scores the task reward; weight the agents by scaling
	// rewards through per-agent utility functions.
	utilA := func(task model.Task, _ time.Time) float64 { return 0.8 * task.Reward }
	utilB := func(task model.Task, _ time.Time) float64 { return 0.6 * task.Reward }

	a := New(Config{AgentID: "sat-a", Utility: utilA, Tasks: tasks})
	b := New(Config{AgentID: "sat-b", Utility: utilB, Tasks: tasks})

	snap := testSnapshot(start)
	a.BeginRound()
	b.BeginRound()
	a.BuildBids(ctx, snap)
	b.BuildBids(ctx, snap)

	// Both bid; exchange broadcasts.
	msgA := a.Outbound(start)
	msgB := b.Outbound(start)
	a.Reconcile(ctx, []BidMessage{msgB}, start)
	b.Reconcile(ctx, []BidMessage{msgA}, start)

	// sat-a's 0.8 beats sat-b's 0.6: b releases, a keeps.
	check.Equal(t, []string{"t1"}, a.Path())
	check.Equal(t, 0, len(b.Bundle()))
	check.Equal(t, "sat-a", a.BidList()["t1"].Bidder)
	check.Equal(t, "sat-a", b.BidList()["t1"].Bidder)

	// Next round: b has nothing to add, a has nothing new. Both converge.
	a.BeginRound()
	b.BeginRound()
	a.BuildBids(ctx, snap)
	b.BuildBids(ctx, snap)
	check.True(t, a.Converged())
	check.True(t, b.Converged())
}

func TestLosingBundledTaskCascades(t *testing.T) {
	start := t0
	ctx := context.Background()
	tasks := []model.Task{
		testTask("t1", 0.9, start, time.Hour),
		testTask("t2", 0.5, start, time.Hour),
	}
	a := New(Config{AgentID: "sat-b", Tasks: tasks})
	a.BuildBids(ctx, testSnapshot(start))
	check.Equal(t, 2, len(a.Bundle()))
	check.Equal(t, "t1", a.Bundle()[0].TaskID)
	check.Equal(t, "t2", a.Bundle()[1].TaskID)

	// A stronger peer takes t1; t2's marginal bid was computed with t1 held,
	// so it is released too.
	msg := BidMessage{Sender: "sat-a", SentAt: start.Add(time.Minute), Records: []BidRecord{
		{TaskID: "t1", Bidder: "sat-a", Value: 2.0, Timestamp: start.Add(time.Minute)},
	}}
	a.Reconcile(ctx, []BidMessage{msg}, start.Add(time.Minute))

	check.Equal(t, 0, len(a.Bundle()))
	bids := a.BidList()
	check.Equal(t, "sat-a", bids["t1"].Bidder)
	// t2's record resets to no-winner so the task is rebiddable.
	check.Equal(t, NoBidder, bids["t2"].Bidder)
}

func TestStaleSelfEchoDoesNotResurrectReleasedClaim(t *testing.T) {
	start := t0
	ctx := context.Background()
	tasks := []model.Task{
		testTask("t1", 0.9, start, time.Hour),
		testTask("t2", 0.5, start, time.Hour),
	}
	a := New(Config{AgentID: "sat-a", Tasks: tasks})
	a.BuildBids(ctx, testSnapshot(start))
	check.Equal(t, 2, len(a.Bundle()))
	echo := a.Outbound(start)

	// Losing t1 cascades t2 out of the bundle. The same batch carries a
	// peer's relay of our own earlier claims; the relayed t2 record must
	// not re-adopt the claim while the task is no longer bundled.
	later := start.Add(time.Minute)
	outbid := BidMessage{Sender: "sat-b", SentAt: later, Records: []BidRecord{
		{TaskID: "t1", Bidder: "sat-b", Value: 2.0, Timestamp: later},
	}}
	relay := BidMessage{Sender: "sat-c", SentAt: later, Records: echo.Records}
	a.Reconcile(ctx, []BidMessage{outbid, relay}, later)

	check.Equal(t, 0, len(a.Bundle()))
	check.Equal(t, "sat-b", a.BidList()["t1"].Bidder)
	check.Equal(t, NoBidder, a.BidList()["t2"].Bidder)

	// t2 stays biddable: the next bidding phase reclaims it.
	a.BeginRound()
	a.BuildBids(ctx, testSnapshot(later))
	check.Equal(t, []string{"t2"}, a.Path())
}

func TestResourceInfeasibleTaskNeverBundled(t *testing.T) {
	start := t0
	tasks := []model.Task{testTask("t1", 1.0, start, time.Hour)}

	// Battery floor sits just under full charge: any instrument-on window
	// breaches it immediately. Eclipse throughout, no charging.
	ledger := core.NewResourceLedger("sat-a", core.ResourceConfig{
		BatteryCapacityWh: 100,
		BatteryFloorWh:    99.9,
		BaselineLoadW:     0,
		Step:              10 * time.Second,
	}, func(time.Time) bool { return false }, start)

	a := New(Config{
		AgentID:          "sat-a",
		Tasks:            tasks,
		Ledger:           ledger,
		InstrumentPowerW: 500,
		DataRateBps:      1e6,
	})

	changed := a.BuildBids(context.Background(), testSnapshot(start))
	check.False(t, changed)
	check.Equal(t, 0, len(a.Bundle()))
	_, bid := a.BidList()["t1"]
	check.False(t, bid)
}

func TestPurgeAgentReleasesClaims(t *testing.T) {
	start := t0
	ctx := context.Background()
	a := New(Config{AgentID: "sat-a", Tasks: []model.Task{testTask("t1", 1.0, start, time.Hour)}})

	msg := BidMessage{Sender: "sat-b", SentAt: start, Records: []BidRecord{
		{TaskID: "t1", Bidder: "sat-b", Value: 5.0, Timestamp: start},
	}}
	a.Reconcile(ctx, []BidMessage{msg}, start)
	check.Equal(t, "sat-b", a.BidList()["t1"].Bidder)

	a.PurgeAgent(ctx, "sat-b", start.Add(time.Minute))
	check.Equal(t, NoBidder, a.BidList()["t1"].Bidder)

	// The task is rebiddable next round.
	a.BuildBids(ctx, testSnapshot(start))
	check.Equal(t, []string{"t1"}, a.Path())
}

func TestResurrectionTruncatesBundle(t *testing.T) {
	start := t0
	ctx := context.Background()
	tasks := []model.Task{testTask("t1", 0.9, start, time.Hour)}
	a := New(Config{
		AgentID:         "sat-a",
		Tasks:           tasks,
		ResurrectionGap: 5 * time.Minute,
	})

	// Round 1: hear from sat-b, then claim t1 ourselves.
	hello := BidMessage{Sender: "sat-b", SentAt: start, Records: []BidRecord{
		{TaskID: "t1", Bidder: NoBidder, Value: 0, Timestamp: start},
	}}
	a.Reconcile(ctx, []BidMessage{hello}, start)
	a.BuildBids(ctx, testSnapshot(start))
	check.Equal(t, 1, len(a.Bundle()))

	// sat-b vanishes, then resurfaces far past the gap with a history
	// contradicting our claim.
	later := start.Add(20 * time.Minute)
	back := BidMessage{Sender: "sat-b", SentAt: later, Records: []BidRecord{
		{TaskID: "t1", Bidder: "sat-b", Value: 0.2, Timestamp: start.Add(time.Minute)},
	}}
	a.Reconcile(ctx, []BidMessage{back}, later)
	check.Equal(t, 0, len(a.Bundle()))
}

func TestOutboundCarriesOwnWins(t *testing.T) {
	start := t0
	ctx := context.Background()
	a := New(Config{AgentID: "sat-a", Tasks: []model.Task{testTask("t1", 1.0, start, time.Hour)}})
	a.BuildBids(ctx, testSnapshot(start))

	first := a.Outbound(start)
	check.Equal(t, 1, len(first.Records))
	check.Equal(t, "sat-a", first.Sender)

	// Changed set is cleared, but own wins keep broadcasting.
	second := a.Outbound(start.Add(time.Minute))
	check.Equal(t, 1, len(second.Records))
	check.Equal(t, "sat-a", second.Records[0].Bidder)
}

func TestMessageRoundTrip(t *testing.T) {
	msg := BidMessage{Sender: "sat-a", SentAt: t0, Records: []BidRecord{
		{TaskID: "t1", Bidder: "sat-a", Value: Quantize(0.123456789123), Timestamp: t0},
	}}
	b, err := EncodeMessage(msg)
	check.Nil(t, err)
	got, err := DecodeMessage(b)
	check.Nil(t, err)
	check.Equal(t, msg.Sender, got.Sender)
	check.Equal(t, msg.Records[0].Value, got.Records[0].Value)
	check.True(t, msg.SentAt.Equal(got.SentAt))

	_, err = DecodeMessage([]byte{0xff, 0x00})
	check.Error(t, err)
}
