package sim

import (
	"context"
	"sort"

	"github.com/signalsfoundry/tasking-simulator/internal/acbba"
	"github.com/signalsfoundry/tasking-simulator/internal/logging"
	"github.com/signalsfoundry/tasking-simulator/internal/observability"
)

// Bus carries CBOR-serialized bid messages between agents through per-agent
// mailboxes. Agents share no memory: a broadcast is encoded once and a copy
// of the bytes lands in each connected peer's queue.
type Bus struct {
	log     logging.Logger
	metrics *observability.SimCollector

	queues map[string][][]byte
}

// NewBus builds an empty bus. metrics may be nil.
func NewBus(log logging.Logger, metrics *observability.SimCollector) *Bus {
	if log == nil {
		log = logging.Noop()
	}
	return &Bus{
		log:     log,
		metrics: metrics,
		queues:  make(map[string][][]byte),
	}
}

// Register creates an empty mailbox for an agent.
func (b *Bus) Register(agentID string) {
	if _, ok := b.queues[agentID]; !ok {
		b.queues[agentID] = nil
	}
}

// Remove drops an agent's mailbox, discarding anything queued.
func (b *Bus) Remove(agentID string) {
	delete(b.queues, agentID)
}

// AgentIDs returns the registered mailbox owners, sorted.
func (b *Bus) AgentIDs() []string {
	ids := make([]string, 0, len(b.queues))
	for id := range b.queues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Broadcast encodes msg once and queues it for each recipient with a
// registered mailbox. Unregistered recipients are skipped.
func (b *Bus) Broadcast(ctx context.Context, msg acbba.BidMessage, recipients []string) error {
	if len(msg.Records) == 0 || len(recipients) == 0 {
		return nil
	}
	payload, err := acbba.EncodeMessage(msg)
	if err != nil {
		return err
	}
	for _, to := range recipients {
		if _, ok := b.queues[to]; !ok {
			continue
		}
		b.queues[to] = append(b.queues[to], payload)
		b.metrics.ObserveBidMessage("sent")
	}
	return nil
}

// Drain empties an agent's mailbox, decoding each payload. Malformed
// payloads are counted and logged, never silently dropped.
func (b *Bus) Drain(ctx context.Context, agentID string) []acbba.BidMessage {
	queued := b.queues[agentID]
	if len(queued) == 0 {
		return nil
	}
	b.queues[agentID] = nil

	msgs := make([]acbba.BidMessage, 0, len(queued))
	for _, payload := range queued {
		msg, err := acbba.DecodeMessage(payload)
		if err != nil {
			b.metrics.ObserveBidMessage("malformed")
			b.log.Warn(ctx, "malformed bid message discarded",
				logging.String("recipient", agentID),
				logging.Err(err),
			)
			continue
		}
		b.metrics.ObserveBidMessage("received")
		msgs = append(msgs, msg)
	}
	return msgs
}

// Pending reports how many payloads are queued for an agent.
func (b *Bus) Pending(agentID string) int {
	return len(b.queues[agentID])
}
