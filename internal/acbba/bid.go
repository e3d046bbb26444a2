package acbba

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"
)

// NoBidder marks a task with no known winner.
const NoBidder = ""

// bidPrecision is the number of decimal places bid values are quantized to
// before comparison or broadcast. Cross-agent equality checks must be exact,
// so every value that leaves an agent goes through Quantize first.
const bidPrecision = 9

// Quantize rounds a bid value to the protocol precision.
func Quantize(v float64) float64 {
	q, _ := decimal.NewFromFloat(v).Round(bidPrecision).Float64()
	return q
}

// BidRecord is the (task, bidder, value, timestamp) tuple exchanged between
// agents. Timestamps are simulation time.
type BidRecord struct {
	TaskID    string    `cbor:"task"`
	Bidder    string    `cbor:"bidder"`
	Value     float64   `cbor:"value"`
	Timestamp time.Time `cbor:"ts"`
}

// HasWinner reports whether the record names a winner.
func (r BidRecord) HasWinner() bool { return r.Bidder != NoBidder }

// Equal compares all fields. Values are expected to already be quantized.
func (r BidRecord) Equal(o BidRecord) bool {
	return r.TaskID == o.TaskID &&
		r.Bidder == o.Bidder &&
		r.Value == o.Value &&
		r.Timestamp.Equal(o.Timestamp)
}

func (r BidRecord) String() string {
	return fmt.Sprintf("bid{task=%s bidder=%s value=%.9f ts=%s}",
		r.TaskID, r.Bidder, r.Value, r.Timestamp.Format(time.RFC3339))
}

// BidMessage is one agent's broadcast for a round: a serialized summary of
// the bid records it wants its connected peers to see. Only these summaries
// cross agent boundaries; bundles and bid tables never do.
type BidMessage struct {
	Sender  string      `cbor:"sender"`
	SentAt  time.Time   `cbor:"sent_at"`
	Records []BidRecord `cbor:"records"`
}

// EncodeMessage serializes a bid message for the wire.
func EncodeMessage(m BidMessage) ([]byte, error) {
	b, err := cbor.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode bid message: %w", err)
	}
	return b, nil
}

// DecodeMessage deserializes a bid message. Malformed payloads are reported,
// never dropped silently; the caller counts and logs them.
func DecodeMessage(b []byte) (BidMessage, error) {
	var m BidMessage
	if err := cbor.Unmarshal(b, &m); err != nil {
		return BidMessage{}, fmt.Errorf("decode bid message: %w", err)
	}
	return m, nil
}
