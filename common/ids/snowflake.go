// Package ids generates the 64-bit Snowflake-style identifiers NoETL uses
// for execution_id, event_id and queue_id: a timestamp-ms component, a
// shard/node component, and a per-millisecond sequence, so ids are
// k-sortable and collision-free without a central allocator.
package ids

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

const (
	shardBits    = 10
	sequenceBits = 12

	maxShard    = int64(-1) ^ (int64(-1) << shardBits)
	maxSequence = int64(-1) ^ (int64(-1) << sequenceBits)

	shardShift    = sequenceBits
	timestampShift = sequenceBits + shardBits
)

// Epoch is the custom epoch (2024-01-01T00:00:00Z) ids are measured from, so
// the 41-bit timestamp component does not overflow for ~69 years.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ID is a Snowflake-style 64-bit identifier. It marshals to JSON as a
// decimal string (JS-safe 64-bit integers) and to SQL as a plain int64.
type ID int64

// String renders the id as a decimal string.
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// MarshalJSON renders the id as a JSON string, per spec §3's API-boundary rule.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (id *ID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", string(data), err)
	}
	*id = ID(v)
	return nil
}

// Generator produces monotonically increasing, collision-free Snowflake ids
// for one shard (one process). Safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	shard    int64
	lastTime int64
	sequence int64
}

// NewGenerator creates a Generator for the given shard id (0..1023),
// typically derived from a runtime component's registered name or pid.
func NewGenerator(shard int64) (*Generator, error) {
	if shard < 0 || shard > maxShard {
		return nil, fmt.Errorf("shard id %d out of range [0,%d]", shard, maxShard)
	}
	return &Generator{shard: shard}, nil
}

// Next returns the next id, blocking (without sleeping) across a clock tick
// boundary if the per-millisecond sequence space is exhausted.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := currentMillis()
	if now < g.lastTime {
		// Clock moved backwards (NTP adjustment); wait it out rather than
		// risk reusing a sequence number from the future.
		now = g.waitForTick(g.lastTime)
	}

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			now = g.waitForTick(g.lastTime)
		}
	} else {
		g.sequence = 0
	}

	g.lastTime = now

	id := (now << timestampShift) | (g.shard << shardShift) | g.sequence
	return ID(id)
}

func (g *Generator) waitForTick(last int64) int64 {
	now := currentMillis()
	for now <= last {
		now = currentMillis()
	}
	return now
}

func currentMillis() int64 {
	return time.Since(Epoch).Milliseconds()
}
