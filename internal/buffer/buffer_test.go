package buffer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgebridge/otgw/internal/record"
)

func mkRecord(sourceName string, eventTimeUs int64, v float64) record.Record {
	return record.Record{
		EventTimeUs:  eventTimeUs,
		IngestTimeUs: eventTimeUs,
		SourceName:   sourceName,
		ProtocolType: record.ProtocolOPCUA,
		TopicOrPath:  "ns=2;s=T",
		Value:        record.Value{Type: record.ValueFloat, Float: v},
		Status:       record.StatusGood,
	}
}

// TestSingleValueRoundTrip is scenario S1 from spec §8: memory queue
// size 10, spool disabled, one record enqueued and dequeued.
func TestSingleValueRoundTrip(t *testing.T) {
	b, err := New(Config{MaxQueueSize: 10})
	require.NoError(t, err)

	r := mkRecord("plc1", 1_000_000, 25.3)
	outcome, err := b.Enqueue(r)
	require.NoError(t, err)
	assert.Equal(t, Accepted, outcome)

	got, ok := b.Dequeue()
	require.True(t, ok)
	assert.Equal(t, r.Value, got.Value)

	_, ok = b.Dequeue()
	assert.False(t, ok, "second dequeue on an empty buffer must return empty")
}

// TestSpoolOverflowPath is scenario S2 from spec §8: memory size 2,
// spool enabled, drop_newest; 5 enqueues spill R3-R5 to spool and all
// five dequeue back out in FIFO order.
func TestSpoolOverflowPath(t *testing.T) {
	dir := t.TempDir()
	b, err := New(Config{
		MaxQueueSize:  2,
		DropPolicy:    DropNewest,
		SpoolEnabled:  true,
		SpoolPath:     filepath.Join(dir, "spool"),
		SpoolMaxBytes: 1024 * 1024,
		SpoolKeyPath:  filepath.Join(dir, "certs", "spool.key"),
	})
	require.NoError(t, err)

	records := make([]record.Record, 5)
	for i := range records {
		records[i] = mkRecord("plc1", int64(1_000_000+i), float64(i))
		outcome, err := b.Enqueue(records[i])
		require.NoError(t, err)
		assert.Equal(t, Accepted, outcome)
	}

	snap := b.Snapshot()
	assert.Equal(t, 2, snap.MemDepth)
	assert.Equal(t, 3, snap.SpoolFiles)

	for i, want := range records {
		got, ok := b.Dequeue()
		require.True(t, ok, "dequeue %d", i)
		assert.Equal(t, want.EventTimeUs, got.EventTimeUs)
		assert.Equal(t, want.Value, got.Value)
	}

	_, ok := b.Dequeue()
	assert.False(t, ok)
}

func TestDropNewestWhenSaturated(t *testing.T) {
	b, err := New(Config{MaxQueueSize: 2, DropPolicy: DropNewest})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := b.Enqueue(mkRecord("s", int64(i+1_000_000), float64(i)))
		require.NoError(t, err)
	}

	outcome, err := b.Enqueue(mkRecord("s", 1_000_002, 9))
	require.NoError(t, err)
	assert.Equal(t, Dropped, outcome)

	snap := b.Snapshot()
	assert.Equal(t, 2, snap.MemDepth)
	assert.EqualValues(t, 1, snap.DroppedTotal)
}

func TestDropOldestEvictsHead(t *testing.T) {
	b, err := New(Config{MaxQueueSize: 2, DropPolicy: DropOldest})
	require.NoError(t, err)

	first := mkRecord("s", 1_000_000, 1)
	second := mkRecord("s", 1_000_001, 2)
	third := mkRecord("s", 1_000_002, 3)

	_, err = b.Enqueue(first)
	require.NoError(t, err)
	_, err = b.Enqueue(second)
	require.NoError(t, err)

	outcome, err := b.Enqueue(third)
	require.NoError(t, err)
	assert.Equal(t, Dropped, outcome)

	got, ok := b.Dequeue()
	require.True(t, ok)
	assert.Equal(t, second.Value, got.Value, "oldest entry should have been evicted")

	got, ok = b.Dequeue()
	require.True(t, ok)
	assert.Equal(t, third.Value, got.Value)
}

func TestRejectPolicyReturnsError(t *testing.T) {
	b, err := New(Config{MaxQueueSize: 1, DropPolicy: Reject})
	require.NoError(t, err)

	_, err = b.Enqueue(mkRecord("s", 1_000_000, 1))
	require.NoError(t, err)

	_, err = b.Enqueue(mkRecord("s", 1_000_001, 2))
	assert.Error(t, err)
}

func TestSendToDLQRequiresSpool(t *testing.T) {
	b, err := New(Config{MaxQueueSize: 1})
	require.NoError(t, err)
	err = b.SendToDLQ(mkRecord("s", 1_000_000, 1), "non-retriable sink rejection")
	assert.Error(t, err)
}

func TestClearEmptiesMemoryOnly(t *testing.T) {
	b, err := New(Config{MaxQueueSize: 2})
	require.NoError(t, err)
	_, err = b.Enqueue(mkRecord("s", 1_000_000, 1))
	require.NoError(t, err)

	b.Clear()
	snap := b.Snapshot()
	assert.Equal(t, 0, snap.MemDepth)
}
