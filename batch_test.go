package afkak

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatchTableGlobalCountThreshold(t *testing.T) {
	bt := newBatchTable()
	keyA := batchKey{topic: "T", partition: 0}
	keyB := batchKey{topic: "T", partition: 1}

	s1 := &submission{topic: "T", partition: 0, messages: []Message{{Value: []byte("1")}}}
	s2 := &submission{topic: "T", partition: 1, messages: []Message{{Value: []byte("2")}}}

	bt.add(keyA, s1, 100)
	require.False(t, bt.thresholdTriggered(2, 0))

	bt.add(keyB, s2, 100)
	require.True(t, bt.thresholdTriggered(2, 0), "two submissions across different partitions must trip a global count threshold")
}

func TestBatchTableByteThreshold(t *testing.T) {
	bt := newBatchTable()
	key := batchKey{topic: "T", partition: 0}
	s := &submission{topic: "T", partition: 0, messages: []Message{{Value: make([]byte, 64)}}}

	bt.add(key, s, 0)
	require.False(t, bt.thresholdTriggered(0, 128))
	require.True(t, bt.thresholdTriggered(0, 64))
}

func TestBatchTableRemoveSubmissionDropsEmptyBatch(t *testing.T) {
	bt := newBatchTable()
	key := batchKey{topic: "T", partition: 0}
	s := &submission{topic: "T", partition: 0, messages: []Message{{Value: []byte("x")}}}

	bt.add(key, s, 0)
	require.True(t, bt.removeSubmission(key, s))
	require.True(t, bt.empty())
	require.Equal(t, 0, bt.totalCount)
	require.Equal(t, 0, bt.totalBytes)
	require.False(t, bt.removeSubmission(key, s), "removing twice must report not found")
}

func TestBatchTableDrainAllResetsTotals(t *testing.T) {
	bt := newBatchTable()
	key := batchKey{topic: "T", partition: 0}
	s := &submission{topic: "T", partition: 0, messages: []Message{{Value: []byte("x")}}}
	bt.add(key, s, 0)

	drained := bt.drainAll()
	require.Len(t, drained, 1)
	require.True(t, bt.empty())
	require.Equal(t, 0, bt.totalCount)
	require.Nil(t, bt.drainAll())
}

func TestBatchTableAnyExpired(t *testing.T) {
	bt := newBatchTable()
	key := batchKey{topic: "T", partition: 0}
	s := &submission{topic: "T", partition: 0, messages: []Message{{Value: []byte("x")}}}
	bt.add(key, s, 1000)

	require.False(t, bt.anyExpired(1500, 1000))
	require.True(t, bt.anyExpired(2000, 1000))
}
