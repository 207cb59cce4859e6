package afkak

// batchKey identifies one PartitionBatch accumulator.
type batchKey struct {
	topic     string
	partition int32
}

// partitionBatch is the Data Model's PartitionBatch: a mutable
// accumulator for one (topic, partition), created lazily on first
// submission and drained atomically once a trigger fires. It is
// touched only by the producer's loop goroutine.
type partitionBatch struct {
	key       batchKey
	subs      []*submission
	count     int // message count, not submission count
	bytes     int
	createdAt int64 // clock.Now().UnixNano() of the first submission
}

func newPartitionBatch(key batchKey, createdAt int64) *partitionBatch {
	return &partitionBatch{key: key, createdAt: createdAt}
}

func (b *partitionBatch) add(s *submission) {
	b.subs = append(b.subs, s)
	b.count += len(s.messages)
	b.bytes += s.byteSize()
}

// remove drops s from the batch, preserving order of the rest. It
// reports whether s was found, so callers can tell a genuine
// cancel-before-dispatch removal from a stale request.
func (b *partitionBatch) remove(s *submission) bool {
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			b.count -= len(s.messages)
			b.bytes -= s.byteSize()
			return true
		}
	}
	return false
}

func (b *partitionBatch) empty() bool {
	return len(b.subs) == 0
}

// batchTable is the (topic, partition) -> PartitionBatch table the
// aggregator and trigger engine operate over, plus the running totals
// needed to evaluate the count/byte thresholds across every open
// batch at once. Thresholds are evaluated globally rather than per
// partition, so multiple partitions can trigger together off one
// combined count or byte total and flush as a single multi-partition
// call.
type batchTable struct {
	byKey       map[batchKey]*partitionBatch
	totalCount  int
	totalBytes  int
}

func newBatchTable() *batchTable {
	return &batchTable{byKey: make(map[batchKey]*partitionBatch)}
}

func (t *batchTable) get(key batchKey) (*partitionBatch, bool) {
	b, ok := t.byKey[key]
	return b, ok
}

func (t *batchTable) getOrCreate(key batchKey, createdAt int64) *partitionBatch {
	b, ok := t.byKey[key]
	if !ok {
		b = newPartitionBatch(key, createdAt)
		t.byKey[key] = b
	}
	return b
}

func (t *batchTable) add(key batchKey, s *submission, createdAt int64) {
	b := t.getOrCreate(key, createdAt)
	b.add(s)
	t.totalCount += len(s.messages)
	t.totalBytes += s.byteSize()
}

// removeSubmission removes s from whichever batch holds it, discarding
// the batch entirely if it becomes empty. Returns true if s was found.
func (t *batchTable) removeSubmission(key batchKey, s *submission) bool {
	b, ok := t.byKey[key]
	if !ok {
		return false
	}
	if !b.remove(s) {
		return false
	}
	t.totalCount -= len(s.messages)
	t.totalBytes -= s.byteSize()
	if b.empty() {
		delete(t.byKey, key)
	}
	return true
}

func (t *batchTable) empty() bool {
	return len(t.byKey) == 0
}

// drainAll removes and returns every open batch, resetting totals.
// Used both by the count/byte trigger (which always fires for the
// whole table, per the global-threshold semantics above) and by the
// time trigger's tick scan.
func (t *batchTable) drainAll() []*partitionBatch {
	if len(t.byKey) == 0 {
		return nil
	}
	out := make([]*partitionBatch, 0, len(t.byKey))
	for _, b := range t.byKey {
		out = append(out, b)
	}
	t.byKey = make(map[batchKey]*partitionBatch)
	t.totalCount = 0
	t.totalBytes = 0
	return out
}

// thresholdTriggered reports whether the count or byte ceiling has
// been reached across every currently open batch.
func (t *batchTable) thresholdTriggered(everyN, everyB int) bool {
	if everyN > 0 && t.totalCount >= everyN {
		return true
	}
	if everyB > 0 && t.totalBytes >= everyB {
		return true
	}
	return false
}

// anyExpired reports whether some open batch is at least age old as
// of now, driving the time-based trigger.
func (t *batchTable) anyExpired(now int64, age int64) bool {
	for _, b := range t.byKey {
		if now-b.createdAt >= age {
			return true
		}
	}
	return false
}
