// Package queue holds scopes waiting for their next due minute.
package queue

import (
	"container/heap"
	"sort"
	"time"

	"maintd/internal/levelspec"
)

// Entry is one queued scope and the minute it is due.
type Entry struct {
	Scope levelspec.Scope
	Due   time.Time
}

// bucket holds every scope due in one minute, in insertion order.
type bucket struct {
	key       int64 // Unix minute
	scopes    []levelspec.Scope
	heapIndex int
}

func (b *bucket) due() time.Time { return time.Unix(b.key*60, 0).UTC() }

// bucketHeap orders buckets oldest first.
type bucketHeap []*bucket

func (h bucketHeap) Len() int           { return len(h) }
func (h bucketHeap) Less(i, j int) bool { return h[i].key < h[j].key }
func (h bucketHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *bucketHeap) Push(x any) {
	b := x.(*bucket) //nolint:errcheck // heap.Interface contract guarantees type
	b.heapIndex = len(*h)
	*h = append(*h, b)
}

func (h *bucketHeap) Pop() any {
	old := *h
	n := len(old)
	b := old[n-1]
	old[n-1] = nil
	b.heapIndex = -1
	*h = old[:n-1]
	return b
}

// Queue maps due minutes to scopes. A scope sits in at most one bucket.
//
// Queue is not safe for concurrent use.
type Queue struct {
	heap    bucketHeap
	buckets map[int64]*bucket
	where   map[levelspec.Scope]*bucket
}

func New() *Queue {
	return &Queue{
		buckets: map[int64]*bucket{},
		where:   map[levelspec.Scope]*bucket{},
	}
}

// MinuteKey is the bucket key for t.
func MinuteKey(t time.Time) int64 {
	s := t.Unix()
	k := s / 60
	if s < 0 && s%60 != 0 {
		k--
	}
	return k
}

// Enqueue puts s into the bucket for due, replacing any earlier entry.
func (q *Queue) Enqueue(s levelspec.Scope, due time.Time) {
	key := MinuteKey(due)
	if cur, ok := q.where[s]; ok {
		if cur.key == key {
			return
		}
		q.removeFrom(cur, s)
	}
	b, ok := q.buckets[key]
	if !ok {
		b = &bucket{key: key}
		q.buckets[key] = b
		heap.Push(&q.heap, b)
	}
	b.scopes = append(b.scopes, s)
	q.where[s] = b
}

// DequeueDue pops one scope from the earliest bucket if that bucket is due
// at now. Otherwise ok is false and wait is the time until the earliest
// bucket, or negative when the queue is empty.
func (q *Queue) DequeueDue(now time.Time) (e Entry, wait time.Duration, ok bool) {
	if len(q.heap) == 0 {
		return Entry{}, -1, false
	}
	b := q.heap[0]
	due := b.due()
	if due.After(now) {
		return Entry{}, due.Sub(now), false
	}
	s := b.scopes[0]
	q.removeFrom(b, s)
	return Entry{Scope: s, Due: due}, 0, true
}

// Remove drops s from whichever bucket holds it.
func (q *Queue) Remove(s levelspec.Scope) bool {
	b, ok := q.where[s]
	if !ok {
		return false
	}
	q.removeFrom(b, s)
	return true
}

func (q *Queue) removeFrom(b *bucket, s levelspec.Scope) {
	for i, cur := range b.scopes {
		if cur == s {
			b.scopes = append(b.scopes[:i], b.scopes[i+1:]...)
			break
		}
	}
	delete(q.where, s)
	if len(b.scopes) == 0 {
		heap.Remove(&q.heap, b.heapIndex)
		delete(q.buckets, b.key)
	}
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.heap = nil
	q.buckets = map[int64]*bucket{}
	q.where = map[levelspec.Scope]*bucket{}
}

// Len is the number of queued scopes.
func (q *Queue) Len() int { return len(q.where) }

// Due reports when s is queued for.
func (q *Queue) Due(s levelspec.Scope) (time.Time, bool) {
	b, ok := q.where[s]
	if !ok {
		return time.Time{}, false
	}
	return b.due(), true
}

// Entries lists queued scopes accepted by keep (nil keeps all), oldest
// bucket first and in insertion order within a bucket.
func (q *Queue) Entries(keep func(levelspec.Scope) bool) []Entry {
	bs := make([]*bucket, len(q.heap))
	copy(bs, q.heap)
	sort.Slice(bs, func(i, j int) bool { return bs[i].key < bs[j].key })
	var out []Entry
	for _, b := range bs {
		due := b.due()
		for _, s := range b.scopes {
			if keep == nil || keep(s) {
				out = append(out, Entry{Scope: s, Due: due})
			}
		}
	}
	return out
}
