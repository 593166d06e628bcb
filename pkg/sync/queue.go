package sync

import "sync"

type queueEntry[T any] struct {
	item     T
	sentinel bool
}

// TypedQueue is an unbounded, blocking FIFO queue which tracks the number
// of unfinished items. Every item returned by Get must be acknowledged with
// TaskDone once it has been fully processed, which is what Join waits on.
//
// Sentinels are distinguished "stop" markers which consumers receive from Get
// with ok=false. They are not counted as unfinished work.
type TypedQueue[T any] struct {
	mu         sync.Mutex
	notEmpty   *sync.Cond
	allDone    *sync.Cond
	entries    []queueEntry[T]
	unfinished int
}

func NewTypedQueue[T any]() *TypedQueue[T] {
	q := &TypedQueue[T]{entries: make([]queueEntry[T], 0)}
	q.notEmpty = sync.NewCond(&q.mu)
	q.allDone = sync.NewCond(&q.mu)

	return q
}

// Put appends the item to the back of the queue.
func (q *TypedQueue[T]) Put(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, queueEntry[T]{item: item})
	q.unfinished++
	q.notEmpty.Signal()
}

// PutSentinel appends a stop marker to the back of the queue. Exactly one
// consumer will receive it.
func (q *TypedQueue[T]) PutSentinel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, queueEntry[T]{sentinel: true})
	q.notEmpty.Signal()
}

// Get removes and returns the item at the front of the queue, blocking
// until one is available. ok is false when the entry was a sentinel.
func (q *TypedQueue[T]) Get() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.entries) == 0 {
		q.notEmpty.Wait()
	}

	entry := q.entries[0]
	q.entries[0] = queueEntry[T]{}
	q.entries = q.entries[1:]

	return entry.item, !entry.sentinel
}

// TaskDone marks one previously retrieved item as fully processed.
// Calling TaskDone more times than items were Put panics.
func (q *TypedQueue[T]) TaskDone() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.unfinished <= 0 {
		panic("sync: TaskDone called more times than there were items in the queue")
	}

	q.unfinished--
	if q.unfinished == 0 {
		q.allDone.Broadcast()
	}
}

// Join blocks until every item Put on the queue has been marked with TaskDone.
func (q *TypedQueue[T]) Join() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.unfinished > 0 {
		q.allDone.Wait()
	}
}

// Len returns the number of entries (including sentinels) waiting in the queue.
func (q *TypedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

// Unfinished returns the number of items which have not yet been marked done.
func (q *TypedQueue[T]) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.unfinished
}
