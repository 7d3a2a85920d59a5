package sched

import (
	"log"
	"sync"
)

// Queue hands tasks from any goroutine to the tick loop. Tasks queued while
// a batch is running land in the next batch.
type Queue struct {
	log *log.Logger

	mu      sync.Mutex
	pending []func()
}

func NewQueue(logger *log.Logger) *Queue {
	return &Queue{log: logger}
}

func (q *Queue) RunOnNextTick(task func()) {
	if task == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, task)
	q.mu.Unlock()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// RunPending runs the batch queued before the call and returns its size.
// Must be called from the tick goroutine only.
func (q *Queue) RunPending() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, task := range batch {
		q.run(task)
	}
	return len(batch)
}

func (q *Queue) run(task func()) {
	defer func() {
		if r := recover(); r != nil && q.log != nil {
			q.log.Printf("scheduled task panic: %v", r)
		}
	}()
	task()
}
