package services

import (
	"context"
	"errors"
	"log"
	"sync"

	"persona-kb/internal/models"
)

// ErrQueueClosed is returned by Enqueue after Shutdown.
var ErrQueueClosed = errors.New("processing queue is shutting down")

// Processor is what the queue runs for each job.
type Processor interface {
	Process(ctx context.Context, sourceID string) (*models.Source, error)
}

// ProcessingQueue runs admin-triggered processing on a fixed pool of
// workers fed by a bounded channel. A full queue blocks Enqueue.
type ProcessingQueue struct {
	processor Processor

	jobs    chan string
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func NewProcessingQueue(processor Processor, numWorkers, queueSize int) *ProcessingQueue {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &ProcessingQueue{
		processor: processor,
		jobs:      make(chan string, queueSize),
		workers:   numWorkers,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start spawns the workers.
func (q *ProcessingQueue) Start() {
	log.Printf("🔧 Starting processing queue with %d workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	log.Println("✓ Processing queue started")
}

func (q *ProcessingQueue) worker(id int) {
	defer q.wg.Done()

	for sourceID := range q.jobs {
		if q.ctx.Err() != nil {
			log.Printf("  Worker %d dropping source %s: shutting down", id, sourceID)
			continue
		}

		log.Printf("  Worker %d processing source %s", id, sourceID)
		if _, err := q.processor.Process(q.ctx, sourceID); err != nil {
			log.Printf("  Worker %d error on source %s: %v", id, sourceID, err)
		}
	}
}

// Enqueue schedules a source. It blocks while the queue is full until ctx
// is done, and fails once the queue is shutting down.
func (q *ProcessingQueue) Enqueue(ctx context.Context, sourceID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- sourceID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return ErrQueueClosed
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish. When ctx
// expires first, in-flight runs are cancelled and remaining jobs dropped.
func (q *ProcessingQueue) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down processing queue...")

	// Blocked Enqueue calls hold the read lock; workers keep draining so they return.
	done := make(chan struct{})
	go func() {
		q.mu.Lock()
		q.closed = true
		close(q.jobs)
		q.mu.Unlock()

		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		log.Println("✓ Processing queue shutdown complete")
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		log.Println("⚠️  Processing queue shutdown cut short")
		return ctx.Err()
	}
}

// Len returns the number of jobs waiting for a worker.
func (q *ProcessingQueue) Len() int {
	return len(q.jobs)
}
