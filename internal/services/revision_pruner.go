package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

/*
REVISION PRUNER WORKER POOL

Every final-save appends a revision row. Trimming history is not urgent and
must never hold up the owner's save acknowledgement, so the arbiter only
enqueues a PruneJob and a small fixed pool of workers does the deletes.

	final-save → CommitRevision → SubmitJob ─┐
	                                     jobs │ (bounded)
	                   worker 0..N-1 ← ───────┘ → RevisionRepository.Prune

A full queue drops the job: the next save of the same note prunes it anyway.
*/

var (
	ErrQueueFull     = errors.New("revision prune queue is full")
	ErrPrunerStopped = errors.New("revision pruner is shutting down")
	pruneTimeout     = 10 * time.Second
)

// PruneJob asks for a note's revision history to be trimmed.
type PruneJob struct {
	NoteID string
}

// RevisionPruner trims revision history with a fixed pool of workers.
type RevisionPruner struct {
	store   RevisionPruneStore
	keep    int
	workers int

	jobs    chan PruneJob
	wg      sync.WaitGroup
	mu      sync.RWMutex // guards closed against SubmitJob racing Shutdown
	closed  bool
	started bool
}

func NewRevisionPruner(store RevisionPruneStore, keep, numWorkers, queueSize int) *RevisionPruner {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &RevisionPruner{
		store:   store,
		keep:    keep,
		workers: numWorkers,
		jobs:    make(chan PruneJob, queueSize),
	}
}

// Start spawns the workers. Calling it twice is a no-op.
func (p *RevisionPruner) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	log.Printf("🔧 Starting revision pruner with %d workers (keep %d)", p.workers, p.keep)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *RevisionPruner) worker(id int) {
	defer p.wg.Done()

	// Range drains whatever is queued after Shutdown closes the channel.
	for job := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
		removed, err := p.store.Prune(ctx, job.NoteID, p.keep)
		cancel()

		if err != nil {
			log.Printf("  Pruner %d: note %s: %v", id, job.NoteID, err)
			continue
		}
		if removed > 0 {
			log.Printf("  Pruner %d: removed %d old revisions of note %s", id, removed, job.NoteID)
		}
	}
}

// SubmitJob enqueues without blocking.
func (p *RevisionPruner) SubmitJob(job PruneJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPrunerStopped
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish.
func (p *RevisionPruner) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	log.Println("✓ Revision pruner shutdown complete")
}
