// Package manager linearizes game commands: one worker per gameId drains a
// FIFO queue, so for a given game at most one transition is in flight while
// distinct games proceed in parallel.
package manager

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fun-euchre/server/internal/euchre"
	"github.com/fun-euchre/server/internal/protocol"
)

// dedupeCapacity bounds the per-game LRU of processed requestIds.
const dedupeCapacity = 128

// queueCapacity bounds pending submissions per game.
const queueCapacity = 64

// Submission is one validated game command handed to the serializer.
type Submission struct {
	GameID    string
	RequestID string
	Type      string
	Seat      euchre.Seat
	CardID    string
	Trump     euchre.Suit
	Alone     bool
}

// Outcome is the serialized processing result. Persisted is false for
// duplicates and rejected transitions.
type Outcome struct {
	Persisted bool
	State     *euchre.GameState
	Outbound  []protocol.Event
}

// Processor applies one submission against the latest stored state. It runs
// on the game's worker goroutine, strictly one at a time per game.
type Processor func(sub Submission) Outcome

// Manager owns the per-game workers.
type Manager struct {
	mu        sync.Mutex
	workers   map[string]*worker
	processor Processor
	log       *zap.Logger
	closed    bool
}

// New builds a manager around the given processor.
func New(processor Processor, log *zap.Logger) *Manager {
	return &Manager{
		workers:   make(map[string]*worker),
		processor: processor,
		log:       log,
	}
}

type job struct {
	sub   Submission
	reply chan Outcome
}

type worker struct {
	queue chan job
	stop  chan struct{}

	mu     sync.Mutex
	seen   *requestLRU
	closed bool
}

// SubmitEvent enqueues a submission for its game. Duplicate requestIds are
// short-circuited before enqueue with no state change. The context cancels
// the wait, not the processing: an already-queued submission still runs.
// A full queue fails fast instead of blocking the caller.
func (m *Manager) SubmitEvent(ctx context.Context, sub Submission) (Outcome, error) {
	if sub.GameID == "" {
		return Outcome{}, fmt.Errorf("manager: submission without gameId")
	}
	w, err := m.workerFor(sub.GameID)
	if err != nil {
		return Outcome{}, err
	}

	j := job{sub: sub, reply: make(chan Outcome, 1)}

	// The closed check and the enqueue share the worker mutex so a
	// concurrent Forget cannot retire the worker between them.
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return Outcome{}, fmt.Errorf("manager: game %q is gone", sub.GameID)
	}
	if w.seen.Contains(sub.RequestID) {
		w.mu.Unlock()
		return Outcome{
			Persisted: false,
			Outbound: []protocol.Event{protocol.ActionRejected(
				sub.RequestID,
				protocol.CodeInvalidAction,
				fmt.Sprintf("Duplicate requestId %q for game %q", sub.RequestID, sub.GameID),
			)},
		}, nil
	}
	select {
	case w.queue <- j:
		w.mu.Unlock()
	default:
		w.mu.Unlock()
		return Outcome{}, fmt.Errorf("manager: game %q queue is full", sub.GameID)
	}

	select {
	case out := <-j.reply:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (m *Manager) workerFor(gameID string) (*worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("manager: closed")
	}
	w, ok := m.workers[gameID]
	if !ok {
		w = &worker{
			queue: make(chan job, queueCapacity),
			stop:  make(chan struct{}),
			seen:  newRequestLRU(dedupeCapacity),
		}
		m.workers[gameID] = w
		go m.run(gameID, w)
	}
	return w, nil
}

// run drains one game's queue in submission order. The queue channel is
// never closed; retirement is signalled through stop, after which no new
// submissions can enqueue and the remaining buffer is drained.
func (m *Manager) run(gameID string, w *worker) {
	for {
		select {
		case j := <-w.queue:
			m.handle(gameID, w, j)
		case <-w.stop:
			for {
				select {
				case j := <-w.queue:
					m.handle(gameID, w, j)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) handle(gameID string, w *worker, j job) {
	out := m.process(gameID, j.sub)
	if out.Persisted {
		w.mu.Lock()
		w.seen.Add(j.sub.RequestID)
		w.mu.Unlock()
	}
	j.reply <- out
}

func (m *Manager) process(gameID string, sub Submission) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			// A panicking processor must not wedge the game's queue.
			m.log.Error("game processor panic",
				zap.String("gameId", gameID),
				zap.String("requestId", sub.RequestID),
				zap.Any("panic", r),
			)
			out = Outcome{Outbound: []protocol.Event{protocol.ActionRejected(
				sub.RequestID, protocol.CodeInvalidState, "internal error processing command",
			)}}
		}
	}()
	return m.processor(sub)
}

// Forget drops a game's worker, releasing its queue and dedupe memory.
// Called when the game record is deleted.
func (m *Manager) Forget(gameID string) {
	m.mu.Lock()
	w, ok := m.workers[gameID]
	delete(m.workers, gameID)
	m.mu.Unlock()
	if ok {
		retire(w)
	}
}

// Close stops every worker. Pending submissions still drain.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	workers := make([]*worker, 0, len(m.workers))
	for id, w := range m.workers {
		workers = append(workers, w)
		delete(m.workers, id)
	}
	m.mu.Unlock()
	for _, w := range workers {
		retire(w)
	}
}

func retire(w *worker) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.stop)
	}
}
