package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultSendQueue is the per-viewer outbound buffer used when none is configured.
const DefaultSendQueue = 64

var (
	// ErrSlowViewer is reported when a viewer's outbound queue is full.
	ErrSlowViewer = errors.New("viewer send queue full")
	// ErrViewerExists is returned by Join for an id that is already registered.
	ErrViewerExists = errors.New("viewer already registered")
	// ErrClosed is returned when joining a registry or session that has been closed.
	ErrClosed = errors.New("session closed")
)

// Sender delivers frames to one remote viewer. A viewer has exactly one writer
// goroutine, so implementations need not be safe for concurrent Send/Ping.
type Sender interface {
	Send(payload []byte) error
	Ping() error
	Close() error
}

// Metadata describes what a viewer is bound to.
type Metadata struct {
	Owner       string
	InterviewID string
}

// DeliveryError reports a failed send to a single viewer. It never reaches the writer
// that triggered the broadcast.
type DeliveryError struct {
	ViewerID string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering to viewer %s: %v", e.ViewerID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type frame struct {
	payload []byte
	ping    bool
}

type viewer struct {
	id     string
	meta   Metadata
	sender Sender
	queue  chan frame
	done   chan struct{}
	once   sync.Once
}

// Registry is the set of live viewers of one session. Each viewer is drained by its
// own goroutine, so frames reach a viewer in the order they were queued and a stalled
// viewer never holds up the others.
type Registry struct {
	mu       sync.Mutex
	viewers  map[string]*viewer
	queueLen int
	logger   *slog.Logger
	wg       sync.WaitGroup
	closed   bool
}

// NewRegistry creates an empty registry. If queueLen is <= 0, it defaults to DefaultSendQueue.
func NewRegistry(queueLen int, logger *slog.Logger) *Registry {
	if queueLen <= 0 {
		queueLen = DefaultSendQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		viewers:  make(map[string]*viewer),
		queueLen: queueLen,
		logger:   logger,
	}
}

// Join registers a viewer and starts its writer. Frames in initial are queued ahead of
// any later broadcast. The sender is left untouched when Join fails.
func (r *Registry) Join(id string, s Sender, meta Metadata, initial ...[]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if _, ok := r.viewers[id]; ok {
		return ErrViewerExists
	}

	queueLen := r.queueLen
	if len(initial) > queueLen {
		queueLen = len(initial)
	}
	v := &viewer{
		id:     id,
		meta:   meta,
		sender: s,
		queue:  make(chan frame, queueLen),
		done:   make(chan struct{}),
	}
	for _, p := range initial {
		v.queue <- frame{payload: p}
	}
	r.viewers[id] = v

	r.wg.Add(1)
	go r.drain(v)

	r.logger.Debug("viewer joined", "viewer_id", id, "interview_id", meta.InterviewID, "viewers", len(r.viewers))
	return nil
}

// Leave removes a viewer and closes its sender. Unknown ids are ignored.
func (r *Registry) Leave(id string) {
	r.mu.Lock()
	v, ok := r.viewers[id]
	if ok {
		delete(r.viewers, id)
	}
	remaining := len(r.viewers)
	r.mu.Unlock()

	if !ok {
		return
	}
	r.stop(v)
	r.logger.Debug("viewer left", "viewer_id", id, "viewers", remaining)
}

// Broadcast queues payload for every registered viewer and returns how many accepted it.
// Viewers whose queue is full are dropped.
func (r *Registry) Broadcast(payload []byte) int {
	return r.enqueue(frame{payload: payload})
}

// Ping queues a liveness probe for every viewer. Viewers that fail the probe, or whose
// queue is already full, are removed.
func (r *Registry) Ping() int {
	return r.enqueue(frame{ping: true})
}

func (r *Registry) enqueue(f frame) int {
	r.mu.Lock()
	var slow []*viewer
	accepted := 0
	for _, v := range r.viewers {
		select {
		case v.queue <- f:
			accepted++
		default:
			slow = append(slow, v)
		}
	}
	r.mu.Unlock()

	for _, v := range slow {
		r.logger.Warn("dropping viewer", "error", &DeliveryError{ViewerID: v.id, Err: ErrSlowViewer})
		r.Leave(v.id)
	}
	return accepted
}

// Len returns the number of registered viewers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.viewers)
}

// Close removes every viewer and waits for their writers to exit. Later joins fail
// with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	all := make([]*viewer, 0, len(r.viewers))
	for id, v := range r.viewers {
		all = append(all, v)
		delete(r.viewers, id)
	}
	r.mu.Unlock()

	for _, v := range all {
		r.stop(v)
	}
	r.wg.Wait()
}

func (r *Registry) stop(v *viewer) {
	v.once.Do(func() {
		close(v.done)
		if err := v.sender.Close(); err != nil {
			r.logger.Debug("closing viewer", "viewer_id", v.id, "error", err)
		}
	})
}

func (r *Registry) drain(v *viewer) {
	defer r.wg.Done()
	for {
		select {
		case <-v.done:
			return
		case f := <-v.queue:
			select {
			case <-v.done:
				return
			default:
			}
			var err error
			if f.ping {
				err = v.sender.Ping()
			} else {
				err = v.sender.Send(f.payload)
			}
			if err != nil {
				r.logger.Warn("delivery failed", "error", &DeliveryError{ViewerID: v.id, Err: err})
				r.Leave(v.id)
				return
			}
		}
	}
}
