package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kalambet/interviewd/internal/storage"
)

// Frame types written to viewers.
const (
	FrameMessage          = "message"
	FrameInterviewDetails = "interview_details"
)

// Store is the record store a Session writes through.
type Store interface {
	CreateInterview(ctx context.Context, title storage.Title, skills []storage.Skill) (string, error)
	ListInterviews(ctx context.Context) ([]storage.InterviewSummary, error)
	GetInterview(ctx context.Context, id string) (storage.InterviewDetail, error)
	AppendMessage(ctx context.Context, in storage.NewMessage) (storage.Message, error)
	SetStatus(ctx context.Context, id string, status storage.Status) error
	Close() error
}

// MessageFrame is the live update sent for every committed message.
type MessageFrame struct {
	Type string `json:"type"`
	storage.Message
}

// SnapshotFrame is sent once to a viewer right after it joins.
type SnapshotFrame struct {
	Type string                  `json:"type"`
	Data storage.InterviewDetail `json:"data"`
}

// Session is the single writer for one owner's interviews. Every mutation runs under
// mu, and a message is broadcast only after the store has committed it.
type Session struct {
	owner    string
	store    Store
	registry *Registry
	logger   *slog.Logger
	tracer   trace.Tracer

	mu     sync.Mutex
	closed bool
}

// Option configures a Session.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	sendQueue int
}

// WithLogger sets the logger used by the session and its registry.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSendQueue sets the per-viewer outbound queue length.
func WithSendQueue(n int) Option {
	return func(o *options) { o.sendQueue = n }
}

// New creates a Session for owner backed by store.
func New(owner string, store Store, opts ...Option) *Session {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("owner", owner)
	return &Session{
		owner:    owner,
		store:    store,
		registry: NewRegistry(o.sendQueue, logger),
		logger:   logger,
		tracer:   otel.Tracer("github.com/kalambet/interviewd/internal/session"),
	}
}

// Owner returns the identity this session belongs to.
func (s *Session) Owner() string { return s.owner }

// CreateInterview stores a new interview and returns its id.
func (s *Session) CreateInterview(ctx context.Context, title storage.Title, skills []storage.Skill) (string, error) {
	ctx, span := s.tracer.Start(ctx, "session.CreateInterview")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.store.CreateInterview(ctx, title, skills)
	if err != nil {
		recordError(span, err)
		return "", err
	}
	span.SetAttributes(attribute.String("interview.id", id))
	s.logger.Info("interview created", "interview_id", id, "title", title)
	return id, nil
}

// ListInterviews returns the owner's interviews, newest first.
func (s *Session) ListInterviews(ctx context.Context) ([]storage.InterviewSummary, error) {
	return s.store.ListInterviews(ctx)
}

// GetInterview returns an interview with its full transcript, or storage.ErrNotFound.
func (s *Session) GetInterview(ctx context.Context, id string) (storage.InterviewDetail, error) {
	return s.store.GetInterview(ctx, id)
}

// SetStatus records a caller-driven status change. Nothing is broadcast.
func (s *Session) SetStatus(ctx context.Context, id string, status storage.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.SetStatus(ctx, id, status)
}

// AppendMessage commits a message and then broadcasts it to every live viewer.
// Per-viewer delivery failures are never returned.
func (s *Session) AppendMessage(ctx context.Context, in storage.NewMessage) (storage.Message, error) {
	ctx, span := s.tracer.Start(ctx, "session.AppendMessage", trace.WithAttributes(
		attribute.String("interview.id", in.InterviewID),
		attribute.String("message.id", in.MessageID),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		recordError(span, err)
		return storage.Message{}, err
	}

	msg, err := s.store.AppendMessage(ctx, in)
	if err != nil {
		recordError(span, err)
		return storage.Message{}, err
	}

	payload, err := json.Marshal(MessageFrame{Type: FrameMessage, Message: msg})
	if err != nil {
		// The message is committed; only the fan-out is lost.
		s.logger.Error("encoding message frame", "message_id", msg.MessageID, "error", err)
		return msg, nil
	}
	delivered := s.registry.Broadcast(payload)
	span.SetAttributes(attribute.Int("viewers", delivered))
	return msg, nil
}

// Join registers sender as a viewer of interviewID and queues a snapshot of the
// interview ahead of any live message. If the interview does not exist the snapshot
// is skipped and the viewer only receives future messages.
func (s *Session) Join(ctx context.Context, interviewID string, sender Sender) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}

	var initial [][]byte
	detail, err := s.store.GetInterview(ctx, interviewID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Debug("viewer joined unknown interview", "interview_id", interviewID)
	case err != nil:
		return "", err
	default:
		snapshot, err := json.Marshal(SnapshotFrame{Type: FrameInterviewDetails, Data: detail})
		if err != nil {
			return "", fmt.Errorf("encoding snapshot: %w", err)
		}
		initial = append(initial, snapshot)
	}

	id := uuid.New().String()
	if err := s.registry.Join(id, sender, Metadata{Owner: s.owner, InterviewID: interviewID}, initial...); err != nil {
		return "", err
	}
	return id, nil
}

// Leave removes a viewer previously returned by Join.
func (s *Session) Leave(viewerID string) {
	s.registry.Leave(viewerID)
}

// Viewers returns the number of live viewers.
func (s *Session) Viewers() int {
	return s.registry.Len()
}

// Sweep probes every viewer for liveness.
func (s *Session) Sweep() int {
	return s.registry.Ping()
}

// Close disconnects all viewers and closes the store. It waits for any Join or
// mutation in progress, and viewers joining afterwards get ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.registry.Close()
	return s.store.Close()
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
