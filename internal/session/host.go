package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/interviewd/internal/storage"
)

// ErrNoOwner is returned when a session is requested without an owner identity.
var ErrNoOwner = errors.New("owner identity is required")

// OpenFunc opens the record store for one owner.
type OpenFunc func(owner string) (Store, error)

// HostConfig configures a Host.
type HostConfig struct {
	// DataDir holds one database per owner. ":memory:" keeps every owner in memory.
	DataDir   string
	SendQueue int
	Logger    *slog.Logger
	// Open overrides how stores are opened; defaults to a SQLite file under DataDir.
	Open OpenFunc
}

// Host places exactly one Session per owner, opening its store on first use.
type Host struct {
	cfg    HostConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	group    singleflight.Group
}

// NewHost creates a Host. No stores are opened until Get is called.
func NewHost(cfg HostConfig) *Host {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Open == nil {
		dataDir := cfg.DataDir
		cfg.Open = func(owner string) (Store, error) {
			s, err := storage.Open(StorePath(dataDir, owner))
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}
	return &Host{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*Session),
	}
}

// StorePath returns the database path for owner under dataDir. Owner names are hashed
// so arbitrary identities map to safe file names.
func StorePath(dataDir, owner string) string {
	if dataDir == ":memory:" {
		return ":memory:"
	}
	sum := blake3.Sum256([]byte(owner))
	return filepath.Join(dataDir, "sessions", hex.EncodeToString(sum[:16])+".db")
}

// Get returns the session for owner, opening it if needed. Concurrent first calls for
// the same owner share one open.
func (h *Host) Get(ctx context.Context, owner string) (*Session, error) {
	if owner == "" {
		return nil, ErrNoOwner
	}
	if s, ok := h.lookup(owner); ok {
		return s, nil
	}

	ch := h.group.DoChan(owner, func() (any, error) {
		if s, ok := h.lookup(owner); ok {
			return s, nil
		}
		store, err := h.cfg.Open(owner)
		if err != nil {
			return nil, fmt.Errorf("opening session store: %w", err)
		}
		s := New(owner, store, WithLogger(h.logger), WithSendQueue(h.cfg.SendQueue))

		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed {
			s.Close()
			return nil, errors.New("host is closed")
		}
		h.sessions[owner] = s
		h.logger.Info("session opened", "owner", owner)
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	}
}

func (h *Host) lookup(owner string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[owner]
	return s, ok
}

// Len returns the number of open sessions.
func (h *Host) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Sweep probes every viewer of every open session and returns how many probes were queued.
func (h *Host) Sweep() int {
	h.mu.Lock()
	all := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		all = append(all, s)
	}
	h.mu.Unlock()

	total := 0
	for _, s := range all {
		total += s.Sweep()
	}
	return total
}

// Close closes every session. Later calls to Get fail.
func (h *Host) Close() error {
	h.mu.Lock()
	h.closed = true
	all := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	var errs []error
	for owner, s := range all {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing session %s: %w", owner, err))
		}
	}
	return errors.Join(errs...)
}
