// Package session maps browser sessions to their workflow controller and
// transcoder instance.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/vid2sub/internal/events"
	"github.com/snarg/vid2sub/internal/media"
	"github.com/snarg/vid2sub/internal/transcribe"
	"github.com/snarg/vid2sub/internal/workflow"
)

var ErrNotFound = errors.New("session not found")

// Options configures a Manager.
type Options struct {
	Engine          *media.Engine
	Transcriber     transcribe.Transcriber
	Bus             *events.Bus
	MaxPayloadChars int
	TTL             time.Duration
	Log             zerolog.Logger
}

// Manager owns all live sessions.
type Manager struct {
	engine      *media.Engine
	transcriber transcribe.Transcriber
	bus         *events.Bus
	maxPayload  int
	ttl         time.Duration
	log         zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager. Runs started by its sessions are cancelled
// when Close is called.
func NewManager(opts Options) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.Bus == nil {
		opts.Bus = events.NewBus(0)
	}
	return &Manager{
		engine:      opts.Engine,
		transcriber: opts.Transcriber,
		bus:         opts.Bus,
		maxPayload:  opts.MaxPayloadChars,
		ttl:         opts.TTL,
		log:         opts.Log.With().Str("component", "session").Logger(),
		ctx:         ctx,
		cancel:      cancel,
		sessions:    make(map[string]*Session),
	}
}

// Session is one mounted page.
type Session struct {
	ID      string
	Created time.Time

	ctrl     *workflow.Controller
	inst     *media.Instance
	ctx      context.Context
	cancel   context.CancelFunc
	lastSeen atomic.Int64
}

// Controller returns the session's workflow controller.
func (s *Session) Controller() *workflow.Controller { return s.ctrl }

// Touch marks the session as active.
func (s *Session) Touch() { s.lastSeen.Store(time.Now().UnixNano()) }

// LastSeen returns the last time the session was used.
func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// Process confirms the selected file and runs the chain in the background.
// The run is bound to the session, not to the caller.
func (s *Session) Process() (<-chan error, error) {
	s.Touch()
	return s.ctrl.ConfirmAsync(s.ctx)
}

// Spool copies an upload into the session's private directory and returns it
// as a temporary workflow file.
func (s *Session) Spool(name string, r io.Reader) (workflow.File, error) {
	s.Touch()
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "upload"
	}
	path := filepath.Join(s.inst.Dir(), "upload-"+uuid.NewString()[:8]+filepath.Ext(base))

	f, err := os.Create(path)
	if err != nil {
		return workflow.File{}, fmt.Errorf("spool upload: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return workflow.File{}, fmt.Errorf("spool upload: %w", err)
	}
	return workflow.File{Name: base, Path: path, Size: n, Temporary: true}, nil
}

// Create mounts a new session: it acquires a transcoder instance and starts
// preloading the engine in the background.
func (m *Manager) Create() (*Session, error) {
	inst, err := m.engine.Acquire()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(m.ctx)
	log := m.log.With().Str("session", id).Logger()
	s := &Session{
		ID:      id,
		Created: time.Now(),
		inst:    inst,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.Touch()
	s.ctrl = workflow.New(workflow.Options{
		Transcoder:      inst,
		Transcriber:     m.transcriber,
		MaxPayloadChars: m.maxPayload,
		Notifier:        &busNotifier{bus: m.bus, session: id},
		Log:             log.With().Str("component", "workflow").Logger(),
	})

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	go s.ctrl.Preload(ctx)

	log.Info().Str("instance", inst.ID()).Msg("session created")
	return s, nil
}

// Get returns a live session and marks it active.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.Touch()
	return s, nil
}

// Delete unmounts a session: any run is cancelled and the transcoder
// instance is released.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.teardown(s)
	m.log.Info().Str("session", id).Msg("session deleted")
	return nil
}

func (m *Manager) teardown(s *Session) {
	s.cancel()
	s.ctrl.Close()
	s.inst.Release()
}

// Sweep deletes sessions idle since before now-TTL. Sessions that are
// processing are never swept. It returns the number removed.
func (m *Manager) Sweep(now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-m.ttl)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) && s.ctrl.State() != workflow.Processing {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.teardown(s)
		m.log.Info().Str("session", s.ID).Msg("idle session expired")
	}
	return len(expired)
}

// Run sweeps idle sessions until ctx is done, then closes every session.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return nil
		case now := <-t.C:
			m.Sweep(now)
		}
	}
}

// Close cancels all runs and releases every session.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, s := range all {
		m.teardown(s)
	}
}

// Bus returns the event bus sessions publish to.
func (m *Manager) Bus() *events.Bus { return m.bus }

// Transcriber returns the shared transcription backend.
func (m *Manager) Transcriber() transcribe.Transcriber { return m.transcriber }

// Engine returns the shared codec engine.
func (m *Manager) Engine() *media.Engine { return m.engine }

// SessionCount returns the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ProcessingCount returns the number of sessions currently processing.
func (m *Manager) ProcessingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if s.ctrl.State() == workflow.Processing {
			n++
		}
	}
	return n
}

func (m *Manager) EngineInstances() int    { return m.engine.Instances() }
func (m *Manager) EngineReady() bool       { return m.engine.Ready() }
func (m *Manager) SSESubscriberCount() int { return m.bus.SubscriberCount() }

// busNotifier publishes one session's workflow signals.
type busNotifier struct {
	bus     *events.Bus
	session string
}

func (n *busNotifier) OnState(s workflow.Snapshot) {
	n.bus.Publish(n.session, events.TypeState, s)
	if s.State == workflow.Complete {
		n.bus.Publish(n.session, events.TypeResult, map[string]any{"text": s.Text, "timed": s.Timed})
	}
}

func (n *busNotifier) OnProgress(percent int) {
	n.bus.Publish(n.session, events.TypeProgress, map[string]int{"percent": percent})
}

func (n *busNotifier) OnAlert(a workflow.Alert) {
	n.bus.Publish(n.session, events.TypeAlert, a)
}
