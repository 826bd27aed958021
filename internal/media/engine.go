// Package media extracts speech-ready audio from uploaded video files using
// ffmpeg and ffprobe.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// MIMEType is the content type of every converted Audio.
const MIMEType = "audio/mp3"

var (
	ErrNotInitialized = errors.New("transcoder not initialized")
	ErrReleased       = errors.New("transcoder instance released")
)

// InitializationError reports that the codec engine could not be loaded.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize transcoder: %v", e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// TranscodeError reports a failed conversion. Message carries the codec's
// diagnostic output when there is any.
type TranscodeError struct {
	Message string
	Err     error
}

func (e *TranscodeError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("transcode: %v", e.Err)
	}
	return fmt.Sprintf("transcode: %v: %s", e.Err, e.Message)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// Options configures an Engine.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	WorkDir     string
	Quality     int // libmp3lame VBR quality, 0 (best) to 9
}

// Engine is the process-wide codec engine. It is initialized once and hands
// out per-session Instances.
type Engine struct {
	opts Options
	log  zerolog.Logger

	runner   commandRunner
	lookPath func(string) (string, error)
	group    singleflight.Group

	mu        sync.Mutex
	ready     bool
	ffmpeg    string
	ffprobe   string
	version   string
	instances map[string]*Instance
}

// NewEngine creates an uninitialized engine.
func NewEngine(opts Options, log zerolog.Logger) *Engine {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	return &Engine{
		opts:      opts,
		log:       log.With().Str("component", "media").Logger(),
		runner:    execRunner{},
		lookPath:  exec.LookPath,
		instances: make(map[string]*Instance),
	}
}

// Init resolves and verifies the ffmpeg and ffprobe executables. Concurrent
// callers share one attempt; once it succeeds further calls return nil
// immediately. A failed attempt is not cached.
func (e *Engine) Init(ctx context.Context) error {
	if e.Ready() {
		return nil
	}
	// The attempt is shared, so one caller going away must not cancel it
	// for the others.
	shared := context.WithoutCancel(ctx)
	ch := e.group.DoChan("init", func() (any, error) {
		if e.Ready() {
			return nil, nil
		}
		return nil, e.load(shared)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return &InitializationError{Err: ctx.Err()}
	}
}

func (e *Engine) load(ctx context.Context) error {
	ffmpeg, err := e.lookPath(e.opts.FFmpegPath)
	if err != nil {
		return &InitializationError{Err: fmt.Errorf("ffmpeg: %w", err)}
	}
	ffprobe, err := e.lookPath(e.opts.FFprobePath)
	if err != nil {
		return &InitializationError{Err: fmt.Errorf("ffprobe: %w", err)}
	}
	res, err := e.runner.Run(ctx, ffmpeg, []string{"-hide_banner", "-version"}, nil)
	if err != nil {
		return &InitializationError{Err: fmt.Errorf("ffmpeg -version: %w: %s", err, strings.TrimSpace(res.Stderr))}
	}
	if err := os.MkdirAll(e.opts.WorkDir, 0o755); err != nil {
		return &InitializationError{Err: fmt.Errorf("work dir: %w", err)}
	}

	version := strings.TrimSpace(strings.SplitN(res.Stdout, "\n", 2)[0])

	e.mu.Lock()
	e.ffmpeg = ffmpeg
	e.ffprobe = ffprobe
	e.version = version
	e.ready = true
	e.mu.Unlock()

	e.log.Info().Str("ffmpeg", ffmpeg).Str("ffprobe", ffprobe).Str("version", version).Msg("transcoder initialized")
	return nil
}

// Ready reports whether Init has succeeded.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Version returns the first line of `ffmpeg -version`, or "" before Init.
func (e *Engine) Version() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

func (e *Engine) binaries() (ffmpeg, ffprobe string, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ffmpeg, e.ffprobe, e.ready
}

// Acquire creates an Instance with its own private working directory.
// It does not require Init; conversions do.
func (e *Engine) Acquire() (*Instance, error) {
	if err := os.MkdirAll(e.opts.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	id := uuid.NewString()
	dir, err := os.MkdirTemp(e.opts.WorkDir, "vid2sub-"+id[:8]+"-")
	if err != nil {
		return nil, fmt.Errorf("create instance dir: %w", err)
	}
	inst := &Instance{id: id, dir: dir, engine: e}

	e.mu.Lock()
	e.instances[id] = inst
	e.mu.Unlock()

	e.log.Debug().Str("instance", id).Str("dir", dir).Msg("instance acquired")
	return inst, nil
}

// Instances returns the number of live (unreleased) instances.
func (e *Engine) Instances() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.instances)
}

// Close releases every live instance.
func (e *Engine) Close() {
	e.mu.Lock()
	live := make([]*Instance, 0, len(e.instances))
	for _, inst := range e.instances {
		live = append(live, inst)
	}
	e.mu.Unlock()

	for _, inst := range live {
		inst.Release()
	}
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.instances, id)
	e.mu.Unlock()
}
