// Package workflow sequences one session's select → confirm → process →
// result flow.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/vid2sub/internal/media"
	"github.com/snarg/vid2sub/internal/metrics"
	"github.com/snarg/vid2sub/internal/payload"
	"github.com/snarg/vid2sub/internal/subtitle"
	"github.com/snarg/vid2sub/internal/transcribe"
)

var (
	ErrInvalidTransition = errors.New("invalid workflow transition")
	ErrNoResult          = errors.New("no transcription result")
)

// State is the workflow step.
type State int

const (
	Idle State = iota + 1
	FileSelected
	Processing
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FileSelected:
		return "file_selected"
	case Processing:
		return "processing"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// File is a user-selected upload. Temporary files are deleted when the
// controller discards them.
type File struct {
	Name      string
	Path      string
	Size      int64
	Temporary bool
}

func (f *File) discard() {
	if f == nil || !f.Temporary || f.Path == "" {
		return
	}
	os.Remove(f.Path)
}

// Transcoder is the codec engine as seen by one session.
type Transcoder interface {
	Init(ctx context.Context) error
	Convert(ctx context.Context, file io.Reader, onProgress func(int)) (*media.Audio, error)
}

// Notifier receives user-visible workflow signals.
type Notifier interface {
	OnState(s Snapshot)
	OnProgress(percent int)
	OnAlert(a Alert)
}

// Alert is a user-visible error.
type Alert struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Result is a successful transcription.
type Result struct {
	Text     string
	Segments []subtitle.Segment
	Language string
	Duration float64
}

// Snapshot is a consistent copy of the controller's state.
type Snapshot struct {
	State    State     `json:"-"`
	Step     int       `json:"step"`
	Status   string    `json:"status"`
	FileName string    `json:"file_name,omitempty"`
	FileSize int64     `json:"file_size,omitempty"`
	Progress int       `json:"progress"`
	Text     string    `json:"text,omitempty"`
	Timed    bool      `json:"timed,omitempty"`
	Alert    *Alert    `json:"alert,omitempty"`
	Updated  time.Time `json:"updated_at"`
}

// Options configures a Controller.
type Options struct {
	Transcoder      Transcoder
	Transcriber     transcribe.Transcriber
	MaxPayloadChars int
	Notifier        Notifier
	Log             zerolog.Logger
}

// Controller owns one workflow state machine. All transitions go through
// its mutex; the processing chain runs on a single goroutine per Confirm.
type Controller struct {
	transcoder  Transcoder
	transcriber transcribe.Transcriber
	maxPayload  int
	notify      Notifier
	log         zerolog.Logger

	mu       sync.Mutex
	state    State
	file     *File
	result   *Result
	progress int
	alert    *Alert
	updated  time.Time
}

// New creates a controller in the Idle state.
func New(opts Options) *Controller {
	n := opts.Notifier
	if n == nil {
		n = nopNotifier{}
	}
	return &Controller{
		transcoder:  opts.Transcoder,
		transcriber: opts.Transcriber,
		maxPayload:  opts.MaxPayloadChars,
		notify:      n,
		log:         opts.Log,
		state:       Idle,
		updated:     time.Now(),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the current state for display.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		State:    c.state,
		Step:     int(c.state),
		Status:   c.state.String(),
		Progress: c.progress,
		Updated:  c.updated,
	}
	if c.file != nil {
		s.FileName = c.file.Name
		s.FileSize = c.file.Size
	}
	if c.result != nil {
		s.Text = c.result.Text
		s.Timed = len(c.result.Segments) > 0
	}
	if c.alert != nil {
		a := *c.alert
		s.Alert = &a
	}
	return s
}

// setLocked moves to state s and returns the snapshot to publish once the
// lock is released.
func (c *Controller) setLocked(s State) Snapshot {
	c.state = s
	c.updated = time.Now()
	return c.snapshotLocked()
}

// Select stores f and moves to FileSelected. It is accepted from Idle,
// FileSelected (replacing the previous file) and Complete (starting over).
func (c *Controller) Select(f File) error {
	c.mu.Lock()
	if c.state == Processing {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	prev := c.file
	c.file = &f
	c.result = nil
	c.progress = 0
	c.alert = nil
	snap := c.setLocked(FileSelected)
	c.mu.Unlock()

	if prev != nil && prev.Path != f.Path {
		prev.discard()
	}
	c.log.Info().Str("file", f.Name).Int64("size", f.Size).Msg("file selected")
	c.notify.OnState(snap)
	return nil
}

// Reset discards the file and result and returns to Idle. Not allowed while
// processing.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.state == Processing {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	prev := c.file
	c.file = nil
	c.result = nil
	c.progress = 0
	c.alert = nil
	snap := c.setLocked(Idle)
	c.mu.Unlock()

	prev.discard()
	c.notify.OnState(snap)
	return nil
}

// Preload starts transcoder initialization ahead of the first Confirm.
// Failures are logged and alerted but leave the state unchanged. The alert
// stays on the snapshot until the next Select, Reset or Confirm so clients
// that connect later still see it.
func (c *Controller) Preload(ctx context.Context) error {
	err := c.transcoder.Init(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("transcoder preload failed")
		alert := Alert{Kind: Classify(err), Message: err.Error()}
		c.mu.Lock()
		c.alert = &alert
		c.updated = time.Now()
		c.mu.Unlock()
		c.notify.OnAlert(alert)
	}
	return err
}

// Confirm runs the processing chain and waits for it to finish.
func (c *Controller) Confirm(ctx context.Context) error {
	done, err := c.ConfirmAsync(ctx)
	if err != nil {
		return err
	}
	return <-done
}

// ConfirmAsync moves FileSelected → Processing and starts the chain on its
// own goroutine. ctx must outlive the caller's request; cancelling it aborts
// the run. The returned channel yields the run's error (nil on success).
func (c *Controller) ConfirmAsync(ctx context.Context) (<-chan error, error) {
	c.mu.Lock()
	if c.state != FileSelected || c.file == nil {
		c.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	file := c.file
	c.progress = 0
	c.alert = nil
	snap := c.setLocked(Processing)
	c.mu.Unlock()

	c.notify.OnState(snap)

	done := make(chan error, 1)
	go func() {
		done <- c.run(ctx, file)
		close(done)
	}()
	return done, nil
}

func (c *Controller) run(ctx context.Context, file *File) error {
	start := time.Now()
	log := c.log.With().Str("file", file.Name).Logger()

	res, err := c.process(ctx, file)
	if err != nil {
		kind := Classify(err)
		metrics.WorkflowRunsTotal.WithLabelValues(string(kind)).Inc()
		log.Error().Err(err).Str("kind", string(kind)).Dur("elapsed", time.Since(start)).Msg("processing failed")

		alert := Alert{Kind: kind, Message: err.Error()}
		c.mu.Lock()
		c.file = nil
		c.result = nil
		c.progress = 0
		c.alert = &alert
		snap := c.setLocked(Idle)
		c.mu.Unlock()

		file.discard()
		c.notify.OnAlert(alert)
		c.notify.OnState(snap)
		return err
	}

	metrics.WorkflowRunsTotal.WithLabelValues("complete").Inc()
	log.Info().
		Int("chars", len(res.Text)).
		Int("segments", len(res.Segments)).
		Dur("elapsed", time.Since(start)).
		Msg("transcription complete")

	c.mu.Lock()
	c.result = res
	c.progress = 100
	snap := c.setLocked(Complete)
	c.mu.Unlock()

	c.notify.OnState(snap)
	return nil
}

func (c *Controller) process(ctx context.Context, file *File) (*Result, error) {
	if err := c.transcoder.Init(ctx); err != nil {
		return nil, err
	}

	f, err := os.Open(file.Path)
	if err != nil {
		return nil, &media.TranscodeError{Err: fmt.Errorf("open upload: %w", err)}
	}
	audio, err := c.transcoder.Convert(ctx, f, c.setProgress)
	f.Close()
	if err != nil {
		return nil, err
	}

	encoded, err := payload.Encode(audio.Reader())
	if err != nil {
		return nil, err
	}
	if n := len(encoded); c.maxPayload > 0 && n > c.maxPayload {
		c.log.Warn().Int("encoded_chars", n).Int("max", c.maxPayload).Msg("payload truncated")
	}
	encoded = payload.Truncate(encoded, c.maxPayload)

	resp, err := c.transcriber.Transcribe(ctx, encoded)
	if err != nil {
		return nil, err
	}

	r := &Result{Text: resp.Text, Language: resp.Language, Duration: resp.Duration}
	for _, s := range resp.Segments {
		r.Segments = append(r.Segments, subtitle.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	return r, nil
}

func (c *Controller) setProgress(pct int) {
	c.mu.Lock()
	c.progress = pct
	c.mu.Unlock()
	c.notify.OnProgress(pct)
}

// Result returns the stored transcription, or ErrNoResult outside Complete.
func (c *Controller) Result() (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Complete || c.result == nil {
		return Result{}, ErrNoResult
	}
	return *c.result, nil
}

// Download renders the result as a subtitle document. It is regenerated on
// every call and does not change state.
func (c *Controller) Download(kind subtitle.Kind) (subtitle.Document, error) {
	res, err := c.Result()
	if err != nil {
		return subtitle.Document{}, err
	}
	return subtitle.New(res.Text, res.Segments, kind), nil
}

// Close discards any held file. A run in progress should be cancelled first.
func (c *Controller) Close() {
	c.mu.Lock()
	prev := c.file
	c.file = nil
	c.result = nil
	c.mu.Unlock()
	prev.discard()
}

type nopNotifier struct{}

func (nopNotifier) OnState(Snapshot) {}
func (nopNotifier) OnProgress(int)   {}
func (nopNotifier) OnAlert(Alert)    {}
