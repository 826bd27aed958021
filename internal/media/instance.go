package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snarg/vid2sub/internal/metrics"
)

const (
	inputName  = "input"
	outputName = "output.mp3"
)

// Audio is the result of one conversion.
type Audio struct {
	Data     []byte
	MIMEType string
	Duration float64 // seconds, 0 if ffprobe failed
}

// Reader returns a reader over the audio bytes.
func (a *Audio) Reader() io.Reader {
	return bytes.NewReader(a.Data)
}

// Instance is one session's handle on the engine. Conversions on the same
// instance are serialized.
type Instance struct {
	id     string
	dir    string
	engine *Engine

	mu       sync.Mutex
	released atomic.Bool
}

// ID returns the instance identifier.
func (in *Instance) ID() string { return in.id }

// Dir returns the instance's private working directory.
func (in *Instance) Dir() string { return in.dir }

// Released reports whether Release has been called.
func (in *Instance) Released() bool { return in.released.Load() }

// Release removes the working directory and detaches the instance from the
// engine. Calling it more than once is a no-op.
func (in *Instance) Release() {
	if !in.released.CompareAndSwap(false, true) {
		return
	}
	if err := os.RemoveAll(in.dir); err != nil {
		in.engine.log.Warn().Err(err).Str("instance", in.id).Msg("failed to remove instance dir")
	}
	in.engine.forget(in.id)
	in.engine.log.Debug().Str("instance", in.id).Msg("instance released")
}

// Args returns the fixed ffmpeg argument list for converting input to output:
// drop video, MP3 via libmp3lame, 16 kHz, mono, VBR quality q, with
// machine-readable progress on stdout.
func Args(input, output string, quality int) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", input,
		"-vn",
		"-c:a", "libmp3lame",
		"-ar", "16000",
		"-ac", "1",
		"-q:a", strconv.Itoa(quality),
		"-progress", "pipe:1",
		"-nostats",
		output,
	}
}

// Convert writes file into the instance directory, transcodes it to mono
// 16 kHz MP3 and returns the audio. onProgress, when non-nil, receives
// non-decreasing percentages ending with 100 on success.
func (in *Instance) Convert(ctx context.Context, file io.Reader, onProgress func(int)) (*Audio, error) {
	if in.released.Load() {
		return nil, &TranscodeError{Err: ErrReleased}
	}
	ffmpeg, ffprobe, ok := in.engine.binaries()
	if !ok {
		return nil, &TranscodeError{Err: ErrNotInitialized}
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	log := in.engine.log.With().Str("instance", in.id).Logger()
	input := filepath.Join(in.dir, inputName)
	output := filepath.Join(in.dir, outputName)
	defer os.Remove(input)
	defer os.Remove(output)

	if err := writeFile(input, file); err != nil {
		return nil, &TranscodeError{Err: fmt.Errorf("write input: %w", err)}
	}

	duration, err := in.probeDuration(ctx, ffprobe, input)
	if err != nil {
		log.Debug().Err(err).Msg("ffprobe duration lookup failed, progress will jump to 100")
	}

	prog := &progress{total: duration, fn: onProgress}
	prog.report(0)

	start := time.Now()
	res, err := in.engine.runner.Run(ctx, ffmpeg, Args(input, output, in.engine.opts.Quality), prog.line)
	if err != nil {
		metrics.TranscodeFailuresTotal.Inc()
		return nil, &TranscodeError{Message: strings.TrimSpace(res.Stderr), Err: fmt.Errorf("ffmpeg: %w", err)}
	}
	elapsed := time.Since(start)
	metrics.TranscodeDuration.Observe(elapsed.Seconds())

	data, err := os.ReadFile(output)
	if err != nil {
		metrics.TranscodeFailuresTotal.Inc()
		return nil, &TranscodeError{Err: fmt.Errorf("read output: %w", err)}
	}
	prog.report(100)

	log.Info().
		Int("bytes", len(data)).
		Float64("duration_s", duration).
		Dur("elapsed", elapsed).
		Msg("audio extracted")

	return &Audio{Data: data, MIMEType: MIMEType, Duration: duration}, nil
}

// ConvertFile is Convert for a file already on disk.
func (in *Instance) ConvertFile(ctx context.Context, path string, onProgress func(int)) (*Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &TranscodeError{Err: fmt.Errorf("open input: %w", err)}
	}
	defer f.Close()
	return in.Convert(ctx, f, onProgress)
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (in *Instance) probeDuration(ctx context.Context, ffprobe, path string) (float64, error) {
	args := []string{"-v", "error", "-show_entries", "format=duration", "-of", "json", path}
	res, err := in.engine.runner.Run(ctx, ffprobe, args, nil)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(res.Stderr))
	}
	var out probeOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return 0, fmt.Errorf("ffprobe parse: %w", err)
	}
	d, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration %q: %w", out.Format.Duration, err)
	}
	return d, nil
}

// progress turns ffmpeg -progress key=value lines into percentages.
type progress struct {
	total float64 // seconds
	last  int
	sent  bool
	fn    func(int)
}

func (p *progress) line(s string) {
	key, val, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return
	}
	switch key {
	case "out_time_us", "out_time_ms": // both are microseconds
		if p.total <= 0 {
			return
		}
		us, err := strconv.ParseInt(val, 10, 64)
		if err != nil || us < 0 {
			return
		}
		pct := int(float64(us) / 1e6 / p.total * 100)
		if pct > 99 {
			pct = 99
		}
		p.report(pct)
	}
}

func (p *progress) report(pct int) {
	if p.fn == nil {
		return
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if p.sent && pct <= p.last {
		return
	}
	p.sent = true
	p.last = pct
	p.fn(pct)
}

// Init initializes the engine this instance belongs to.
func (in *Instance) Init(ctx context.Context) error {
	return in.engine.Init(ctx)
}
