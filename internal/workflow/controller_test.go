package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/vid2sub/internal/media"
	"github.com/snarg/vid2sub/internal/payload"
	"github.com/snarg/vid2sub/internal/subtitle"
	"github.com/snarg/vid2sub/internal/transcribe"
)

type fakeTranscoder struct {
	initErr    error
	convertErr error
	initCalls  int
	gotBytes   int
}

func (f *fakeTranscoder) Init(ctx context.Context) error {
	f.initCalls++
	return f.initErr
}

func (f *fakeTranscoder) Convert(ctx context.Context, file io.Reader, onProgress func(int)) (*media.Audio, error) {
	if f.convertErr != nil {
		return nil, f.convertErr
	}
	n, err := io.Copy(io.Discard, file)
	if err != nil {
		return nil, err
	}
	f.gotBytes = int(n)
	for _, p := range []int{0, 50, 100} {
		onProgress(p)
	}
	return &media.Audio{Data: bytes.Repeat([]byte{0xFF, 0xFB}, 1000), MIMEType: media.MIMEType}, nil
}

type fakeTranscriber struct {
	fn      func(ctx context.Context, payload string) (*transcribe.Response, error)
	payload string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, p string) (*transcribe.Response, error) {
	f.payload = p
	return f.fn(ctx, p)
}
func (f *fakeTranscriber) Name() string  { return "fake" }
func (f *fakeTranscriber) Model() string { return "fake-1" }

func textTranscriber(text string) *fakeTranscriber {
	return &fakeTranscriber{fn: func(context.Context, string) (*transcribe.Response, error) {
		return &transcribe.Response{Text: text}, nil
	}}
}

type recorder struct {
	mu       sync.Mutex
	states   []State
	progress []int
	alerts   []Alert
}

func (r *recorder) OnState(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s.State)
}

func (r *recorder) OnProgress(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recorder) OnAlert(a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func newTestController(t *testing.T, tc Transcoder, tr transcribe.Transcriber, max int) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{}
	c := New(Options{
		Transcoder:      tc,
		Transcriber:     tr,
		MaxPayloadChars: max,
		Notifier:        rec,
		Log:             zerolog.Nop(),
	})
	return c, rec
}

// sampleVideo writes a size-byte placeholder upload and returns it as a temporary File.
func sampleVideo(t *testing.T, size int) File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.mp4")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{'v'}, size), 0o644))
	return File{Name: "sample.mp4", Path: path, Size: int64(size), Temporary: true}
}

func TestHappyPath(t *testing.T) {
	tc := &fakeTranscoder{}
	c, rec := newTestController(t, tc, textTranscriber("hello world"), 100000)
	assert.Equal(t, Idle, c.State())

	file := sampleVideo(t, 5<<20)
	require.NoError(t, c.Select(file))
	require.NoError(t, c.Confirm(context.Background()))

	assert.Equal(t, Complete, c.State())
	assert.Equal(t, []State{FileSelected, Processing, Complete}, rec.states)
	assert.Equal(t, []int{0, 50, 100}, rec.progress)
	assert.Empty(t, rec.alerts)
	assert.Equal(t, 5<<20, tc.gotBytes)

	res, err := c.Result()
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)

	snap := c.Snapshot()
	assert.Equal(t, 4, snap.Step)
	assert.Equal(t, "complete", snap.Status)
	assert.Equal(t, "sample.mp4", snap.FileName)
	assert.Equal(t, 100, snap.Progress)
}

func TestDownload(t *testing.T) {
	c, rec := newTestController(t, &fakeTranscoder{}, textTranscriber("hello world"), 0)

	_, err := c.Download(subtitle.SRT)
	require.ErrorIs(t, err, ErrNoResult)

	require.NoError(t, c.Select(sampleVideo(t, 16)))
	require.NoError(t, c.Confirm(context.Background()))

	doc, err := c.Download(subtitle.SRT)
	require.NoError(t, err)
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:10,000\nhello world", doc.Body)
	assert.Equal(t, "transcript.srt", doc.FileName())

	vtt, err := c.Download(subtitle.VTT)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(vtt.Body, "WEBVTT"))

	again, err := c.Download(subtitle.SRT)
	require.NoError(t, err)
	assert.Equal(t, doc, again)

	assert.Equal(t, Complete, c.State())
	assert.Equal(t, []State{FileSelected, Processing, Complete}, rec.states)
}

func TestTimedSegmentsUsedForDownload(t *testing.T) {
	tr := &fakeTranscriber{fn: func(context.Context, string) (*transcribe.Response, error) {
		return &transcribe.Response{
			Text:     "hello world",
			Segments: []transcribe.Segment{{Start: 0, End: 1, Text: "hello"}, {Start: 1, End: 2, Text: "world"}},
		}, nil
	}}
	c, _ := newTestController(t, &fakeTranscoder{}, tr, 0)
	require.NoError(t, c.Select(sampleVideo(t, 16)))
	require.NoError(t, c.Confirm(context.Background()))

	doc, err := c.Download(subtitle.SRT)
	require.NoError(t, err)
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:01,000\nhello\n\n2\n00:00:01,000 --> 00:00:02,000\nworld", doc.Body)
	assert.True(t, c.Snapshot().Timed)
}

func TestTranscriptionFailure(t *testing.T) {
	tr := &fakeTranscriber{fn: func(context.Context, string) (*transcribe.Response, error) {
		return nil, &transcribe.TranscriptionError{StatusCode: 401, Body: "Invalid API Key"}
	}}
	c, rec := newTestController(t, &fakeTranscoder{}, tr, 0)

	file := sampleVideo(t, 1024)
	require.NoError(t, c.Select(file))
	err := c.Confirm(context.Background())
	require.Error(t, err)

	assert.Equal(t, Idle, c.State())
	assert.Equal(t, []State{FileSelected, Processing, Idle}, rec.states)
	require.Len(t, rec.alerts, 1)
	assert.Equal(t, KindTranscription, rec.alerts[0].Kind)
	assert.Contains(t, rec.alerts[0].Message, "401")

	snap := c.Snapshot()
	assert.Empty(t, snap.FileName, "file must be discarded")
	require.NotNil(t, snap.Alert)
	assert.Contains(t, snap.Alert.Message, "401")

	_, statErr := os.Stat(file.Path)
	assert.True(t, os.IsNotExist(statErr), "temporary upload should be removed")

	_, err = c.Download(subtitle.VTT)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestFailureKinds(t *testing.T) {
	tests := []struct {
		name string
		tc   *fakeTranscoder
		want ErrorKind
	}{
		{"init", &fakeTranscoder{initErr: &media.InitializationError{Err: errors.New("ffmpeg missing")}}, KindInitialization},
		{"transcode", &fakeTranscoder{convertErr: &media.TranscodeError{Message: "Invalid data", Err: errors.New("exit status 1")}}, KindTranscode},
		{"unknown", &fakeTranscoder{convertErr: errors.New("gremlins")}, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newTestController(t, tt.tc, textTranscriber("never"), 0)
			require.NoError(t, c.Select(sampleVideo(t, 8)))
			require.Error(t, c.Confirm(context.Background()))

			assert.Equal(t, Idle, c.State())
			require.Len(t, rec.alerts, 1)
			assert.Equal(t, tt.want, rec.alerts[0].Kind)
		})
	}
}

func TestTruncatesPayload(t *testing.T) {
	tr := textTranscriber("ok")
	c, _ := newTestController(t, &fakeTranscoder{}, tr, 100)
	require.NoError(t, c.Select(sampleVideo(t, 8)))
	require.NoError(t, c.Confirm(context.Background()))

	assert.Len(t, tr.payload, 100)
	full, err := payload.Encode(bytes.NewReader(bytes.Repeat([]byte{0xFF, 0xFB}, 1000)))
	require.NoError(t, err)
	assert.Equal(t, full[:100], tr.payload)
}

func TestInvalidTransitions(t *testing.T) {
	release := make(chan struct{})
	tr := &fakeTranscriber{fn: func(ctx context.Context, _ string) (*transcribe.Response, error) {
		<-release
		return &transcribe.Response{Text: "late"}, nil
	}}
	c, _ := newTestController(t, &fakeTranscoder{}, tr, 0)

	_, err := c.ConfirmAsync(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition, "confirm from Idle")

	require.NoError(t, c.Select(sampleVideo(t, 8)))
	done, err := c.ConfirmAsync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Processing, c.State())

	_, err = c.ConfirmAsync(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition, "second confirm while processing")
	assert.ErrorIs(t, c.Select(sampleVideo(t, 8)), ErrInvalidTransition)
	assert.ErrorIs(t, c.Reset(), ErrInvalidTransition)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, Complete, c.State())
}

func TestRestartFromComplete(t *testing.T) {
	c, rec := newTestController(t, &fakeTranscoder{}, textTranscriber("first"), 0)
	first := sampleVideo(t, 8)
	require.NoError(t, c.Select(first))
	require.NoError(t, c.Confirm(context.Background()))

	second := sampleVideo(t, 8)
	require.NoError(t, c.Select(second))
	assert.Equal(t, FileSelected, c.State())
	_, err := c.Result()
	assert.ErrorIs(t, err, ErrNoResult)

	_, statErr := os.Stat(first.Path)
	assert.True(t, os.IsNotExist(statErr), "replaced upload should be removed")

	require.NoError(t, c.Reset())
	assert.Equal(t, Idle, c.State())
	_, statErr = os.Stat(second.Path)
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, []State{FileSelected, Processing, Complete, FileSelected, Idle}, rec.states)
}

func TestNonTemporaryFileKept(t *testing.T) {
	tr := &fakeTranscriber{fn: func(context.Context, string) (*transcribe.Response, error) {
		return nil, fmt.Errorf("boom")
	}}
	c, _ := newTestController(t, &fakeTranscoder{}, tr, 0)
	file := sampleVideo(t, 8)
	file.Temporary = false

	require.NoError(t, c.Select(file))
	require.Error(t, c.Confirm(context.Background()))
	_, err := os.Stat(file.Path)
	assert.NoError(t, err, "caller-owned file must not be deleted")
}

func TestPreload(t *testing.T) {
	t.Run("failure_alerts_without_state_change", func(t *testing.T) {
		tc := &fakeTranscoder{initErr: &media.InitializationError{Err: errors.New("no ffmpeg")}}
		c, rec := newTestController(t, tc, textTranscriber("x"), 0)
		require.NoError(t, c.Select(sampleVideo(t, 8)))

		err := c.Preload(context.Background())
		require.Error(t, err)
		assert.Equal(t, FileSelected, c.State())
		require.Len(t, rec.alerts, 1)
		assert.Equal(t, KindInitialization, rec.alerts[0].Kind)
		assert.Equal(t, []State{FileSelected}, rec.states)

		snap := c.Snapshot()
		require.NotNil(t, snap.Alert, "alert kept for late subscribers")
		assert.Equal(t, KindInitialization, snap.Alert.Kind)
		assert.Contains(t, snap.Alert.Message, "no ffmpeg")

		require.NoError(t, c.Select(sampleVideo(t, 4)))
		assert.Nil(t, c.Snapshot().Alert, "Select clears the alert")
	})

	t.Run("success_is_silent", func(t *testing.T) {
		tc := &fakeTranscoder{}
		c, rec := newTestController(t, tc, textTranscriber("x"), 0)
		require.NoError(t, c.Preload(context.Background()))
		assert.Equal(t, Idle, c.State())
		assert.Empty(t, rec.alerts)
		assert.Equal(t, 1, tc.initCalls)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{&media.InitializationError{Err: errors.New("x")}, KindInitialization},
		{fmt.Errorf("wrapped: %w", &media.TranscodeError{Err: errors.New("x")}), KindTranscode},
		{&payload.EncodingError{Err: errors.New("x")}, KindEncoding},
		{&transcribe.TranscriptionError{StatusCode: 500}, KindTranscription},
		{errors.New("x"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "file_selected", FileSelected.String())
	assert.Equal(t, "processing", Processing.String())
	assert.Equal(t, "complete", Complete.String())
	assert.Equal(t, 1, int(Idle))
	assert.Equal(t, 4, int(Complete))
}
