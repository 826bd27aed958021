package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/vid2sub/internal/config"
	"github.com/snarg/vid2sub/internal/transcribe"
)

const fakeFFmpeg = `#!/bin/sh
case "$*" in
*-version*) echo "ffmpeg version 6.1-test"; exit 0 ;;
esac
for a in "$@"; do last="$a"; done
echo "out_time_us=2000000"
echo "progress=end"
printf 'ID3fake' > "$last"
`

const fakeFFprobe = `#!/bin/sh
echo '{"format":{"duration":"4.000000"}}'
`

// setupCLIEnv points the CLI at fake ffmpeg scripts and a stub chat API that
// answers with reply.
func setupCLIEnv(t *testing.T, reply string, status int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg scripts need a POSIX shell")
	}
	base := t.TempDir()
	ffmpeg := filepath.Join(base, "ffmpeg")
	ffprobe := filepath.Join(base, "ffprobe")
	require.NoError(t, os.WriteFile(ffmpeg, []byte(fakeFFmpeg), 0o755))
	require.NoError(t, os.WriteFile(ffprobe, []byte(fakeFFprobe), 0o755))

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			io.WriteString(w, `{"error":{"message":"`+reply+`"}}`)
			return
		}
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"`+reply+`"}}]}`)
	}))
	t.Cleanup(api.Close)

	t.Setenv("FFMPEG_PATH", ffmpeg)
	t.Setenv("FFPROBE_PATH", ffprobe)
	t.Setenv("WORK_DIR", filepath.Join(base, "work"))
	t.Setenv("TRANSCRIBE_BASE_URL", api.URL)
	t.Setenv("TRANSCRIBE_MODE", "chat")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv(transcribe.APIKeyEnv, "test-key")
	return base
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestTranscribeCommand(t *testing.T) {
	base := setupCLIEnv(t, "hello world", http.StatusOK)
	video := filepath.Join(base, "clip.mp4")
	require.NoError(t, os.WriteFile(video, bytes.Repeat([]byte{1}, 1024), 0o644))

	t.Run("srt_to_file", func(t *testing.T) {
		out := filepath.Join(base, "subs.srt")
		stdout, stderr, err := runCLI(t, "transcribe", video, "--format", "srt", "--out", out)
		require.NoError(t, err, stderr)
		assert.Contains(t, stdout, "Wrote "+out)
		assert.Contains(t, stderr, "audio extraction 100%")

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "1\n00:00:00,000 --> 00:00:10,000\nhello world", string(data))

		_, err = os.Stat(video)
		assert.NoError(t, err, "input video must not be deleted")
	})

	t.Run("default_output_path", func(t *testing.T) {
		_, stderr, err := runCLI(t, "transcribe", video)
		require.NoError(t, err, stderr)
		data, err := os.ReadFile(filepath.Join(base, "clip.vtt"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "WEBVTT\n\n1\n"))
	})

	t.Run("stdout", func(t *testing.T) {
		stdout, stderr, err := runCLI(t, "transcribe", video, "-f", "vtt", "-o", "-")
		require.NoError(t, err, stderr)
		assert.Equal(t, "WEBVTT\n\n1\n00:00:00.000 --> 00:00:10.000\nhello world\n", stdout)
	})
}

func TestTranscribeCommandAPIError(t *testing.T) {
	base := setupCLIEnv(t, "Invalid API Key", http.StatusUnauthorized)
	video := filepath.Join(base, "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte("video"), 0o644))

	_, stderr, err := runCLI(t, "transcribe", video, "--out", filepath.Join(base, "x.vtt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, stderr, "TranscriptionError")
	_, statErr := os.Stat(filepath.Join(base, "x.vtt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestTranscribeCommandArgs(t *testing.T) {
	dir := t.TempDir()

	_, _, err := runCLI(t, "transcribe", filepath.Join(dir, "missing.mp4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	_, _, err = runCLI(t, "transcribe", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")

	_, _, err = runCLI(t, "transcribe", dir, "--format", "ass")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported subtitle format")

	_, _, err = runCLI(t, "transcribe")
	require.Error(t, err)
}

func TestNewTranscriber(t *testing.T) {
	tr := newTranscriber(&config.Config{TranscribeMode: config.ModeChat, TranscribeChatModel: "llama"})
	assert.Equal(t, "chat", tr.Name())
	assert.Equal(t, "llama", tr.Model())

	tr = newTranscriber(&config.Config{TranscribeMode: config.ModeAudio, TranscribeAudioModel: "whisper"})
	assert.Equal(t, "audio", tr.Name())
	assert.Equal(t, "whisper", tr.Model())
}

func TestInvalidModeFlag(t *testing.T) {
	base := setupCLIEnv(t, "x", http.StatusOK)
	video := filepath.Join(base, "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte("video"), 0o644))

	_, _, err := runCLI(t, "transcribe", video, "--mode", "telepathy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRANSCRIBE_MODE")
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "vid2sub dev\n", stdout)
}
