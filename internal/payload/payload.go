// Package payload turns binary audio into the base64 text carried by
// transcription requests.
package payload

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// EncodingError reports that the source could not be read.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode audio: %v", e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// Encode reads r fully and returns its standard base64 encoding.
func Encode(r io.Reader) (string, error) {
	if r == nil {
		return "", &EncodingError{Err: fmt.Errorf("nil reader")}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", &EncodingError{Err: err}
	}
	return StripDataURL(base64.StdEncoding.EncodeToString(data)), nil
}

// StripDataURL removes a leading "data:<mime>;base64," prefix if present.
func StripDataURL(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.Index(s, ";base64,"); i >= 0 {
		return s[i+len(";base64,"):]
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Truncate cuts s to at most max bytes. max <= 0 disables the limit.
// base64 text is ASCII, so byte and character counts agree.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

// Decode reverses Encode. Trailing characters beyond the last complete
// 4-character group are dropped so that truncated payloads still decode.
func Decode(s string) ([]byte, error) {
	s = StripDataURL(strings.TrimSpace(s))
	s = s[:len(s)-len(s)%4]
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &EncodingError{Err: err}
	}
	return data, nil
}
