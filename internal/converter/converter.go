// Package converter turns a video file into an audio file. ffmpeg is treated
// as a black box: it either produces the output or reports a diagnostic.
package converter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/media-converter/internal/domain"
)

// Converter transforms input into output. Conversion failures are
// *domain.ConversionFailedError; a cancelled parent context is returned as is.
type Converter interface {
	Convert(ctx context.Context, input, output string) error
}

// Codec selects the audio encoding
type Codec string

const (
	CodecMP3  Codec = "mp3"
	CodecAAC  Codec = "aac"
	CodecCopy Codec = "copy"
)

const stderrTailBytes = 2048

// ParseCodec validates a codec name
func ParseCodec(s string) (Codec, error) {
	switch c := Codec(strings.ToLower(s)); c {
	case CodecMP3, CodecAAC, CodecCopy:
		return c, nil
	default:
		return "", fmt.Errorf("unsupported codec: %s", s)
	}
}

// Extension is the output file extension for the codec
func (c Codec) Extension() string {
	switch c {
	case CodecAAC:
		return "aac"
	case CodecCopy:
		return "mka"
	default:
		return "mp3"
	}
}

// ContentType is the MIME type of the codec's output
func (c Codec) ContentType() string {
	switch c {
	case CodecAAC:
		return "audio/aac"
	case CodecCopy:
		return "audio/x-matroska"
	default:
		return "audio/mpeg"
	}
}

// Options configures an ffmpeg invocation
type Options struct {
	Codec Codec
	// Quality is the libmp3lame VBR scale, 0 best to 9 worst
	Quality int
	Timeout time.Duration
}

// Args builds the ffmpeg argument list
func Args(opts Options, input, output string) []string {
	args := []string{"-y", "-nostdin", "-loglevel", "error", "-i", input, "-vn"}

	switch opts.Codec {
	case CodecAAC:
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	case CodecCopy:
		args = append(args, "-c:a", "copy")
	default:
		args = append(args, "-acodec", "libmp3lame", "-q:a", strconv.Itoa(opts.Quality))
	}

	return append(args, output)
}

// checkInput fails fast when the input is missing or not a regular file
func checkInput(input string) error {
	info, err := os.Stat(input)
	if err != nil || !info.Mode().IsRegular() {
		return domain.NewConversionFailed("input file not found: %s", input)
	}
	return nil
}

// withTimeout wraps ctx with the configured conversion timeout
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// classify maps a run error to the conversion error taxonomy
func classify(parent, run context.Context, timeout time.Duration, err error, stderr string) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(run.Err(), context.DeadlineExceeded) {
		return domain.NewConversionFailed("conversion timed out after %s", timeout)
	}

	detail := tail(strings.TrimSpace(stderr), stderrTailBytes)
	if detail == "" {
		return domain.NewConversionFailed("ffmpeg failed: %v", err)
	}
	return domain.NewConversionFailed("ffmpeg failed: %v: %s", err, detail)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
