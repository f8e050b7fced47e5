// Command convert turns one local video file into audio with ffmpeg, without
// the job pipeline.
//
//	convert [flags] INPUT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cuongbtq/media-converter/internal/converter"
	"github.com/cuongbtq/media-converter/internal/domain"
	"github.com/cuongbtq/media-converter/shared/logger"
)

type options struct {
	input    string
	output   string
	binary   string
	codec    converter.Codec
	quality  int
	timeout  time.Duration
	logLevel string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	opts, err := parseArgs(args, os.Stderr)
	if err != nil {
		return err
	}

	appLogger, err := logger.New(&logger.Config{
		Level:      opts.logLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: time.TimeOnly,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conv := converter.NewFFmpeg(opts.binary, converter.Options{
		Codec:   opts.codec,
		Quality: opts.quality,
		Timeout: opts.timeout,
	}, appLogger.Component("converter"))

	appLogger.Info("Converting",
		slog.String("input", opts.input),
		slog.String("output", opts.output),
		slog.String("codec", string(opts.codec)),
	)

	start := time.Now()
	if err := conv.Convert(ctx, opts.input, opts.output); err != nil {
		var convErr *domain.ConversionFailedError
		if errors.As(err, &convErr) {
			return fmt.Errorf("conversion failed: %s", convErr.Detail)
		}
		return fmt.Errorf("conversion failed: %w", err)
	}

	appLogger.Info("Conversion succeeded",
		slog.String("output", opts.output),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// parseArgs reads flags and the single INPUT argument. Flags may appear
// before or after INPUT.
func parseArgs(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: convert [flags] INPUT")
		fs.PrintDefaults()
	}

	opts := &options{}
	var codec string
	fs.StringVar(&opts.output, "output", "", "output audio file (default: INPUT with the codec's extension)")
	fs.StringVar(&opts.output, "o", "", "shorthand for -output")
	fs.StringVar(&codec, "codec", string(converter.CodecMP3), "audio codec: mp3, aac or copy")
	fs.IntVar(&opts.quality, "quality", 2, "mp3 quality, 0 best to 9 worst")
	fs.DurationVar(&opts.timeout, "timeout", 10*time.Minute, "maximum conversion time")
	fs.StringVar(&opts.binary, "ffmpeg", "ffmpeg", "ffmpeg binary")
	fs.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")

	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			break
		}
		positional = append(positional, args[0])
		args = args[1:]
	}

	if len(positional) != 1 {
		fs.Usage()
		return nil, fmt.Errorf("expected exactly one INPUT, got %d", len(positional))
	}
	opts.input = positional[0]

	c, err := converter.ParseCodec(codec)
	if err != nil {
		return nil, err
	}
	opts.codec = c

	if opts.quality < 0 || opts.quality > 9 {
		return nil, fmt.Errorf("quality must be between 0 and 9, got %d", opts.quality)
	}

	if opts.timeout <= 0 {
		return nil, fmt.Errorf("timeout must be greater than 0")
	}

	if opts.output == "" {
		opts.output = defaultOutput(opts.input, opts.codec)
	}
	if filepath.Clean(opts.output) == filepath.Clean(opts.input) {
		return nil, fmt.Errorf("output %s would overwrite the input", opts.output)
	}

	return opts, nil
}

// defaultOutput places the audio next to the input: clip.mp4 -> clip.mp3
func defaultOutput(input string, codec converter.Codec) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + "." + codec.Extension()
}
