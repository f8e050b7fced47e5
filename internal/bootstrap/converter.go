package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/cuongbtq/media-converter/internal/config"
	"github.com/cuongbtq/media-converter/internal/converter"
	"github.com/cuongbtq/media-converter/internal/mediastore"
)

// Codec parses converter.codec
func Codec(cfg *config.ConverterConfig) (converter.Codec, error) {
	codec, err := converter.ParseCodec(cfg.Codec)
	if err != nil {
		return "", fmt.Errorf("invalid converter codec: %w", err)
	}
	return codec, nil
}

// OpenMedia creates the media store with the output extension of the configured codec
func OpenMedia(cfg *config.Config, logger *slog.Logger) (*mediastore.Store, error) {
	codec, err := Codec(&cfg.Converter)
	if err != nil {
		return nil, err
	}

	return mediastore.NewStore(mediastore.Config{
		UploadDir: cfg.Storage.UploadDir,
		OutputDir: cfg.Storage.OutputDir,
		OutputExt: codec.Extension(),
	}, logger.With(slog.String("component", "mediastore")))
}

// NewConverter builds the converter selected by converter.driver. The
// returned cleanup releases the Docker client when one was created.
func NewConverter(cfg *config.ConverterConfig, logger *slog.Logger) (converter.Converter, func() error, error) {
	codec, err := Codec(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := converter.Options{
		Codec:   codec,
		Quality: cfg.Quality,
		Timeout: cfg.Timeout,
	}
	convLogger := logger.With(slog.String("component", "converter"))

	switch cfg.Driver {
	case config.ConverterDriverDocker:
		cli, err := converter.NewDockerClient()
		if err != nil {
			return nil, nil, err
		}
		return converter.NewDocker(cli, cfg.Image, opts, convLogger), cli.Close, nil
	case config.ConverterDriverFFmpeg, "":
		return converter.NewFFmpeg(cfg.Binary, opts, convLogger), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported converter driver: %q", cfg.Driver)
	}
}
