package converter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/cuongbtq/media-converter/internal/domain"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	containerInputDir  = "/input"
	containerOutputDir = "/output"
)

// DockerAPI is the subset of the Docker client the converter needs
type DockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// Docker runs ffmpeg inside a throwaway container with no network
type Docker struct {
	cli    DockerAPI
	image  string
	opts   Options
	logger *slog.Logger
}

// NewDockerClient connects to the Docker daemon from the environment
func NewDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}

// NewDocker creates a new Docker converter
func NewDocker(cli DockerAPI, imageRef string, opts Options, logger *slog.Logger) *Docker {
	return &Docker{cli: cli, image: imageRef, opts: opts, logger: logger}
}

// Convert mounts the input read-only and the output directory writable,
// runs the container and waits for its exit code.
func (d *Docker) Convert(ctx context.Context, input, output string) error {
	if err := checkInput(input); err != nil {
		return err
	}

	runCtx, cancel := withTimeout(ctx, d.opts.Timeout)
	defer cancel()

	inAbs, err := filepath.Abs(input)
	if err != nil {
		return domain.NewConversionFailed("invalid input path: %v", err)
	}
	outAbs, err := filepath.Abs(output)
	if err != nil {
		return domain.NewConversionFailed("invalid output path: %v", err)
	}

	cfg := &container.Config{
		Image: d.image,
		Cmd: Args(d.opts,
			containerInputDir+"/"+filepath.Base(inAbs),
			containerOutputDir+"/"+filepath.Base(outAbs),
		),
		Labels: map[string]string{"mediaconv.managed": "true"},
	}

	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: filepath.Dir(inAbs), Target: containerInputDir, ReadOnly: true},
			{Type: mount.TypeBind, Source: filepath.Dir(outAbs), Target: containerOutputDir},
		},
	}

	name := "mediaconv-" + uuid.NewString()
	resp, err := d.cli.ContainerCreate(runCtx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if client.IsErrNotFound(err) {
		if pullErr := d.pull(runCtx); pullErr != nil {
			return domain.NewTransientError("failed to pull converter image", pullErr)
		}
		resp, err = d.cli.ContainerCreate(runCtx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	}
	if err != nil {
		return domain.NewTransientError("failed to create converter container", err)
	}

	defer func() {
		// Removal must outlive a cancelled run context
		if err := d.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			d.logger.Warn("Failed to remove converter container",
				slog.String("container_id", resp.ID),
				slog.Any("error", err),
			)
		}
	}()

	if err := d.cli.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		return domain.NewTransientError("failed to start converter container", err)
	}

	waitCh, errCh := d.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if runCtx.Err() != nil {
			return classify(ctx, runCtx, d.opts.Timeout, err, "")
		}
		return domain.NewTransientError("failed to wait for converter container", err)
	case status := <-waitCh:
		if status.StatusCode == 0 {
			return nil
		}
		stderr := d.stderr(resp.ID)
		return classify(ctx, runCtx, d.opts.Timeout, fmt.Errorf("exit status %d", status.StatusCode), stderr)
	}
}

func (d *Docker) pull(ctx context.Context) error {
	reader, err := d.cli.ImagePull(ctx, d.image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// stderr reads the container's stderr stream, demultiplexed
func (d *Docker) stderr(containerID string) string {
	logs, err := d.cli.ContainerLogs(context.Background(), containerID, container.LogsOptions{ShowStderr: true})
	if err != nil {
		return ""
	}
	defer logs.Close()

	var stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(io.Discard, &stderr, logs); err != nil {
		d.logger.Debug("Failed to read converter logs", slog.Any("error", err))
	}
	return stderr.String()
}
