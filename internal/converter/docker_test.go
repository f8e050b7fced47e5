package converter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuongbtq/media-converter/internal/domain"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocker struct {
	exitCode int64
	stderr   string
	created  *container.HostConfig
	cmd      []string
	removed  bool
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.created = host
	f.cmd = cfg.Cmd
	return container.CreateResponse{ID: "c1"}, nil
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	return nil
}

func (f *fakeDocker) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	waitCh := make(chan container.WaitResponse, 1)
	waitCh <- container.WaitResponse{StatusCode: f.exitCode}
	return waitCh, make(chan error)
}

func (f *fakeDocker) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	w := stdcopy.NewStdWriter(&buf, stdcopy.Stderr)
	_, _ = w.Write([]byte(f.stderr))
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) ContainerRemove(context.Context, string, container.RemoveOptions) error {
	f.removed = true
	return nil
}

func (f *fakeDocker) ImagePull(context.Context, string, image.PullOptions) (io.ReadCloser, error) {
	return nil, errors.New("offline")
}

func TestDocker_Convert(t *testing.T) {
	fake := &fakeDocker{}
	conv := NewDocker(fake, "jrottenberg/ffmpeg:6-alpine", Options{Codec: CodecMP3, Quality: 2, Timeout: time.Minute}, discardLogger())

	input := writeInput(t)
	out := filepath.Join(t.TempDir(), "out.mp3")
	require.NoError(t, conv.Convert(context.Background(), input, out))

	assert.True(t, fake.removed)
	assert.Equal(t, container.NetworkMode("none"), fake.created.NetworkMode)
	require.Len(t, fake.created.Mounts, 2)
	assert.True(t, fake.created.Mounts[0].ReadOnly)
	assert.Equal(t, filepath.Dir(input), fake.created.Mounts[0].Source)
	assert.Equal(t, "/output/out.mp3", fake.cmd[len(fake.cmd)-1])
}

func TestDocker_ConvertNonZeroExit(t *testing.T) {
	fake := &fakeDocker{exitCode: 1, stderr: "moov atom not found"}
	conv := NewDocker(fake, "ffmpeg", Options{Codec: CodecMP3, Timeout: time.Minute}, discardLogger())

	err := conv.Convert(context.Background(), writeInput(t), filepath.Join(t.TempDir(), "out.mp3"))
	require.Error(t, err)

	var convErr *domain.ConversionFailedError
	require.True(t, errors.As(err, &convErr))
	assert.Contains(t, convErr.Detail, "moov atom not found")
	assert.Contains(t, convErr.Detail, "exit status 1")
	assert.True(t, fake.removed)
}

func TestDocker_MissingInput(t *testing.T) {
	fake := &fakeDocker{}
	conv := NewDocker(fake, "ffmpeg", Options{Codec: CodecMP3}, discardLogger())

	err := conv.Convert(context.Background(), "/nope.mp4", filepath.Join(t.TempDir(), "out.mp3"))
	assert.ErrorIs(t, err, domain.ErrConversionFailed)
	assert.Nil(t, fake.created)
}
