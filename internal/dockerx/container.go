package dockerx

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// CreateContainer creates a container named name from ref with all exposed
// ports published to ephemeral host ports. It returns the container ID.
// The image must already be present on the daemon.
func (c *Client) CreateContainer(ctx context.Context, ref, name string) (string, error) {
	created, err := c.docker.ContainerCreate(ctx,
		&container.Config{Image: ref},
		&container.HostConfig{PublishAllPorts: true},
		nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("dockerx: container create: %w", err)
	}
	return created.ID, nil
}

// StartContainer starts a created container.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	if err := c.docker.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("dockerx: container start: %w", err)
	}
	return nil
}

// InspectPorts returns the container's current host port bindings. A
// container with no published ports yields an empty map, not an error.
func (c *Client) InspectPorts(ctx context.Context, id string) (nat.PortMap, error) {
	info, err := c.docker.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("dockerx: container inspect: %w", err)
	}
	if info.NetworkSettings == nil {
		return nat.PortMap{}, nil
	}
	return info.NetworkSettings.Ports, nil
}

// WaitContainer blocks until the container stops running and returns its
// exit code. Cancelling ctx abandons the wait, not the container.
func (c *Client) WaitContainer(ctx context.Context, id string) (int64, error) {
	waitCh, errCh := c.docker.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case res := <-waitCh:
		if res.Error != nil {
			return res.StatusCode, fmt.Errorf("dockerx: container wait: %s", res.Error.Message)
		}
		return res.StatusCode, nil
	case err := <-errCh:
		return 0, fmt.Errorf("dockerx: container wait: %w", err)
	}
}

// StreamLogs follows the container's stdout and stderr, demultiplexing both
// into dst, until the container stops or ctx is cancelled. Containers created
// by this package never allocate a TTY, so the stream is always multiplexed.
func (c *Client) StreamLogs(ctx context.Context, id string, dst io.Writer) error {
	rc, err := c.docker.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("dockerx: container logs: %w", err)
	}
	defer rc.Close()

	if _, err := stdcopy.StdCopy(dst, dst, rc); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("dockerx: container logs: %w", err)
	}
	return nil
}

// StopContainer stops a running container with the daemon's default grace
// period. Stopping a container that already exited is not an error.
func (c *Client) StopContainer(ctx context.Context, id string) error {
	if err := c.docker.ContainerStop(ctx, id, container.StopOptions{}); err != nil && !IsNotFound(err) {
		return fmt.Errorf("dockerx: container stop: %w", err)
	}
	return nil
}

// RemoveContainer force-removes a container. Removing a container that is
// already gone is not an error.
func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	err := c.docker.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("dockerx: container remove: %w", err)
	}
	return nil
}
