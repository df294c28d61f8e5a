// Package dockerx wraps the Docker SDK client with the image and container
// operations the fabric needs: building and pushing images on the scheduler
// side, and the full container lifecycle (pull, create, start, logs, wait,
// stop, remove) on the agent side.
//
// Both binaries talk to their local daemon through this package so that
// client construction, error wrapping, and stream decoding live in one place.
// Methods return ErrUnavailable when the daemon itself cannot be reached;
// callers can distinguish that from per-operation failures.
package dockerx

import (
	"context"
	"errors"
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
	dockerclient "github.com/docker/docker/client"
)

// ErrUnavailable is returned when the Docker daemon cannot be reached.
var ErrUnavailable = errors.New("dockerx: daemon unavailable")

// Client wraps the Docker SDK client. Create instances with New.
type Client struct {
	docker *dockerclient.Client
}

// New creates a Client connected to the daemon at socketPath. Use the empty
// string to fall back to the SDK default (the DOCKER_HOST env var, or
// /var/run/docker.sock on Linux/macOS).
//
// Returns ErrUnavailable if the client cannot be constructed.
func New(socketPath string) (*Client, error) {
	opts := []dockerclient.Opt{
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	}

	if socketPath != "" {
		opts = append(opts, dockerclient.WithHost("unix://"+socketPath))
	}

	dc, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	return &Client{docker: dc}, nil
}

// Ping checks that the Docker daemon is reachable. Call this at startup so a
// missing daemon fails fast instead of on the first deployment.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.docker.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return nil
}

// IsNotFound reports whether err means the referenced image or container does
// not exist on the daemon.
func IsNotFound(err error) bool {
	return cerrdefs.IsNotFound(err)
}

// Close releases the underlying Docker client resources.
func (c *Client) Close() error {
	return c.docker.Close()
}
