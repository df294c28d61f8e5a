package dockerx

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
)

// streamMessage is one JSON object from the daemon's build/push/pull
// progress stream. Only the fields we act on are decoded.
type streamMessage struct {
	Stream      string `json:"stream"`
	Status      string `json:"status"`
	ErrorMsg    string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

// drainStream consumes a daemon progress stream to completion, collecting
// the human-readable lines. The daemon reports failures in-band as error
// objects, so a 200 response can still carry a failed operation; the first
// error object encountered is returned alongside whatever output preceded it.
func drainStream(r io.Reader) (string, error) {
	var out strings.Builder
	dec := json.NewDecoder(r)
	for {
		var msg streamMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return out.String(), nil
			}
			return out.String(), fmt.Errorf("dockerx: decode progress stream: %w", err)
		}
		if msg.Stream != "" {
			out.WriteString(msg.Stream)
		} else if msg.Status != "" {
			out.WriteString(msg.Status)
			out.WriteByte('\n')
		}
		if msg.ErrorMsg != "" {
			detail := msg.ErrorDetail.Message
			if detail == "" {
				detail = msg.ErrorMsg
			}
			return out.String(), errors.New(detail)
		}
	}
}

// BuildImage builds an image from contextTar (an uncompressed tar build
// context) and tags it. dockerfile is the path of the Dockerfile inside the
// context. The returned string is the accumulated build output, useful for
// logging whether or not the build succeeded.
func (c *Client) BuildImage(ctx context.Context, contextTar io.Reader, tag, dockerfile string) (string, error) {
	resp, err := c.docker.ImageBuild(ctx, contextTar, build.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  dockerfile,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return "", fmt.Errorf("dockerx: image build: %w", err)
	}
	defer resp.Body.Close()

	out, err := drainStream(resp.Body)
	if err != nil {
		return out, fmt.Errorf("dockerx: image build: %w", err)
	}
	return out, nil
}

// PushImage pushes ref to its registry, authenticating with the given
// credentials. The registry is implied by the reference (Docker Hub for
// bare tags).
func (c *Client) PushImage(ctx context.Context, ref, username, password string) error {
	auth, err := json.Marshal(registry.AuthConfig{
		Username: username,
		Password: password,
	})
	if err != nil {
		return fmt.Errorf("dockerx: encode registry auth: %w", err)
	}

	body, err := c.docker.ImagePush(ctx, ref, image.PushOptions{
		RegistryAuth: base64.URLEncoding.EncodeToString(auth),
	})
	if err != nil {
		return fmt.Errorf("dockerx: image push: %w", err)
	}
	defer body.Close()

	if _, err := drainStream(body); err != nil {
		return fmt.Errorf("dockerx: image push: %w", err)
	}
	return nil
}

// PullImage pulls ref from its registry using the daemon's configured
// credentials, blocking until the pull completes.
func (c *Client) PullImage(ctx context.Context, ref string) error {
	body, err := c.docker.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("dockerx: image pull: %w", err)
	}
	defer body.Close()

	if _, err := drainStream(body); err != nil {
		return fmt.Errorf("dockerx: image pull: %w", err)
	}
	return nil
}

// RemoveImage force-removes ref and prunes its dangling parents. Removing an
// image that is already gone is not an error.
func (c *Client) RemoveImage(ctx context.Context, ref string) error {
	_, err := c.docker.ImageRemove(ctx, ref, image.RemoveOptions{
		Force:         true,
		PruneChildren: true,
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("dockerx: image remove: %w", err)
	}
	return nil
}
