package build

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// imageTagPrefix is the fixed prefix of every fabric-built image tag; the
// suffix is a fresh UUID fragment per upload.
const imageTagPrefix = "user_code_image_"

// ImageEngine is the slice of the Docker client the builder drives.
// Implemented by *dockerx.Client.
type ImageEngine interface {
	BuildImage(ctx context.Context, contextTar io.Reader, tag, dockerfile string) (string, error)
	PushImage(ctx context.Context, ref, username, password string) error
}

// Config carries the registry push settings. Push runs only when HubPush is
// set and both credentials are present; a half-configured gate stays closed
// rather than attempting an authenticated push that cannot succeed.
type Config struct {
	HubPush  bool
	Username string
	Password string
}

// PushEnabled reports whether a built image will be pushed.
func (c Config) PushEnabled() bool {
	return c.HubPush && c.Username != "" && c.Password != ""
}

// Builder turns uploaded bundles into tagged local images and optionally
// pushes them. Create instances with NewBuilder.
type Builder struct {
	engine ImageEngine
	cfg    Config
	logger *zap.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(engine ImageEngine, cfg Config, logger *zap.Logger) *Builder {
	return &Builder{
		engine: engine,
		cfg:    cfg,
		logger: logger.Named("build"),
	}
}

// newImageTag returns a tag of the form user_code_image_<8 hex chars>.
func newImageTag() string {
	return imageTagPrefix + uuid.NewString()[:8]
}

// Build runs the full pipeline on an uploaded bundle and returns the tag of
// the freshly built image. The scratch directory is removed on every path;
// the image itself is the only artifact left behind.
//
// Error mapping: extraction problems wrap ErrBadBundle, a missing
// Dockerfile is ErrNoDockerfile, and engine failures wrap ErrBuildFailed
// with the engine's diagnostic.
func (b *Builder) Build(ctx context.Context, bundle []byte, filename string) (string, error) {
	contextDir, cleanup, err := prepareContext(bundle, filename)
	if err != nil {
		return "", err
	}
	defer cleanup()

	tag := newImageTag()
	log := b.logger.With(zap.String("image", tag), zap.String("filename", filename))

	contextTar, err := tarDirectory(contextDir)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBuildFailed, err)
	}

	log.Info("building image")
	output, err := b.engine.BuildImage(ctx, contextTar, tag, "Dockerfile")
	if err != nil {
		log.Warn("image build failed", zap.Error(err))
		return "", fmt.Errorf("%w: %s", ErrBuildFailed, err)
	}
	log.Debug("build output", zap.String("output", output))
	log.Info("image built")

	return tag, nil
}

// Push uploads the image to the registry when the push gate is open and is
// a silent no-op otherwise. The bool reports whether a push was attempted.
// Failures wrap ErrPushFailed with the registry's diagnostic.
func (b *Builder) Push(ctx context.Context, tag string) (bool, error) {
	if !b.cfg.PushEnabled() {
		b.logger.Debug("push disabled, skipping", zap.String("image", tag))
		return false, nil
	}

	b.logger.Info("pushing image", zap.String("image", tag))
	if err := b.engine.PushImage(ctx, tag, b.cfg.Username, b.cfg.Password); err != nil {
		b.logger.Warn("image push failed", zap.String("image", tag), zap.Error(err))
		return true, fmt.Errorf("%w: %s", ErrPushFailed, err)
	}
	b.logger.Info("image pushed", zap.String("image", tag))
	return true, nil
}
