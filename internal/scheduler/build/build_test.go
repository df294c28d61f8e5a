package build

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// zipBundle builds an in-memory zip with the given entries. Names ending in
// "/" become directory entries.
func zipBundle(t *testing.T, entries map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		if !strings.HasSuffix(name, "/") {
			_, err = f.Write([]byte(content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// fakeEngine records build and push calls and lists the names inside the
// build context tar it was handed.
type fakeEngine struct {
	buildTag        string
	buildDockerfile string
	contextNames    []string
	buildErr        error

	pushedRef string
	pushUser  string
	pushPass  string
	pushErr   error
}

func (f *fakeEngine) BuildImage(ctx context.Context, contextTar io.Reader, tag, dockerfile string) (string, error) {
	f.buildTag = tag
	f.buildDockerfile = dockerfile

	tr := tar.NewReader(contextTar)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		f.contextNames = append(f.contextNames, hdr.Name)
	}

	if f.buildErr != nil {
		return "", f.buildErr
	}
	return "Successfully built", nil
}

func (f *fakeEngine) PushImage(ctx context.Context, ref, username, password string) error {
	f.pushedRef = ref
	f.pushUser = username
	f.pushPass = password
	return f.pushErr
}

// TestResolveContext tests Dockerfile location: bundle root first, then the
// single top-level subdirectory, otherwise no build context at all.
func TestResolveContext(t *testing.T) {
	tests := []struct {
		name    string
		layout  []string // relative paths; trailing "/" marks a directory
		want    string   // "" = scratch root
		wantErr bool
	}{
		{
			name:   "dockerfile at root",
			layout: []string{"Dockerfile", "main.py"},
			want:   "",
		},
		{
			name:   "single subdirectory with dockerfile",
			layout: []string{"app-main/", "app-main/Dockerfile", "app-main/main.py"},
			want:   "app-main",
		},
		{
			name:    "single subdirectory without dockerfile",
			layout:  []string{"app-main/", "app-main/main.py"},
			wantErr: true,
		},
		{
			name:    "two subdirectories are ambiguous",
			layout:  []string{"a/", "a/Dockerfile", "b/", "b/Dockerfile"},
			wantErr: true,
		},
		{
			name:    "no dockerfile anywhere",
			layout:  []string{"main.py"},
			wantErr: true,
		},
		{
			name:    "dockerfile must be a file",
			layout:  []string{"Dockerfile/"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scratch := t.TempDir()
			for _, p := range tt.layout {
				full := filepath.Join(scratch, strings.TrimSuffix(p, "/"))
				if strings.HasSuffix(p, "/") {
					require.NoError(t, os.MkdirAll(full, 0o755))
				} else {
					require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
					require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
				}
			}

			got, err := resolveContext(scratch)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoDockerfile)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(scratch, tt.want), got)
		})
	}
}

// TestPrepareContext tests the upload-to-context pipeline for raw files and
// zip archives, including the hostile cases.
func TestPrepareContext(t *testing.T) {
	t.Run("raw dockerfile upload", func(t *testing.T) {
		dir, cleanup, err := prepareContext([]byte("FROM scratch\n"), "Dockerfile")
		require.NoError(t, err)
		defer cleanup()

		data, err := os.ReadFile(filepath.Join(dir, "Dockerfile"))
		require.NoError(t, err)
		assert.Equal(t, "FROM scratch\n", string(data))
	})

	t.Run("zip with dockerfile at root", func(t *testing.T) {
		bundle := zipBundle(t, map[string]string{
			"Dockerfile": "FROM scratch\n",
			"main.py":    "print('hi')\n",
		})

		dir, cleanup, err := prepareContext(bundle, "app.zip")
		require.NoError(t, err)
		defer cleanup()

		assert.FileExists(t, filepath.Join(dir, "Dockerfile"))
		assert.FileExists(t, filepath.Join(dir, "main.py"))
		// The archive itself must not leak into the build context.
		assert.NoFileExists(t, filepath.Join(dir, "app.zip"))
	})

	t.Run("zip with single wrapping directory", func(t *testing.T) {
		bundle := zipBundle(t, map[string]string{
			"repo-main/":           "",
			"repo-main/Dockerfile": "FROM scratch\n",
			"repo-main/src/app.py": "print('hi')\n",
		})

		dir, cleanup, err := prepareContext(bundle, "repo.zip")
		require.NoError(t, err)
		defer cleanup()

		assert.Equal(t, "repo-main", filepath.Base(dir))
		assert.FileExists(t, filepath.Join(dir, "Dockerfile"))
		assert.FileExists(t, filepath.Join(dir, "src", "app.py"))
	})

	t.Run("zip suffix with garbage bytes", func(t *testing.T) {
		_, _, err := prepareContext([]byte("not a zip"), "app.zip")
		assert.ErrorIs(t, err, ErrBadBundle)
	})

	t.Run("zip entry escaping the bundle directory", func(t *testing.T) {
		bundle := zipBundle(t, map[string]string{
			"Dockerfile":  "FROM scratch\n",
			"../evil.txt": "pwned",
		})

		_, _, err := prepareContext(bundle, "app.zip")
		assert.ErrorIs(t, err, ErrBadBundle)
	})

	t.Run("unusable filename", func(t *testing.T) {
		_, _, err := prepareContext([]byte("x"), ".")
		assert.ErrorIs(t, err, ErrBadBundle)
	})

	t.Run("upload without dockerfile", func(t *testing.T) {
		_, _, err := prepareContext([]byte("print('hi')\n"), "main.py")
		assert.ErrorIs(t, err, ErrNoDockerfile)
	})

	t.Run("only the base name of the filename is used", func(t *testing.T) {
		dir, cleanup, err := prepareContext([]byte("FROM scratch\n"), "../../etc/Dockerfile")
		require.NoError(t, err)
		defer cleanup()
		assert.FileExists(t, filepath.Join(dir, "Dockerfile"))
	})
}

// TestTarDirectory tests that the build context tar round-trips file
// contents with slash-relative names and a trailing slash on directories.
func TestTarDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM scratch\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "app.py"), []byte("print('hi')\n"), 0o644))

	r, err := tarDirectory(dir)
	require.NoError(t, err)

	contents := map[string]string{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		contents[hdr.Name] = string(data)
	}

	var names []string
	for name := range contents {
		names = append(names, name)
	}
	sort.Strings(names)

	assert.Equal(t, []string{"Dockerfile", "src/", "src/app.py"}, names)
	assert.Equal(t, "FROM scratch\n", contents["Dockerfile"])
	assert.Equal(t, "print('hi')\n", contents["src/app.py"])
}

// TestNewImageTag tests the tag shape: fixed prefix plus an 8-character
// fragment, fresh per call.
func TestNewImageTag(t *testing.T) {
	a := newImageTag()
	b := newImageTag()

	assert.True(t, strings.HasPrefix(a, "user_code_image_"))
	assert.Len(t, a, len("user_code_image_")+8)
	assert.NotEqual(t, a, b)
}

// TestBuilderBuild tests the build pipeline against a fake engine: the tar
// handed over contains the Dockerfile at its root, bundle problems surface
// before the engine is involved, and engine failures wrap ErrBuildFailed.
func TestBuilderBuild(t *testing.T) {
	bundle := zipBundle(t, map[string]string{
		"Dockerfile": "FROM scratch\n",
		"main.py":    "print('hi')\n",
	})

	t.Run("success", func(t *testing.T) {
		engine := &fakeEngine{}
		b := NewBuilder(engine, Config{}, zap.NewNop())

		tag, err := b.Build(context.Background(), bundle, "app.zip")
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(tag, "user_code_image_"))
		assert.Equal(t, tag, engine.buildTag)
		assert.Equal(t, "Dockerfile", engine.buildDockerfile)
		assert.Contains(t, engine.contextNames, "Dockerfile")
		assert.Contains(t, engine.contextNames, "main.py")
	})

	t.Run("bad bundle never reaches the engine", func(t *testing.T) {
		engine := &fakeEngine{}
		b := NewBuilder(engine, Config{}, zap.NewNop())

		_, err := b.Build(context.Background(), []byte("garbage"), "app.zip")
		assert.ErrorIs(t, err, ErrBadBundle)
		assert.Empty(t, engine.buildTag)
	})

	t.Run("engine rejection wraps the build error", func(t *testing.T) {
		engine := &fakeEngine{buildErr: errors.New("step 3/7 failed")}
		b := NewBuilder(engine, Config{}, zap.NewNop())

		_, err := b.Build(context.Background(), bundle, "app.zip")
		assert.ErrorIs(t, err, ErrBuildFailed)
		assert.Contains(t, err.Error(), "step 3/7 failed")
	})
}

// TestBuilderPush tests the push gate truth table and the error wrapping of
// an attempted push.
func TestBuilderPush(t *testing.T) {
	tests := []struct {
		name          string
		cfg           Config
		wantAttempted bool
	}{
		{name: "gate open", cfg: Config{HubPush: true, Username: "u", Password: "p"}, wantAttempted: true},
		{name: "push disabled", cfg: Config{HubPush: false, Username: "u", Password: "p"}},
		{name: "missing username", cfg: Config{HubPush: true, Password: "p"}},
		{name: "missing password", cfg: Config{HubPush: true, Username: "u"}},
		{name: "credentials only", cfg: Config{Username: "u", Password: "p"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			b := NewBuilder(engine, tt.cfg, zap.NewNop())

			attempted, err := b.Push(context.Background(), "user_code_image_abc12345")
			require.NoError(t, err)
			assert.Equal(t, tt.wantAttempted, attempted)
			if tt.wantAttempted {
				assert.Equal(t, "user_code_image_abc12345", engine.pushedRef)
				assert.Equal(t, "u", engine.pushUser)
				assert.Equal(t, "p", engine.pushPass)
			} else {
				assert.Empty(t, engine.pushedRef)
			}
		})
	}

	t.Run("registry failure wraps the push error", func(t *testing.T) {
		engine := &fakeEngine{pushErr: errors.New("unauthorized")}
		b := NewBuilder(engine, Config{HubPush: true, Username: "u", Password: "p"}, zap.NewNop())

		attempted, err := b.Push(context.Background(), "user_code_image_abc12345")
		assert.True(t, attempted)
		assert.ErrorIs(t, err, ErrPushFailed)
		assert.Contains(t, err.Error(), "unauthorized")
	})
}
