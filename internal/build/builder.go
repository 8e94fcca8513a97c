// Package build produces the binary package artifact of lambda-zip targets.
package build

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/imyashkale/deployer/internal/cleanup"
	"github.com/imyashkale/deployer/internal/deployerr"
	"github.com/imyashkale/deployer/internal/logger"
	"github.com/imyashkale/deployer/internal/models"
	"github.com/imyashkale/deployer/internal/shell"
)

const (
	// DefaultOutput is the build output path when none is configured
	DefaultOutput = "dist"
	buildTimeout  = 30 * time.Minute
)

// Request describes one build
type Request struct {
	Service   models.ServiceDescriptor
	Settings  models.BuildSettings
	Revision  string
	BuildID   string
	Timestamp time.Time
	// Scope receives the temporary package so it is removed after the run
	Scope *cleanup.Scope
}

// Builder runs the build command and packages its output
type Builder struct {
	runner shell.Runner
	root   string
	tmpDir string
}

// NewBuilder creates a builder for the project checked out at root
func NewBuilder(runner shell.Runner, root string) *Builder {
	return &Builder{runner: runner, root: root, tmpDir: os.TempDir()}
}

// Build runs the build command and returns the packaged artifact
func (b *Builder) Build(ctx context.Context, req Request) (*models.BuildArtifact, error) {
	workDir := filepath.Join(b.root, req.Settings.WorkDir)
	log := logger.WithFields(map[string]interface{}{
		"service":  req.Service.Name,
		"revision": req.Revision,
		"work_dir": workDir,
	})

	if req.Settings.Command != "" {
		log.WithField("command", req.Settings.Command).Info("Running build command")
		_, err := b.runner.Run(ctx, shell.Command{
			Name:    "sh",
			Args:    []string{"-c", req.Settings.Command},
			Dir:     workDir,
			Env:     envList(req.Settings.Env),
			Timeout: buildTimeout,
		})
		if err != nil {
			return nil, deployerr.Build("build command", err)
		}
	}

	return b.Package(ctx, req)
}

// Package locates the existing build output and packages it without running
// the build command. A directory output is zipped; a file output is used as is.
func (b *Builder) Package(ctx context.Context, req Request) (*models.BuildArtifact, error) {
	workDir := filepath.Join(b.root, req.Settings.WorkDir)
	log := logger.WithFields(map[string]interface{}{
		"service":  req.Service.Name,
		"revision": req.Revision,
		"work_dir": workDir,
	})

	output := req.Settings.Output
	if output == "" {
		output = DefaultOutput
	}
	if !filepath.IsAbs(output) {
		output = filepath.Join(workDir, output)
	}

	if err := ctx.Err(); err != nil {
		return nil, deployerr.Build("package output", err)
	}
	info, err := os.Stat(output)
	if err != nil {
		return nil, deployerr.Build("locate output", err)
	}

	location := output
	size := info.Size()
	if info.IsDir() {
		location = filepath.Join(b.tmpDir, fmt.Sprintf("%s-%s.zip", req.Service.Name, req.BuildID))
		if size, err = ZipDir(output, location); err != nil {
			return nil, deployerr.Build("package output", err)
		}
		if req.Scope != nil {
			pkg := location
			req.Scope.Acquire("package "+filepath.Base(pkg), func() error {
				return os.Remove(pkg)
			})
		}
	}

	log.WithFields(map[string]interface{}{
		"artifact":   location,
		"size_bytes": size,
	}).Info("Artifact packaged")

	return &models.BuildArtifact{
		Location:  location,
		Revision:  req.Revision,
		BuildID:   req.BuildID,
		Timestamp: req.Timestamp,
		SizeBytes: size,
	}, nil
}

// ZipDir writes every regular file below dir into a zip archive at dest,
// with slash separated paths relative to dir. It returns the archive size.
func ZipDir(dir, dest string) (int64, error) {
	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	if err != nil {
		zw.Close()
		os.Remove(dest)
		return 0, fmt.Errorf("failed to zip %s: %w", dir, err)
	}
	if err := zw.Close(); err != nil {
		os.Remove(dest)
		return 0, err
	}

	info, err := f.Stat()
	if err != nil {
		os.Remove(dest)
		return 0, err
	}
	return info.Size(), nil
}

// BuildID joins the build time and revision
func BuildID(t time.Time, revision string) string {
	return t.Format("20060102-150405") + "-" + revision
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
