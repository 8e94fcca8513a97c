package container

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/imyashkale/deployer/internal/shell"
)

const (
	buildTimeout = 30 * time.Minute
	pushTimeout  = 15 * time.Minute
	shortTimeout = 2 * time.Minute
)

// BuildOptions describes a docker build
type BuildOptions struct {
	Dockerfile string
	Context    string
	Tags       []string
	BuildArgs  map[string]string
}

// Docker drives the docker CLI
type Docker struct {
	runner shell.Runner
	// Verbose streams build and push progress to stderr
	Verbose bool
}

// NewDocker creates a docker client
func NewDocker(runner shell.Runner) *Docker {
	return &Docker{runner: runner}
}

// Build builds an image with every tag in opts.Tags
func (d *Docker) Build(ctx context.Context, opts BuildOptions) error {
	args := append([]string{"build"}, buildFlags(opts)...)
	args = append(args, contextDir(opts))
	if _, err := d.run(ctx, buildTimeout, args...); err != nil {
		return fmt.Errorf("docker build failed: %w", err)
	}
	return nil
}

// BuildxPush builds for several platforms and pushes the result in one step
func (d *Docker) BuildxPush(ctx context.Context, opts BuildOptions, platforms []string) error {
	args := []string{"buildx", "build", "--platform", strings.Join(platforms, ",")}
	args = append(args, buildFlags(opts)...)
	args = append(args, "--push", contextDir(opts))
	if _, err := d.run(ctx, buildTimeout, args...); err != nil {
		return fmt.Errorf("docker buildx build failed: %w", err)
	}
	return nil
}

// Tag adds target as a name for source
func (d *Docker) Tag(ctx context.Context, source, target string) error {
	if _, err := d.run(ctx, shortTimeout, "tag", source, target); err != nil {
		return fmt.Errorf("failed to tag Docker image: %w", err)
	}
	return nil
}

// Push pushes ref to its registry
func (d *Docker) Push(ctx context.Context, ref string) error {
	if _, err := d.run(ctx, pushTimeout, "push", ref); err != nil {
		return fmt.Errorf("failed to push Docker image %s: %w", ref, err)
	}
	return nil
}

// RemoveImage removes a local image name
func (d *Docker) RemoveImage(ctx context.Context, ref string) error {
	if _, err := d.run(ctx, shortTimeout, "rmi", ref); err != nil {
		return fmt.Errorf("failed to remove image %s: %w", ref, err)
	}
	return nil
}

// Login authenticates against registry; the password is passed on stdin
func (d *Docker) Login(ctx context.Context, registry, username, password string) error {
	_, err := d.runner.Run(ctx, shell.Command{
		Name:    "docker",
		Args:    []string{"login", "--username", username, "--password-stdin", registry},
		Stdin:   strings.NewReader(password),
		Timeout: shortTimeout,
	})
	if err != nil {
		return fmt.Errorf("docker login to %s failed: %w", registry, err)
	}
	return nil
}

func (d *Docker) run(ctx context.Context, timeout time.Duration, args ...string) (*shell.Result, error) {
	cmd := shell.Command{Name: "docker", Args: args, Timeout: timeout}
	if d.Verbose {
		cmd.Stream = os.Stderr
	}
	return d.runner.Run(ctx, cmd)
}

func buildFlags(opts BuildOptions) []string {
	var args []string
	if opts.Dockerfile != "" {
		args = append(args, "-f", opts.Dockerfile)
	}
	for _, t := range opts.Tags {
		args = append(args, "-t", t)
	}
	keys := make([]string, 0, len(opts.BuildArgs))
	for k := range opts.BuildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--build-arg", k+"="+opts.BuildArgs[k])
	}
	return args
}

func contextDir(opts BuildOptions) string {
	if opts.Context == "" {
		return "."
	}
	return opts.Context
}
