// Package npm publishes packages with the npm CLI.
package npm

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/imyashkale/deployer/internal/shell"
)

// DefaultRegistry is used when a publish request names none
const DefaultRegistry = "https://registry.npmjs.org/"

const publishTimeout = 5 * time.Minute

// PublishRequest describes one npm publish
type PublishRequest struct {
	Dir      string
	Registry string
	Access   string
	Tag      string
	Token    string
}

// Client runs npm
type Client struct {
	runner shell.Runner
}

// NewClient creates an npm client
func NewClient(runner shell.Runner) *Client {
	return &Client{runner: runner}
}

// Version returns the version field of the package in dir
func (c *Client) Version(ctx context.Context, dir string) (string, error) {
	res, err := c.runner.Run(ctx, shell.Command{
		Name:    "npm",
		Args:    []string{"pkg", "get", "version"},
		Dir:     dir,
		Timeout: time.Minute,
	})
	if err != nil {
		return "", fmt.Errorf("failed to read package version: %w", err)
	}
	v := strings.Trim(strings.TrimSpace(res.Stdout), `"`)
	if v == "" || v == "{}" {
		return "", fmt.Errorf("package in %s has no version", dir)
	}
	return v, nil
}

// Publish publishes the package in req.Dir. The token is written to a
// throwaway user config as an environment reference, never as plain text.
func (c *Client) Publish(ctx context.Context, req PublishRequest) error {
	registry := req.Registry
	if registry == "" {
		registry = DefaultRegistry
	}

	userConfig, err := writeUserConfig(registry, req.Token != "")
	if err != nil {
		return err
	}
	defer os.RemoveAll(filepath.Dir(userConfig))

	args := []string{"publish", "--registry", registry, "--userconfig", userConfig}
	if req.Access != "" {
		args = append(args, "--access", req.Access)
	}
	if req.Tag != "" {
		args = append(args, "--tag", req.Tag)
	}

	cmd := shell.Command{Name: "npm", Args: args, Dir: req.Dir, Timeout: publishTimeout}
	if req.Token != "" {
		cmd.Env = []string{"NPM_TOKEN=" + req.Token}
	}
	if _, err := c.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("npm publish failed: %w", err)
	}
	return nil
}

func writeUserConfig(registry string, withToken bool) (string, error) {
	dir, err := os.MkdirTemp("", "deployer-npm-")
	if err != nil {
		return "", fmt.Errorf("failed to create npm config dir: %w", err)
	}

	content := "registry=" + registry + "\n"
	if withToken {
		content += authLine(registry) + "\n"
	}

	path := filepath.Join(dir, ".npmrc")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to write npm config: %w", err)
	}
	return path, nil
}

// authLine scopes the token to the registry host and path
func authLine(registry string) string {
	u, err := url.Parse(registry)
	host := registry
	if err == nil && u.Host != "" {
		host = u.Host + u.Path
	}
	if !strings.HasSuffix(host, "/") {
		host += "/"
	}
	return "//" + host + ":_authToken=${NPM_TOKEN}"
}
