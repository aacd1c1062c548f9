// Package docker holds the Docker client constructor and the label scheme
// shared by every container ampli starts.
package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/client"
)

// NewClient creates a Docker client and validates daemon is accessible.
// Returns an error if the Docker daemon is not running or not accessible.
func NewClient(ctx context.Context) (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf(`Docker daemon not accessible: %w

Ensure Docker is running, or set runner.mode: local in ampli.yml
to use tools installed on this machine.`, err)
	}

	return cli, nil
}
