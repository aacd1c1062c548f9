package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	dockerpkg "github.com/dyluth/ampli/internal/docker"
)

// Docker runs every invocation in a fresh container. Host directories are
// bind-mounted at identical paths so argv needs no rewriting.
type Docker struct {
	cli     *client.Client
	images  map[Tool]string
	runID   string
	workDir string
	// Timeout kills a container that runs longer; zero means no limit.
	Timeout time.Duration
	// Echo, when set, receives the container output after it exits.
	Echo io.Writer
}

// DockerOptions configures NewDocker.
type DockerOptions struct {
	QiimeImage      string
	ClassifierImage string
	RunID           string
	WorkDir         string
	Timeout         time.Duration
	Echo            io.Writer
}

// NewDocker wraps an existing client. The caller owns cli.
func NewDocker(cli *client.Client, opts DockerOptions) *Docker {
	return &Docker{
		cli: cli,
		images: map[Tool]string{
			ToolQiime: opts.QiimeImage,
			ToolBiom:  opts.QiimeImage,
			ToolJava:  opts.ClassifierImage,
		},
		runID:   opts.RunID,
		workDir: opts.WorkDir,
		Timeout: opts.Timeout,
		Echo:    opts.Echo,
	}
}

func (d *Docker) Name() string { return "docker" }

// Run creates, starts and waits for a container running inv, then removes it.
func (d *Docker) Run(ctx context.Context, inv Invocation) (*Result, error) {
	if len(inv.Args) == 0 {
		return nil, fmt.Errorf("command array is empty")
	}
	image, ok := d.images[inv.Tool]
	if !ok || image == "" {
		return nil, fmt.Errorf("no image configured for tool %q", inv.Tool)
	}
	if err := d.ensureImage(ctx, image); err != nil {
		return nil, err
	}

	cfg, hostCfg, err := containerSpec(inv, image, dockerpkg.BuildLabels(d.runID, inv.Stage, d.workDir))
	if err != nil {
		return nil, err
	}

	execCtx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	name := dockerpkg.ContainerName(d.runID, inv.Stage)
	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container for %s: %w", inv.Stage, err)
	}
	// Cleanup must survive cancellation of ctx.
	defer func() {
		if err := d.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			log.Printf("[WARN] Failed to remove container %s: %v", name, err)
		}
	}()

	log.Printf("[INFO] Executing tool in container: stage=%s image=%s container=%s command=%s", inv.Stage, image, name, inv)
	start := time.Now()
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container for %s: %w", inv.Stage, err)
	}

	statusCh, errCh := d.cli.ContainerWait(execCtx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		res := &Result{ExitCode: -1, Duration: time.Since(start)}
		switch {
		case ctx.Err() != nil:
			return res, fmt.Errorf("tool execution cancelled: %w", ctx.Err())
		case execCtx.Err() != nil:
			return res, fmt.Errorf("tool execution timeout (%s): %s", d.Timeout, inv)
		}
		return res, fmt.Errorf("failed waiting for container %s: %w", name, err)
	case status := <-statusCh:
		if status.Error != nil {
			return &Result{ExitCode: -1, Duration: time.Since(start)}, fmt.Errorf("container %s: %s", name, status.Error.Message)
		}
		exitCode = int(status.StatusCode)
	}

	res := &Result{ExitCode: exitCode, Duration: time.Since(start)}
	res.Stdout, res.Stderr = d.logs(ctx, resp.ID)
	if d.Echo != nil {
		io.WriteString(d.Echo, res.Stdout)
		io.WriteString(d.Echo, res.Stderr)
	}

	if exitCode != 0 {
		log.Printf("[ERROR] Tool failed: stage=%s exit_code=%d duration=%s", inv.Stage, exitCode, res.Duration)
		return res, &ToolError{Command: inv.Args, ExitCode: exitCode, Stderr: Tail(res.Stderr, stderrTailSize)}
	}
	log.Printf("[INFO] Tool completed: stage=%s duration=%s", inv.Stage, res.Duration.Round(time.Millisecond))
	return res, nil
}

// logs returns the demultiplexed container output, capped like local runs.
func (d *Docker) logs(ctx context.Context, id string) (string, string) {
	reader, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", fmt.Sprintf("(failed to retrieve logs: %v)", err)
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(
		&limitedWriter{w: &stdout, limit: maxOutputSize},
		&limitedWriter{w: &stderr, limit: maxOutputSize},
		reader,
	); err != nil {
		log.Printf("[WARN] Failed to read container logs: %v", err)
	}
	return stdout.String(), stderr.String()
}

// ensureImage pulls image when it is not present locally.
func (d *Docker) ensureImage(ctx context.Context, image string) error {
	if _, _, err := d.cli.ImageInspectWithRaw(ctx, image); err == nil {
		return nil
	}
	log.Printf("[INFO] Pulling image %s", image)
	reader, err := d.cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to complete image pull %s: %w", image, err)
	}
	return nil
}

// containerSpec builds the container and host configuration for inv.
func containerSpec(inv Invocation, image string, labels map[string]string) (*container.Config, *container.HostConfig, error) {
	dirs := append([]string{}, inv.Mounts...)
	if inv.Dir != "" {
		dirs = append(dirs, inv.Dir)
	}

	seen := make(map[string]bool)
	var mounts []mount.Mount
	for _, dir := range dirs {
		if !filepath.IsAbs(dir) {
			return nil, nil, fmt.Errorf("mount path %q must be absolute", dir)
		}
		dir = filepath.Clean(dir)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: dir, Target: dir})
	}
	sort.Slice(mounts, func(i, j int) bool { return mounts[i].Target < mounts[j].Target })

	cfg := &container.Config{
		Image:      image,
		Cmd:        inv.Args,
		WorkingDir: inv.Dir,
		// Outputs land in host directories owned by the caller.
		User:   fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		Env:    append([]string{"HOME=/tmp", "MPLCONFIGDIR=/tmp"}, inv.Env...),
		Labels: labels,
	}
	hostCfg := &container.HostConfig{
		Mounts:     mounts,
		AutoRemove: false, // removed explicitly after logs are read
	}
	return cfg, hostCfg, nil
}
