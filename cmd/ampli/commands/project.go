package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dyluth/ampli/internal/config"
	"github.com/dyluth/ampli/internal/git"
	"github.com/dyluth/ampli/internal/pipeline"
	"github.com/dyluth/ampli/internal/printer"
	"github.com/dyluth/ampli/internal/workspace"
	"github.com/dyluth/ampli/pkg/ledger"
)

// project is the loaded configuration plus everything derived from it.
type project struct {
	cfg *config.Config
	// baseDir holds ampli.yml; relative paths in it resolve against baseDir.
	baseDir string
	ws      *workspace.Workspace
	plan    *pipeline.Plan
	ledger  *ledger.Client
}

// loadProject reads the configuration (defaults when ampli.yml is absent),
// applies the global flag overrides and opens the work directory.
func loadProject() (*project, error) {
	cfg, found, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fail(
			"invalid configuration",
			err.Error(),
			[]string{fmt.Sprintf("Fix %s, or recreate it:\n  ampli init --force", configPath)},
		)
	}
	if !found && configPath != config.DefaultPath {
		return nil, fail(
			"configuration not found",
			fmt.Sprintf("No configuration file at %s.", configPath),
			[]string{"Create one:\n  ampli init"},
		)
	}

	if runnerMode != "" {
		cfg.Runner.Mode = runnerMode
	}
	if workDir != "" {
		cfg.WorkDir = workDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fail("invalid configuration", err.Error(), nil)
	}

	baseDir, err := filepath.Abs(filepath.Dir(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve configuration directory: %w", err)
	}
	root := cfg.WorkDir
	if !filepath.IsAbs(root) {
		root = filepath.Join(baseDir, root)
	}
	ws, err := workspace.Open(root)
	if err != nil {
		return nil, err
	}

	return &project{
		cfg:     cfg,
		baseDir: baseDir,
		ws:      ws,
		plan:    pipeline.NewPlan(cfg, ws, baseDir),
	}, nil
}

// connectLedger opens the provenance ledger when one is configured. A
// configured but unreachable ledger is an error; an unconfigured one is not,
// unless required is set.
func (p *project) connectLedger(ctx context.Context, required bool) error {
	url := p.cfg.Ledger.RedisURL
	if url == "" {
		if required {
			return fail(
				"ledger not configured",
				"This command reads the provenance ledger, but ledger.redis_url is not set.",
				[]string{fmt.Sprintf("Set ledger.redis_url in %s, e.g.:\n  ledger:\n    redis_url: redis://localhost:6379/0", configPath)},
			)
		}
		return nil
	}

	client, err := ledger.NewClientFromURL(url, p.cfg.Ledger.Namespace)
	if err != nil {
		return fail("invalid ledger URL", err.Error(), nil)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return withCode(ExitInput, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to the ledger at %s", url),
			[]printer.Field{{Key: "Error", Value: err.Error()}},
			[]string{
				"Start Redis, e.g.:\n  docker run -d -p 6379:6379 redis:7",
				fmt.Sprintf("Or remove ledger.redis_url from %s to run without provenance", configPath),
			},
		))
	}
	p.ledger = client
	return nil
}

func (p *project) close() {
	if p.ledger != nil {
		p.ledger.Close()
	}
}

// revision returns the git revision of the project directory, or "" when it
// is not under version control.
func (p *project) revision() string {
	rev, err := git.NewChecker(p.baseDir).Revision()
	if err != nil {
		log.Printf("[WARN] Failed to read git revision: %v", err)
		return ""
	}
	return rev
}

// signalContext is cancelled by SIGINT or SIGTERM, which kills the running
// tool.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fail(title, explanation string, suggestions []string) error {
	return withCode(ExitInput, printer.Error(title, explanation, suggestions))
}
