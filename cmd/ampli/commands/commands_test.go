package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/ampli/internal/config"
	"github.com/dyluth/ampli/internal/export"
	"github.com/dyluth/ampli/internal/pipeline"
	"github.com/dyluth/ampli/internal/printer"
	"github.com/dyluth/ampli/internal/runner"
	"github.com/dyluth/ampli/internal/runner/runnertest"
	"github.com/dyluth/ampli/internal/stage"
	"github.com/dyluth/ampli/internal/testutil"
	"github.com/dyluth/ampli/internal/workspace"
	"github.com/dyluth/ampli/pkg/ledger"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testProject is a project directory with reads, a manifest, a classifier
// jar and an ampli.yml.
type testProject struct {
	dir      string
	config   string
	fake     *runnertest.Fake
	redisURL string
}

func newTestProject(t *testing.T, withLedger bool) *testProject {
	t.Helper()
	dir := t.TempDir()
	reads := filepath.Join(dir, "reads")
	require.NoError(t, os.Mkdir(reads, 0755))

	var b strings.Builder
	b.WriteString("sample-id\tforward-absolute-filepath\treverse-absolute-filepath\n")
	for _, id := range []string{"S1", "S2"} {
		fwd := filepath.Join(reads, id+"_R1.fastq")
		rev := filepath.Join(reads, id+"_R2.fastq")
		require.NoError(t, os.WriteFile(fwd, []byte("@a\nACGTACGTAC\n+\nIIIIIIIIII\n"), 0644))
		require.NoError(t, os.WriteFile(rev, []byte("@a\nACGTACGT\n+\nIIIIIIII\n"), 0644))
		fmt.Fprintf(&b, "%s\t%s\t%s\n", id, fwd, rev)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.tsv"), []byte(b.String()), 0644))
	jar := filepath.Join(dir, "classifier.jar")
	require.NoError(t, os.WriteFile(jar, []byte("PK"), 0644))

	p := &testProject{dir: dir, config: filepath.Join(dir, "ampli.yml"), fake: &runnertest.Fake{}}
	ledgerSection := ""
	if withLedger {
		_, p.redisURL = testutil.StartMiniredis(t)
		ledgerSection = fmt.Sprintf("ledger:\n  redis_url: %s\n  namespace: test\n", p.redisURL)
	}
	yml := fmt.Sprintf(`version: "1.0"
work_dir: work
manifest:
  path: manifest.tsv
denoise:
  trunc_len_f: 10
  trunc_len_r: 8
classify:
  jar: %s
%s`, jar, ledgerSection)
	require.NoError(t, os.WriteFile(p.config, []byte(yml), 0644))
	return p
}

// execute runs the root command with args against the fake runner and
// returns stdout, stderr and the exit code.
func (p *testProject) execute(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	resetFlags()

	prevFactory := runnerFactory
	runnerFactory = func(*project, context.Context, string) (runner.Runner, func(), error) {
		return p.fake, func() {}, nil
	}
	prevColor := color.NoColor
	color.NoColor = true
	var out, errOut bytes.Buffer
	printer.SetOutput(&out, &errOut)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	t.Cleanup(func() {
		runnerFactory = prevFactory
		color.NoColor = prevColor
		printer.SetOutput(nil, nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	rootCmd.SetArgs(append(args, "--config", p.config))
	err := Execute()
	return out.String(), errOut.String(), ExitCode(err)
}

// resetFlags restores every flag to its default and clears its changed
// state, since rootCmd is shared by all tests.
func resetFlags() {
	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		for _, fs := range []*pflag.FlagSet{c.Flags(), c.PersistentFlags()} {
			fs.VisitAll(func(f *pflag.Flag) {
				if sv, ok := f.Value.(pflag.SliceValue); ok {
					sv.Replace(nil)
				} else {
					f.Value.Set(f.DefValue)
				}
				f.Changed = false
			})
		}
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(rootCmd)
}

func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	testRoot := &cobra.Command{
		Use:   "ampli",
		Short: "Test root command",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	buf := new(bytes.Buffer)
	testRoot.SetOut(buf)
	testRoot.SetErr(buf)

	require.NoError(t, testRoot.Execute())
	assert.Contains(t, buf.String(), "Usage:")
}

func TestRootCommand_RegistersEverySubcommand(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{
		"init", "manifest", "import", "summarize", "denoise", "phylogeny", "export",
		"classify", "run", "artifacts", "watch", "runs", "unlock", "ps", "clean",
	} {
		assert.Contains(t, names, want)
	}
}

func TestRun_EndToEnd(t *testing.T) {
	p := newTestProject(t, true)
	out, errOut, code := p.execute(t, "run")
	require.Equal(t, 0, code, errOut)

	for _, name := range []string{"import", "summarize", "denoise", "phylogeny", "export", "classify"} {
		assert.Contains(t, out, "✓ "+name)
	}
	assert.Contains(t, out, "6 stage(s) completed")

	exported := filepath.Join(p.dir, "work", "exported")
	for _, name := range []string{
		export.FileFeatureTable, export.FileSequences, export.FileUnrootedTree,
		export.FileRootedTree, export.FileDenoisingStats, stage.FileTaxonomy,
	} {
		assert.FileExists(t, filepath.Join(exported, name))
	}

	client, err := ledger.NewClientFromURL(p.redisURL, "test")
	require.NoError(t, err)
	defer client.Close()
	runs, err := client.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ledger.RunStatusSucceeded, runs[0].Status)
}

func TestRun_SecondRunReusesResults(t *testing.T) {
	p := newTestProject(t, true)
	_, errOut, code := p.execute(t, "run")
	require.Equal(t, 0, code, errOut)
	calls := len(p.fake.Calls())

	out, errOut, code := p.execute(t, "run")
	require.Equal(t, 0, code, errOut)
	assert.Len(t, p.fake.Calls(), calls)
	assert.Contains(t, out, "✓ denoise (reused 3 cached output(s))")

	_, errOut, code = p.execute(t, "run", "--no-cache")
	require.Equal(t, 0, code, errOut)
	assert.Greater(t, len(p.fake.Calls()), calls)
}

func TestRun_ToolFailureExitsTwo(t *testing.T) {
	p := newTestProject(t, false)
	p.fake.Fail = map[string]int{"denoise-paired": 3}

	_, errOut, code := p.execute(t, "run")
	assert.Equal(t, ExitTool, code)
	assert.Contains(t, errOut, "stage denoise failed")
	assert.Contains(t, errOut, "Exit code:")
	assert.Contains(t, errOut, "simulated failure")
	assert.NotContains(t, p.fake.Commands(), "qiime phylogeny align-to-tree-mafft-fasttree")
}

func TestRun_BadManifestExitsOneBeforeAnyTool(t *testing.T) {
	p := newTestProject(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(p.dir, "manifest.tsv"), []byte("sample-id\tforward\n"), 0644))

	_, errOut, code := p.execute(t, "run")
	assert.Equal(t, ExitInput, code)
	assert.Contains(t, errOut, "invalid input for stage import")
	assert.Contains(t, errOut, "ampli manifest validate")
	assert.Empty(t, p.fake.Calls())
}

func TestRun_TruncationLongerThanReadsRejected(t *testing.T) {
	p := newTestProject(t, false)
	_, errOut, code := p.execute(t, "run", "--trunc-len-f", "250")
	assert.Equal(t, ExitInput, code)
	assert.Contains(t, errOut, "exceeds the raw read length 10")
	assert.Empty(t, p.fake.Calls())
}

func TestRun_DryRunRunsNothing(t *testing.T) {
	p := newTestProject(t, false)
	out, errOut, code := p.execute(t, "run", "--dry-run")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "qiime dada2 denoise-paired")
	assert.Contains(t, out, "java -Xmx1g -jar")
	assert.Empty(t, p.fake.Calls())
}

func TestRun_Skip(t *testing.T) {
	p := newTestProject(t, false)
	_, errOut, code := p.execute(t, "run", "--skip", "classify,summarize")
	require.Equal(t, 0, code, errOut)
	assert.NotContains(t, p.fake.Commands(), "java classify")
	assert.NotContains(t, p.fake.Commands(), "qiime demux summarize")

	_, errOut, code = p.execute(t, "run", "--skip", "typo")
	assert.Equal(t, ExitInput, code)
	assert.Contains(t, errOut, `unknown stage "typo"`)
}

func TestRun_ScanBuildsManifest(t *testing.T) {
	p := newTestProject(t, false)
	require.NoError(t, os.Remove(filepath.Join(p.dir, "manifest.tsv")))

	out, errOut, code := p.execute(t, "run", "--scan", filepath.Join(p.dir, "reads"), "--skip", "classify")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "manifest: 2 samples")
	assert.FileExists(t, filepath.Join(p.dir, "manifest.tsv"))
}

func TestRun_LockedWorkDir(t *testing.T) {
	p := newTestProject(t, false)
	ws, err := workspace.Open(filepath.Join(p.dir, "work"))
	require.NoError(t, err)
	lock, err := ws.Acquire("other-run")
	require.NoError(t, err)
	defer lock.Release()

	_, errOut, code := p.execute(t, "run")
	assert.Equal(t, ExitInput, code)
	assert.Contains(t, errOut, "work directory is locked")

	out, errOut, code := p.execute(t, "unlock")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Unlocked")

	_, errOut, code = p.execute(t, "run", "--skip", "classify")
	assert.Equal(t, 0, code, errOut)
}

func TestStageCommands(t *testing.T) {
	p := newTestProject(t, false)
	for _, args := range [][]string{
		{"import"},
		{"denoise"},
		{"phylogeny", "--threads", "2"},
		{"export"},
		{"classify", "--confidence", "0.8"},
	} {
		_, errOut, code := p.execute(t, args...)
		require.Equal(t, 0, code, "%v: %s", args, errOut)
	}
	assert.Equal(t, []string{
		"qiime tools import",
		"qiime demux summarize",
		"qiime dada2 denoise-paired",
		"qiime phylogeny align-to-tree-mafft-fasttree",
		"qiime tools export", "biom convert",
		"qiime tools export",
		"qiime tools export",
		"qiime tools export",
		"qiime tools export",
		"java classify",
	}, p.fake.Commands())

	calls := p.fake.Calls()
	assert.Contains(t, calls[3].String(), "--p-n-threads 2")
	assert.Contains(t, calls[len(calls)-1].String(), "-c 0.8")
}

func TestDenoise_ReadLengthFlagsSkipProbe(t *testing.T) {
	p := newTestProject(t, false)
	_, errOut, code := p.execute(t, "import")
	require.Equal(t, 0, code, errOut)

	_, errOut, code = p.execute(t, "denoise", "--trunc-len-f", "12", "--read-length-f", "20", "--read-length-r", "20")
	require.Equal(t, 0, code, errOut)
	last := p.fake.Calls()[len(p.fake.Calls())-1]
	assert.Contains(t, last.String(), "--p-trunc-len-f 12")
}

func TestManifestCommands(t *testing.T) {
	p := newTestProject(t, false)
	out := filepath.Join(p.dir, "built.tsv")

	stdout, errOut, code := p.execute(t, "manifest", "build", "--dir", filepath.Join(p.dir, "reads"), "--out", out)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, stdout, "2 samples")

	stdout, errOut, code = p.execute(t, "manifest", "validate", out)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, stdout, "is valid (2 samples)")

	require.NoError(t, os.WriteFile(out, []byte("wrong header\n"), 0644))
	_, errOut, code = p.execute(t, "manifest", "validate", out)
	assert.Equal(t, ExitInput, code)
	assert.Contains(t, errOut, "manifest line 1")
}

func TestInitCommand(t *testing.T) {
	p := newTestProject(t, false)
	dir := t.TempDir()

	out, errOut, code := p.execute(t, "init", dir)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Created")
	assert.FileExists(t, filepath.Join(dir, "ampli.yml"))

	_, errOut, code = p.execute(t, "init", dir)
	assert.Equal(t, ExitInput, code)
	assert.Contains(t, errOut, "project already initialized")
}

func TestArtifactsCommand(t *testing.T) {
	p := newTestProject(t, true)
	_, errOut, code := p.execute(t, "run", "--skip", "classify,summarize")
	require.Equal(t, 0, code, errOut)

	out, errOut, code := p.execute(t, "artifacts", "--stage", "denoise")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "3 artifacts found")
	assert.Contains(t, out, "table.qza")

	out, errOut, code = p.execute(t, "artifacts", "--output", "jsonl", "--type", "Phylogeny[Rooted]")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, `"name":"rooted-tree.qza"`)

	_, errOut, code = p.execute(t, "artifacts", "zzzzzz")
	assert.Equal(t, ExitInput, code)
	assert.Contains(t, errOut, "not found")

	_, errOut, code = p.execute(t, "artifacts", "--output", "xml")
	assert.Equal(t, ExitInput, code)
	assert.Contains(t, errOut, "invalid output format")
}

func TestLedgerCommandsRequireLedger(t *testing.T) {
	p := newTestProject(t, false)
	for _, args := range [][]string{{"artifacts"}, {"runs"}, {"watch"}} {
		_, errOut, code := p.execute(t, args...)
		assert.Equal(t, ExitInput, code, args)
		assert.Contains(t, errOut, "ledger not configured", args)
	}
}

func TestRunsCommand(t *testing.T) {
	p := newTestProject(t, true)
	out, _, code := p.execute(t, "runs")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "No runs found in namespace 'test'")

	_, errOut, code := p.execute(t, "run", "--skip", "classify")
	require.Equal(t, 0, code, errOut)
	out, _, code = p.execute(t, "runs")
	require.Equal(t, 0, code)
	assert.Contains(t, strings.ToUpper(out), "SUCCEEDED")
}

func TestConfigNotFound(t *testing.T) {
	p := newTestProject(t, false)
	p.config = filepath.Join(p.dir, "missing.yml")
	_, errOut, code := p.execute(t, "run")
	assert.Equal(t, ExitInput, code)
	assert.Contains(t, errOut, "configuration not found")
}

func TestReportError(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	var out, errOut bytes.Buffer
	printer.SetOutput(&out, &errOut)
	t.Cleanup(func() {
		printer.SetOutput(nil, nil)
		color.NoColor = prev
	})

	tests := []struct {
		name string
		err  error
		code int
		want string
	}{
		{
			name: "tool failure",
			err:  &pipeline.StageError{Stage: "phylogeny", Command: []string{"qiime", "phylogeny"}, ExitCode: 1, Err: errors.New("exit status 1")},
			code: ExitTool,
			want: "stage phylogeny failed",
		},
		{
			name: "input error",
			err:  &stage.InputError{Stage: "denoise", Err: errors.New("bad trunc")},
			code: ExitInput,
			want: "invalid input for stage denoise",
		},
		{
			name: "locked",
			err:  &workspace.LockedError{Path: "/w/ampli.lock", RunID: "r1", PID: 42, Since: time.Now()},
			code: ExitInput,
			want: "work directory is locked",
		},
		{
			name: "cancelled",
			err:  fmt.Errorf("execution cancelled: %w", context.Canceled),
			code: ExitCancelled,
			want: "run cancelled",
		},
		{
			name: "other",
			err:  errors.New("disk full"),
			code: ExitInput,
			want: "disk full",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errOut.Reset()
			err := reportError(tt.err)
			assert.Equal(t, tt.code, ExitCode(err))
			assert.Contains(t, errOut.String(), tt.want)
		})
	}
}

func TestApplyDenoiseFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	addDenoiseFlags(cmd)
	denoiseFlagValues = denoiseFlags{}
	t.Cleanup(func() { denoiseFlagValues = denoiseFlags{} })
	require.NoError(t, cmd.ParseFlags([]string{"--trunc-len-r", "150", "--threads", "0"}))

	p := &project{cfg: config.Default()}
	p.cfg.Denoise.TruncLenF = 240
	p.cfg.Denoise.TruncLenR = 200
	p.cfg.Denoise.Threads = 8
	applyDenoiseFlags(cmd, p)

	assert.Equal(t, 240, p.cfg.Denoise.TruncLenF)
	assert.Equal(t, 150, p.cfg.Denoise.TruncLenR)
	assert.Equal(t, 0, p.cfg.Denoise.Threads)
}

func TestFormatRuns(t *testing.T) {
	var buf bytes.Buffer
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local).UnixMilli()
	require.NoError(t, formatRuns(&buf, []*ledger.Run{{
		ID:           "4f9c2b1e-8d3a-4c5b-9e7f-0a1b2c3d4e5f",
		Status:       ledger.RunStatusFailed,
		Revision:     "0123456789abcdef-dirty",
		Error:        "stage denoise failed: exit status 1",
		StartedAtMs:  started,
		FinishedAtMs: started + 90_000,
	}}, "default"))

	out := buf.String()
	assert.Contains(t, out, "4f9c2b1e")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "2026-03-01 10:00:00")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, "-dirty")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
}
