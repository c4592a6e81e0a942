package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// testEnv is an isolated config and data directory for running commands
// in-process.
type testEnv struct {
	t         *testing.T
	configDir string
	dataDir   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	return &testEnv{
		t:         t,
		configDir: filepath.Join(dir, "config"),
		dataDir:   filepath.Join(dir, "data"),
	}
}

// resetFlags restores flag variables, which cobra leaves set between runs.
func resetFlags() {
	flagConfigDir, flagDataDir, flagBackend, flagLogLevel = "", "", "", ""
	flagJSON = false
	flagImportName = ""
	flagShowFrom, flagShowRows = 1, 20
	flagCompactAll, flagCompactJobs, flagCompactDue = false, 4, false
}

// run executes gridstore with args and returns stdout.
func (e *testEnv) run(stdin string, args ...string) (string, error) {
	e.t.Helper()
	resetFlags()
	var out bytes.Buffer
	all := append([]string{"--config-dir", e.configDir, "--data-dir", e.dataDir, "--log-level", "error"}, args...)
	rootCmd.SetArgs(all)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *testEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run("", args...)
	require.NoError(e.t, err, "gridstore %v\n%s", args, out)
	return out
}

// importBudget imports a two-column CSV as the sheet "budget".
func (e *testEnv) importBudget() {
	e.t.Helper()
	path := filepath.Join(e.t.TempDir(), "budget.csv")
	require.NoError(e.t, os.WriteFile(path, []byte("a,b\n1,2\n3,4\n"), 0o644))
	e.mustRun("import", "--name", "budget", path)
}

func TestVersion(t *testing.T) {
	out := newTestEnv(t).mustRun("version")
	assert.Contains(t, out, "gridstore v"+Version)
}

func TestInit(t *testing.T) {
	env := newTestEnv(t)
	out := env.mustRun("init")
	assert.Contains(t, out, "gridstore initialized")
	assert.Contains(t, out, "(created)")

	data, err := os.ReadFile(filepath.Join(env.configDir, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "backend: sqlite")
	assert.Contains(t, string(data), "compaction_threshold: 1000")

	out = env.mustRun("init")
	assert.NotContains(t, out, "(created)")
}

func TestConfigFileSelectsBackend(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(env.configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.configDir, "config.yaml"),
		[]byte("backend: badger\ncompaction_threshold: 7\n"), 0o644))

	env.mustRun("sheets")
	assert.Equal(t, types.BackendBadger, cfg.Backend)
	assert.Equal(t, 7, cfg.CompactionThreshold)
	assert.Equal(t, types.DefaultViewportBuffer, cfg.ViewportBuffer)
}

func TestImportSetShowExport(t *testing.T) {
	env := newTestEnv(t)
	env.importBudget()

	out := env.mustRun("set", "budget", "B2", "=A1+A2*10")
	assert.Equal(t, "B2 = 40 [=A1+A2*10]\n", out)

	out = env.mustRun("show", "budget")
	assert.Contains(t, out, "40 [=A1+A2*10]")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"#", "A", "B"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"1", "1", "2"}, strings.Fields(lines[1]))

	dest := filepath.Join(t.TempDir(), "out.jsonl")
	out = env.mustRun("export", "budget", dest)
	assert.Contains(t, out, "wrote 2 rows")
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "[1,2]\n[3,40]\n", string(data))
}

func TestSheetsJSON(t *testing.T) {
	env := newTestEnv(t)
	env.importBudget()

	out := env.mustRun("--json", "sheets")
	var sheets []types.Sheet
	require.NoError(t, json.Unmarshal([]byte(out), &sheets))
	require.Len(t, sheets, 1)
	assert.Equal(t, "budget", sheets[0].Name)
	assert.Equal(t, 2, sheets[0].RowCount)
	assert.Equal(t, 2, sheets[0].ColumnCount)
}

func TestEditSession(t *testing.T) {
	env := newTestEnv(t)
	env.importBudget()

	script := strings.Join([]string{
		"set A1 5",
		"set B1 =A1*2",
		"undo",
		"undo",
		"redo",
		"insert-col 1",
		"status",
		"bogus",
		"quit",
	}, "\n")
	out, err := env.run(script, "edit", "budget")
	require.NoError(t, err, out)
	assert.Contains(t, out, "A1 = 5")
	assert.Contains(t, out, "B1 = 10 [=A1*2]")
	assert.Contains(t, out, "inserted column C")
	assert.Contains(t, out, "budget: 2 rows, 3 columns, undo 2, redo 0")
	assert.Contains(t, out, `error: unknown command "bogus"`)

	show := env.mustRun("show", "budget")
	lines := strings.Split(strings.TrimSpace(show), "\n")
	assert.Equal(t, []string{"#", "C", "A", "B"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"1", "5", "2"}, strings.Fields(lines[1]))
}

func TestCompact(t *testing.T) {
	env := newTestEnv(t)
	env.importBudget()
	env.mustRun("set", "budget", "A1", "9")
	env.mustRun("set", "budget", "A2", "8")

	out := env.mustRun("compact", "--due", "budget")
	assert.Equal(t, "budget: not due\n", out)

	out = env.mustRun("compact", "--all")
	assert.Equal(t, "budget: removed 2 patches, wrote 1 chunks\n", out)

	_, err := env.run("", "compact")
	assert.ErrorIs(t, err, errUsage)
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	env.importBudget()
	out := env.mustRun("delete", "budget")
	assert.Contains(t, out, "deleted budget")

	_, err := env.run("", "show", "budget")
	assert.ErrorIs(t, err, types.ErrSheetNotFound)
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("show: %w", types.ErrSheetNotFound), exitUserError},
		{fmt.Errorf("set: %w", types.ErrInvalidColumn), exitUserError},
		{types.ErrUnsupportedFile, exitUserError},
		{errUsage, exitUserError},
		{types.ErrVersionConflict, exitSysError},
		{os.ErrPermission, exitSysError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestImportUnsupported(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	_, err := env.run("", "import", path)
	assert.ErrorIs(t, err, types.ErrUnsupportedFile)
}
