package main

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthpanel/internal/shared/testutil"
)

type cliFixture struct {
	dir    string
	config string
}

func newCLIFixture(t *testing.T) cliFixture {
	t.Helper()
	dir := t.TempDir()
	cfgPath := testutil.WriteFile(t, dir, "synthpanel.yaml", fmt.Sprintf(`
paths:
  base_dir: %s
synthesis:
  records_per_group: 40
`, dir))
	return cliFixture{dir: dir, config: cfgPath}
}

func (f cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	cmd := newRootCmd(logger)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", f.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (f cliFixture) importTargets(t *testing.T) {
	t.Helper()
	src := testutil.WriteCSV(t, f.dir, "reference.csv",
		[]string{"state_fips", "year", "population", "median_income", "pct_urban"},
		[][]string{
			{"1", "2000", "4447100", "35424", "0.553"},
			{"2", "2000", "626932", "51571", "0.657"},
			{"1", "2002", "4486508", "36771", "0.554"},
			{"2", "2002", "643786", "52774", "0.66"},
		})

	out, err := f.run(t, "targets", "import", src)
	require.NoError(t, err, out)
	assert.Contains(t, out, "imported 4 targets into the csv store")
}

func TestResolveCommand(t *testing.T) {
	f := newCLIFixture(t)
	f.importTargets(t)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"exact", []string{"resolve", "1", "2000"}, []string{"rule:       exact", "$35,424", "0.5530"}},
		{"extrapolated", []string{"resolve", "2", "1999"}, []string{"rule:       extrapolated"}},
		{"default", []string{"resolve", "1", "2001"}, []string{"rule:       default", "low confidence"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.run(t, tt.args...)
			require.NoError(t, err, out)
			for _, want := range tt.want {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestResolveCommandArgs(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(t, "resolve", "1")
	assert.Error(t, err)

	_, err = f.run(t, "resolve", "x", "2000")
	assert.ErrorContains(t, err, "invalid region")

	_, err = f.run(t, "resolve", "1", "2000")
	assert.Error(t, err, "no targets imported")
}

func TestGenerateAndVerifyCommands(t *testing.T) {
	f := newCLIFixture(t)
	f.importTargets(t)

	out, err := f.run(t, "generate", "--regions", "1-2", "--periods", "2000-2002", "--seed", "7", "--workers", "2")
	require.NoError(t, err, out)
	assert.Contains(t, out, "seed 7")
	assert.Contains(t, out, "groups: 6  records: 240")
	assert.Contains(t, out, "exact: true")
	assert.Contains(t, out, "persisted periods: 3 (2000-2002)")
	assert.FileExists(t, filepath.Join(f.dir, "data", "survey_2001.csv"))

	for _, args := range [][]string{{"verify", "--periods", "2000-2002"}, {"verify"}} {
		out, err = f.run(t, args...)
		require.NoError(t, err, out)
		assert.Contains(t, out, "exact: true")
		assert.Contains(t, out, "missing: 0")
	}

	out, err = f.run(t, "verify", "--regions", "1-3", "--periods", "2000")
	assert.ErrorIs(t, err, errVerificationFailed)
	assert.Contains(t, out, "region=3/period=2000: missing")
}

func TestGenerateDryRun(t *testing.T) {
	f := newCLIFixture(t)
	f.importTargets(t)

	out, err := f.run(t, "generate", "--regions", "1", "--periods", "2000", "--dry-run", "--n", "25")
	require.NoError(t, err, out)
	assert.Contains(t, out, "records: 25")
	assert.NotContains(t, out, "persisted periods")
	assert.NoFileExists(t, filepath.Join(f.dir, "data", "survey_2000.csv"))
}

func TestGenerateBadFlags(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(t, "generate", "--regions", "9-1")
	assert.ErrorContains(t, err, "--regions")

	_, err = f.run(t, "generate", "--periods", "abc")
	assert.ErrorContains(t, err, "--periods")
}

func TestTargetsImportRejectsUnknownExtension(t *testing.T) {
	f := newCLIFixture(t)
	path := testutil.WriteFile(t, f.dir, "targets.json", "{}")

	_, err := f.run(t, "targets", "import", path)
	assert.ErrorContains(t, err, "unsupported target file")
}

func TestBadConfig(t *testing.T) {
	f := newCLIFixture(t)
	f.config = testutil.WriteFile(t, f.dir, "bad.yaml", "store:\n  driver: parquet\n")

	_, err := f.run(t, "resolve", "1", "2000")
	assert.Error(t, err)
}
