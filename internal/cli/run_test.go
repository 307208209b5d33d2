package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_StopsAfterDuration(t *testing.T) {
	journal := journalPath(t)
	_, err := execute(t, "call", "start_integration_tests", "--journal", journal)
	require.NoError(t, err)

	config := filepath.Join(t.TempDir(), "tablet.yaml")
	require.NoError(t, os.WriteFile(config, []byte("scheduler:\n  tick: 10ms\n  workers: 2\n"), 0o644))

	out, err := execute(t, "run", "--for", "50ms", "--config", config, "--journal", journal)
	require.NoError(t, err)
	assert.Contains(t, out, "Hosting integration")
}

func TestRun_BadConfig(t *testing.T) {
	config := filepath.Join(t.TempDir(), "tablet.yaml")
	require.NoError(t, os.WriteFile(config, []byte("scheduler:\n  workers: 0\n"), 0o644))

	_, err := execute(t, "run", "--for", "10ms", "--config", config, "--journal", journalPath(t))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scheduler.workers")
}

func TestRun_FiresDueRows(t *testing.T) {
	journal := journalPath(t)
	_, err := execute(t, "call", "start_integration_tests", "--journal", journal)
	require.NoError(t, err)

	// The interval row comes due one second after startup.
	config := filepath.Join(t.TempDir(), "tablet.yaml")
	require.NoError(t, os.WriteFile(config, []byte("scheduler:\n  tick: 20ms\n"), 0o644))
	_, err = execute(t, "run", "--for", "1500ms", "--config", config, "--journal", journal)
	require.NoError(t, err)

	out, err := execute(t, "query", "test_table_datatypes", "--journal", journal)
	require.NoError(t, err)
	assert.Contains(t, out, `"t_u64":1`, "the firing seeded a datatypes row")

	out, err = execute(t, "log", "--journal", journal)
	require.NoError(t, err)
	assert.Contains(t, out, "test_scheduled_reducer")
}
