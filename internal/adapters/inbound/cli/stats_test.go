package cli_test

import (
	"testing"
	"time"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCmd_RebuildAndPrune(t *testing.T) {
	dir := pyProject(t, "")
	factory := stubRegistry(stub("lint-py", "python", domain.StatusPassed))

	_, err := execute(factory, "run", dir)
	require.NoError(t, err)

	out, err := execute(factory, "stats", "rebuild", "--path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "rebuilt")

	out, err = execute(factory, "stats", "prune", "--path", dir, "--older-than", "30d")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 0 run(s).")

	// every run is older than a future cutoff
	time.Sleep(10 * time.Millisecond)
	out, err = execute(factory, "stats", "prune", "--path", dir, "--older-than", "1ms")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 run(s).")
}

func TestStatsCmd_InvalidAge(t *testing.T) {
	dir := pyProject(t, "")

	_, err := execute(stubRegistry(), "stats", "prune", "--path", dir, "--older-than", "soon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--older-than")
}
