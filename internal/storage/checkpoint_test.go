package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"nasenv/pkg/env"
)

func newTestCheckpointer(t *testing.T) *Checkpointer {
	t.Helper()
	c, err := NewCheckpointer(filepath.Join(t.TempDir(), "checkpoint.db"))
	if err != nil {
		t.Fatalf("NewCheckpointer failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// TestCheckpointerModelStates verifies snapshot storage and retrieval
func TestCheckpointerModelStates(t *testing.T) {
	c := newTestCheckpointer(t)

	assert.False(t, c.HasModelState("clusters-5way-3shot"), "Fresh database should hold no snapshot")

	state := env.ModelState(`{"nodes":3}`)
	err := c.SaveModelState("clusters-5way-3shot", state)
	assert.NoError(t, err, "SaveModelState should succeed")

	assert.True(t, c.HasModelState("clusters-5way-3shot"), "Snapshot should exist after save")
	got, err := c.ModelState("clusters-5way-3shot")
	assert.NoError(t, err, "ModelState should succeed")
	assert.Equal(t, state, got, "Snapshot should round-trip unchanged")

	_, err = c.ModelState("unknown-task")
	assert.Error(t, err, "Missing snapshots should report an error")
}

// TestCheckpointerEpisodeBests verifies per-task episode result storage
func TestCheckpointerEpisodeBests(t *testing.T) {
	c := newTestCheckpointer(t)

	alphas := env.Alphas{{{0.1, 0.9}}}
	for _, best := range []EpisodeBest{
		{Task: "a", Episode: 2, Accuracy: 0.7, Alphas: alphas, RecordedAt: time.Unix(20, 0).UTC()},
		{Task: "a", Episode: 1, Accuracy: 0.5, Alphas: alphas, RecordedAt: time.Unix(10, 0).UTC()},
		{Task: "b", Episode: 1, Accuracy: 0.9, Alphas: alphas, RecordedAt: time.Unix(30, 0).UTC()},
	} {
		assert.NoError(t, c.SaveEpisodeBest(best), "SaveEpisodeBest should succeed")
	}

	bests, err := c.EpisodeBests("a")
	assert.NoError(t, err, "EpisodeBests should succeed")
	assert.Len(t, bests, 2, "Task a should have two results")
	assert.Equal(t, 1, bests[0].Episode, "Results should come back in episode order")
	assert.Equal(t, 2, bests[1].Episode, "Results should come back in episode order")
	assert.Equal(t, alphas, bests[0].Alphas, "Alpha rows should round-trip")

	bests, err = c.EpisodeBests("b")
	assert.NoError(t, err, "EpisodeBests should succeed")
	assert.Len(t, bests, 1, "Task b results should stay separate")
	assert.Equal(t, 0.9, bests[0].Accuracy, "Accuracy should round-trip")

	bests, err = c.EpisodeBests("c")
	assert.NoError(t, err, "EpisodeBests of an unknown task should not error")
	assert.Empty(t, bests, "Unknown tasks should have no results")
}

// TestCheckpointerBaselines verifies baseline storage
func TestCheckpointerBaselines(t *testing.T) {
	c := newTestCheckpointer(t)

	assert.NoError(t, c.SaveBaseline("a", 0.62), "SaveBaseline should succeed")
	got, err := c.Baseline("a")
	assert.NoError(t, err, "Baseline should succeed")
	assert.Equal(t, 0.62, got, "Baseline should round-trip")

	_, err = c.Baseline("missing")
	assert.Error(t, err, "Missing baselines should report an error")

	assert.NoError(t, c.SaveBaseline("a", 0.71), "Baselines should be overwritable")
	got, err = c.Baseline("a")
	assert.NoError(t, err, "Baseline should succeed")
	assert.Equal(t, 0.71, got, "The newest baseline should win")
}
