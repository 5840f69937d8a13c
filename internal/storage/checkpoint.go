// Package storage persists what the search produces: model snapshots
// and episode results in a bbolt checkpoint database, and sampled
// architectures as a parquet dataset with an Arrow IPC export.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"nasenv/pkg/env"
)

var (
	bucketModelStates = []byte("ModelStates")
	bucketEpisodes    = []byte("EpisodeBests")
	bucketBaselines   = []byte("Baselines")
)

// EpisodeBest records the best architecture an episode reached.
type EpisodeBest struct {
	Task       string     `json:"task"`
	Episode    int        `json:"episode"`
	Accuracy   float64    `json:"accuracy"`
	Alphas     env.Alphas `json:"alphas"`
	Genotype   string     `json:"genotype,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// Checkpointer stores search progress in a bbolt database.
type Checkpointer struct {
	db *bbolt.DB
}

// NewCheckpointer opens (or creates) the checkpoint database.
func NewCheckpointer(dbPath string) (*Checkpointer, error) {
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketModelStates, bucketEpisodes, bucketBaselines} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &Checkpointer{db: db}, nil
}

// Close closes the underlying database.
func (c *Checkpointer) Close() error {
	return c.db.Close()
}

// SaveModelState stores a model snapshot under the task name.
func (c *Checkpointer) SaveModelState(task string, state env.ModelState) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketModelStates)
		return b.Put([]byte(task), state)
	})
}

// ModelState retrieves the stored snapshot for a task.
func (c *Checkpointer) ModelState(task string) (env.ModelState, error) {
	var state env.ModelState
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketModelStates)
		data := b.Get([]byte(task))
		if data == nil {
			return fmt.Errorf("model state not found: %s", task)
		}
		state = make(env.ModelState, len(data))
		copy(state, data)
		return nil
	})
	return state, err
}

// HasModelState returns true if a snapshot exists for the task.
func (c *Checkpointer) HasModelState(task string) bool {
	var exists bool
	c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketModelStates)
		exists = b.Get([]byte(task)) != nil
		return nil
	})
	return exists
}

// SaveEpisodeBest adds the best result of one episode.
func (c *Checkpointer) SaveEpisodeBest(best EpisodeBest) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEpisodes)
		data, err := json.Marshal(best)
		if err != nil {
			return fmt.Errorf("failed to marshal episode best: %w", err)
		}
		key := fmt.Sprintf("%s/%08d", best.Task, best.Episode)
		return b.Put([]byte(key), data)
	})
}

// EpisodeBests returns the stored episode results for a task, in
// episode order.
func (c *Checkpointer) EpisodeBests(task string) ([]EpisodeBest, error) {
	var bests []EpisodeBest
	prefix := []byte(task + "/")
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEpisodes)
		cur := b.Cursor()
		for k, v := cur.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, v = cur.Next() {
			var best EpisodeBest
			if err := json.Unmarshal(v, &best); err != nil {
				return err
			}
			bests = append(bests, best)
		}
		return nil
	})
	return bests, err
}

// SaveBaseline stores the running reward baseline of a task.
func (c *Checkpointer) SaveBaseline(task string, baseline float64) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBaselines)
		data, err := json.Marshal(baseline)
		if err != nil {
			return err
		}
		return b.Put([]byte(task), data)
	})
}

// Baseline retrieves the stored baseline for a task.
func (c *Checkpointer) Baseline(task string) (float64, error) {
	var baseline float64
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBaselines)
		data := b.Get([]byte(task))
		if data == nil {
			return fmt.Errorf("baseline not found: %s", task)
		}
		return json.Unmarshal(data, &baseline)
	})
	return baseline, err
}
