package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hl-funding-bot/internal/strategy"
)

const snapshotVersion = 1

// ClosedPosition records one completed hedge for the session history.
type ClosedPosition struct {
	strategy.Position
	ClosedAt    time.Time `json:"closedAt"`
	CloseReason string    `json:"closeReason"`
}

// Snapshot is the restart-surviving view of the lifecycle engine. Position
// is nil when idle.
type Snapshot struct {
	Version                int                 `json:"version"`
	Position               *strategy.Position  `json:"position"`
	LastCheckedAt          time.Time           `json:"lastCheckedAt"`
	LastOpportunityCheckAt time.Time           `json:"lastOpportunityCheckAt"`
	History                []ClosedPosition    `json:"history"`
}

// State reports the lifecycle state implied by the snapshot.
func (s Snapshot) State() strategy.State {
	if s.Position != nil {
		return strategy.StateHolding
	}
	return strategy.StateIdle
}

// SnapshotFile reads and writes the snapshot with an atomic replace so a
// crash mid-write can never leave a torn file behind.
type SnapshotFile struct {
	path string
}

func NewSnapshotFile(path string) *SnapshotFile {
	return &SnapshotFile{path: path}
}

// Load returns the persisted snapshot. A missing or unreadable file is not
// fatal: the bot starts idle with empty history and reconciles against the
// venue afterwards.
func (f *SnapshotFile) Load() (Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{Version: snapshotVersion}, nil
		}
		return Snapshot{Version: snapshotVersion}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{Version: snapshotVersion}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version == 0 {
		snap.Version = snapshotVersion
	}
	return snap, nil
}

func (f *SnapshotFile) Save(snap Snapshot) error {
	snap.Version = snapshotVersion
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
