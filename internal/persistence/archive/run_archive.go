package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"anvil.sim/internal/persistence/snapshot"
)

type RunArchiveMeta struct {
	RunID     string `json:"run_id"`
	EndTick   uint64 `json:"end_tick"`
	FinalHash string `json:"final_hash"`
	Seed      string `json:"seed"`
	SimHz     uint32 `json:"sim_hz"`
	Trace     string `json:"trace,omitempty"`
	Snapshot  string `json:"snapshot"`
	CreatedAt string `json:"created_at"`
}

// ArchiveRun collects a finished run into `dir/<run_id>/`: a copy of its trace
// (when there is one), the final snapshot and meta.json. It returns the
// archive directory.
func ArchiveRun(dir, tracePath string, snap snapshot.SnapshotV1) (string, error) {
	runID := strings.TrimSpace(snap.Header.RunID)
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("bad run id %q", snap.Header.RunID)
	}
	archiveDir := filepath.Join(dir, runID)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", err
	}

	meta := RunArchiveMeta{
		RunID:     runID,
		EndTick:   snap.Header.Tick,
		FinalHash: fmt.Sprintf("%016x", snap.Header.Hash),
		Seed:      fmt.Sprintf("%#x", snap.Seed),
		SimHz:     snap.SimHz,
		Snapshot:  fmt.Sprintf("%d.snap.zst", snap.Header.Tick),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if tracePath != "" {
		meta.Trace = filepath.Base(tracePath)
		if err := copyFile(tracePath, filepath.Join(archiveDir, meta.Trace)); err != nil {
			return "", err
		}
	}
	if err := snapshot.WriteSnapshot(filepath.Join(archiveDir, meta.Snapshot), snap); err != nil {
		return "", err
	}

	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644); err != nil {
		return "", err
	}
	return archiveDir, nil
}

// ReadMeta loads the meta.json of an archived run.
func ReadMeta(archiveDir string) (RunArchiveMeta, error) {
	var m RunArchiveMeta
	b, err := os.ReadFile(filepath.Join(archiveDir, "meta.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
