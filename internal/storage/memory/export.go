package memory

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/uttop/campusmap/internal/storage"
)

const snapshotName = "campusmap"

// Snapshot is the on-disk JSON document.
type Snapshot struct {
	Infos []storage.InfoPoint `json:"infos"`
	POIs  []storage.POI       `json:"pois"`
}

// SnapshotPath returns the file the backend writes to.
func (b *Backend) SnapshotPath() string {
	name := snapshotName + ".json"
	if b.cfg.CompressOutput {
		name += ".gz"
	}
	return filepath.Join(b.cfg.OutputDir, name)
}

func (b *Backend) buildSnapshot() Snapshot {
	snap := Snapshot{
		Infos: make([]storage.InfoPoint, 0, len(b.infos)),
		POIs:  make([]storage.POI, len(b.pois)),
	}
	for _, p := range b.infos {
		snap.Infos = append(snap.Infos, p)
	}
	sort.Slice(snap.Infos, func(i, j int) bool { return snap.Infos[i].ID < snap.Infos[j].ID })
	copy(snap.POIs, b.pois)
	return snap
}

// persist writes the snapshot atomically. Callers hold the lock.
func (b *Backend) persist() error {
	if b.cfg.OutputDir == "" {
		return nil
	}

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	path := b.SnapshotPath()
	tmp := path + ".tmp"
	if err := b.writeFile(tmp, b.buildSnapshot()); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

func (b *Backend) writeFile(path string, data Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if !b.cfg.CompressOutput {
		return encodeSnapshot(f, data)
	}

	gzWriter := gzip.NewWriter(f)
	if err := encodeSnapshot(gzWriter, data); err != nil {
		return err
	}
	return gzWriter.Close()
}

func encodeSnapshot(w io.Writer, data Snapshot) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (b *Backend) readSnapshot() (Snapshot, error) {
	var snap Snapshot

	f, err := os.Open(b.SnapshotPath())
	if errors.Is(err, fs.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if b.cfg.CompressOutput {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return snap, fmt.Errorf("failed to open gzip snapshot: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return snap, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}
