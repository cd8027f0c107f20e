package rules

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteDocument writes a rule document's YAML bytes through a
// `.{id}.tmp` sibling file and an atomic rename, so a reader can never
// observe a partial write, then reparses the written file and upserts it
// into the loader's maps.
func (l *Loader) WriteDocument(id string, data []byte) error {
	l.mu.RLock()
	existing, ok := l.paths[id]
	l.mu.RUnlock()

	path := existing
	if !ok {
		path = filepath.Join(l.dir, id+".yaml")
	}

	tmp := filepath.Join(filepath.Dir(path), "."+id+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s to %s: %w", tmp, path, err)
	}

	if err := l.upsertPath(path); err != nil {
		return fmt.Errorf("reparse written document: %w", err)
	}
	return nil
}
