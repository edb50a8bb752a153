package workspace

import (
	"os"
	"path/filepath"
	"time"
)

// Sweep removes working areas older than maxAge whose id keep does not claim.
// It returns the removed job ids. Used by the janitor to collect areas left behind
// by a crash (jobs never survive a restart).
func (l Layout) Sweep(fsys FS, maxAge time.Duration, keep func(id string) bool) ([]string, error) {
	entries, err := os.ReadDir(l.ConversionsRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	cutoff := time.Now().Add(-maxAge)
	var removed []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		if keep != nil && keep(id) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := fsys.Remove(filepath.Join(l.ConversionsRoot(), id)); err != nil {
			return removed, err
		}
		removed = append(removed, id)
	}
	return removed, nil
}
