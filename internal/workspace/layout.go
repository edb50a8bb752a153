package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

const (
	conversionsDir = "Conversions"
	requestDir     = "Request"
	outputDir      = "Output"
	lockFile       = ".convertio.lock"
)

// ErrLocked means another process already owns the private root.
var ErrLocked = errors.New("private root is locked by another convertio process")

// Layout resolves the directories a deployment uses.
type Layout struct {
	PrivateRoot   string
	DocumentsRoot string
}

// NewLayout returns a Layout with both roots made absolute.
func NewLayout(privateRoot, documentsRoot string) (Layout, error) {
	if strings.TrimSpace(privateRoot) == "" {
		return Layout{}, errors.New("private root is required")
	}
	if strings.TrimSpace(documentsRoot) == "" {
		return Layout{}, errors.New("documents root is required")
	}
	p, err := filepath.Abs(expandHome(privateRoot))
	if err != nil {
		return Layout{}, err
	}
	d, err := filepath.Abs(expandHome(documentsRoot))
	if err != nil {
		return Layout{}, err
	}
	return Layout{PrivateRoot: p, DocumentsRoot: d}, nil
}

// ConversionsRoot is the parent of every job working area.
func (l Layout) ConversionsRoot() string { return filepath.Join(l.PrivateRoot, conversionsDir) }

// JobDir is the private working area of one job.
func (l Layout) JobDir(id string) string { return filepath.Join(l.ConversionsRoot(), id) }

// RequestPath is where the job's copy of its source lives.
func (l Layout) RequestPath(id, fileName string) string {
	return filepath.Join(l.JobDir(id), requestDir, fileName)
}

// OutputDir is the staging directory for a job's converted file.
func (l Layout) OutputDir(id string) string { return filepath.Join(l.JobDir(id), outputDir) }

// ExportPath names the final destination: <dir>/<source name without ext>.<format>.
func ExportPath(destDir, sourcePath, format string) string {
	base := filepath.Base(sourcePath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	format = strings.TrimPrefix(strings.TrimSpace(format), ".")
	if format == "" {
		return filepath.Join(destDir, name)
	}
	return filepath.Join(destDir, name+"."+format)
}

// Ensure creates both roots.
func (l Layout) Ensure(fsys FS) error {
	for _, dir := range []string{l.ConversionsRoot(), l.DocumentsRoot} {
		if err := fsys.MkdirAll(dir); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Lock takes an exclusive advisory lock on the private root so two daemons never
// share working areas. The returned func releases it.
func (l Layout) Lock() (func() error, error) {
	if err := os.MkdirAll(l.PrivateRoot, 0o755); err != nil {
		return nil, err
	}
	fl := flock.New(filepath.Join(l.PrivateRoot, lockFile))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock private root: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return fl.Unlock, nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
