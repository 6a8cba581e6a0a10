// Package system holds the daemon's host-facing plumbing: the on-disk
// metadata snapshots, the PID file and the privilege drop.
package system

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"grimm.is/cloudnet/internal/cloud"
	"grimm.is/cloudnet/internal/logging"
	"grimm.is/cloudnet/internal/metadata"
	"grimm.is/cloudnet/internal/network"
)

const (
	linksDir      = "links"
	systemFile    = "system.json"
	stateFileMode = 0o644
	stateDirMode  = 0o755
	noOwnerChange = -1
)

// StateWriter persists the normalized metadata of each pass as JSON:
// <dir>/<provider>/system.json and <dir>/links/<ifname>.json.
type StateWriter struct {
	dir    string
	uid    int
	gid    int
	logger *logging.Logger
}

// NewStateWriter returns a writer rooted at dir.
func NewStateWriter(dir string) *StateWriter {
	return &StateWriter{
		dir:    dir,
		uid:    noOwnerChange,
		gid:    noOwnerChange,
		logger: logging.WithComponent("state"),
	}
}

// Dir returns the state directory.
func (w *StateWriter) Dir() string {
	return w.dir
}

// SetOwner makes directories created afterwards owned by uid:gid.
func (w *StateWriter) SetOwner(uid, gid int) {
	w.uid, w.gid = uid, gid
}

// EnsureDirs creates the state directory tree for kind.
func (w *StateWriter) EnsureDirs(kind cloud.Kind) error {
	for _, dir := range []string{w.dir, filepath.Join(w.dir, string(kind)), filepath.Join(w.dir, linksDir)} {
		if err := os.MkdirAll(dir, stateDirMode); err != nil {
			return fmt.Errorf("failed to create state directory %s: %w", dir, err)
		}
		if w.uid != noOwnerChange {
			if err := os.Chown(dir, w.uid, w.gid); err != nil {
				return fmt.Errorf("failed to chown state directory %s: %w", dir, err)
			}
		}
	}
	return nil
}

// Save writes the provider system document and one document per link
// that the snapshot describes.
func (w *StateWriter) Save(snap *metadata.Snapshot, links network.Links) error {
	if snap == nil {
		return nil
	}
	if err := w.EnsureDirs(snap.Provider); err != nil {
		return err
	}

	var errs []error
	if snap.System != nil {
		path := filepath.Join(w.dir, string(snap.Provider), systemFile)
		errs = append(errs, writeJSON(path, snap.System))
	}
	for _, link := range links.Sorted() {
		iface, ok := snap.Lookup(link.MAC)
		if !ok || iface.Document == nil {
			continue
		}
		errs = append(errs, writeJSON(w.linkPath(link.Name), iface.Document))
	}
	return errors.Join(errs...)
}

func (w *StateWriter) linkPath(name string) string {
	return filepath.Join(w.dir, linksDir, name+".json")
}

// ReadSystem returns the saved system document for kind.
func (w *StateWriter) ReadSystem(kind cloud.Kind) (json.RawMessage, error) {
	return os.ReadFile(filepath.Join(w.dir, string(kind), systemFile))
}

// ReadLink returns the saved document for the named link.
func (w *StateWriter) ReadLink(name string) (json.RawMessage, error) {
	return os.ReadFile(w.linkPath(name))
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	data = append(data, '\n')
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return os.Chmod(path, stateFileMode)
}
