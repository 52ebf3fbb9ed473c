// Package storage persists uploaded attachment bytes on local disk.
//
// Files live under a per-message namespace so a whole message's attachments
// can be removed in one call. Paths handed out are relative to the store
// root; they are the addresses persisted alongside attachment rows.
package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type Disk struct {
	root string
	log  *slog.Logger
}

func NewDisk(root string, log *slog.Logger) (*Disk, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &Disk{root: root, log: log}, nil
}

// MessageDir returns the namespace for a message's attachments.
func MessageDir(messageID int64) string {
	return filepath.Join("msg_attachments", fmt.Sprintf("%d", messageID))
}

// Save writes the reader's bytes under dir with a generated file name,
// keeping the original extension. It returns the relative path and the
// number of bytes written.
func (d *Disk) Save(dir, originalName string, r io.Reader) (string, int64, error) {
	if err := os.MkdirAll(filepath.Join(d.root, dir), 0o755); err != nil {
		return "", 0, fmt.Errorf("storage: create namespace: %w", err)
	}

	name := uuid.NewString()
	if ext := filepath.Ext(originalName); ext != "" {
		name += strings.ToLower(ext)
	}
	rel := filepath.Join(dir, name)

	f, err := os.Create(filepath.Join(d.root, rel))
	if err != nil {
		return "", 0, fmt.Errorf("storage: create file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// A half-written file is useless; best effort removal.
		if rerr := os.Remove(filepath.Join(d.root, rel)); rerr != nil {
			d.log.Warn("failed to remove partial file", "path", rel, "error", rerr)
		}
		return "", 0, fmt.Errorf("storage: write file: %w", err)
	}
	return rel, n, nil
}

// Open returns the stored bytes at a path previously returned by Save.
func (d *Disk) Open(path string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(d.root, path))
}

func (d *Disk) Delete(path string) error {
	return os.Remove(filepath.Join(d.root, path))
}

// DeleteDir removes an entire namespace and everything in it.
func (d *Disk) DeleteDir(dir string) error {
	return os.RemoveAll(filepath.Join(d.root, dir))
}
