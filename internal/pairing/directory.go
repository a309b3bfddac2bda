// Package pairing provides the static participant-to-partner mapping.
package pairing

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Directory is a bidirectional participant-to-partner name map loaded
// from a two-column CSV file. Reload is all-or-nothing: a file that
// fails validation leaves the previously loaded mapping in effect.
type Directory struct {
	mu    sync.RWMutex
	pairs map[string]string
}

// Load reads and validates the pairing CSV at path.
func Load(path string) (*Directory, error) {
	pairs, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	return &Directory{pairs: pairs}, nil
}

// Lookup returns the partner name for an identity, if any.
func (d *Directory) Lookup(name string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	partner, ok := d.pairs[name]
	return partner, ok
}

// Len returns the number of mapped identities (two per pair).
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pairs)
}

// Reload replaces the mapping from path. On any validation error the
// current mapping is kept and the error is returned.
func (d *Directory) Reload(path string) error {
	pairs, err := parseFile(path)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.pairs = pairs
	d.mu.Unlock()
	slog.Info("pairing directory reloaded", "path", path, "identities", len(pairs))
	return nil
}

func parseFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pairing file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Warn("failed to close pairing file", "error", closeErr)
		}
	}()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 2

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse pairing file %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("pairing file %s is empty", path)
	}

	pairs := make(map[string]string, len(records)*2)
	for i, row := range records {
		a, b := row[0], row[1]
		if a == "" || b == "" {
			return nil, fmt.Errorf("pairing file row %d: empty identity", i+1)
		}
		if a == b {
			return nil, fmt.Errorf("pairing file row %d: %q paired with itself", i+1, a)
		}
		if _, dup := pairs[a]; dup {
			return nil, fmt.Errorf("pairing file row %d: duplicate identity %q", i+1, a)
		}
		if _, dup := pairs[b]; dup {
			return nil, fmt.Errorf("pairing file row %d: duplicate identity %q", i+1, b)
		}
		pairs[a] = b
		pairs[b] = a
	}
	return pairs, nil
}
