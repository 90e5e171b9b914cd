// Package storagetest provides store constructors for tests.
package storagetest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/voxgate/voxgate/model"
	"github.com/voxgate/voxgate/storage"
)

// Open creates a store in a temporary directory with a one hour expiry.
func Open(t *testing.T, clock model.Clock) *storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "voxgate.sqlite3"), time.Hour, clock)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
