package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"smartmeter/internal/repository"
	"smartmeter/internal/repository/repotest"
)

func newTestStore(t *testing.T) repository.Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "smartmeter_test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})
	return store
}

func TestStoreContract(t *testing.T) {
	repotest.Run(t, newTestStore)
}
