package storage

import "fmt"

// DefaultStoreKind names the backend used when no kind is configured.
func DefaultStoreKind() string {
	return "memory"
}

// NewStore builds the run store for the requested backend. The sqlite
// backend needs the sqlite build tag; without it the constructor
// reports that the backend is unavailable.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
