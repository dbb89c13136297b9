package storage

import "fmt"

// DB is the generic key-value store interface.
type DB interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	NewIterator(prefix []byte) Iterator
	NewBatch() Batch
	Close() error
}

// Iterator walks key-value pairs matching a prefix in key order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// Batch buffers writes and applies them atomically on Write.
type Batch interface {
	Set(key, value []byte)
	Delete(key []byte)
	Reset()
	Write() error
}

// Storage backends selectable by config.
const (
	BackendLevelDB = "leveldb"
	BackendSQLite  = "sqlite"
	BackendMemory  = "memory"
)

// Open opens the named backend at path.
func Open(backend, path string) (DB, error) {
	switch backend {
	case "", BackendLevelDB:
		return NewLevelDB(path)
	case BackendSQLite:
		return NewSQLite(path)
	case BackendMemory:
		return NewMemLevelDB(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
