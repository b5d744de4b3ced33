package storage

// KeyValue represents a key-value pair for batch operations.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// KV is the byte-level persistence boundary. Get returns nil for a missing
// key. IteratePrefix visits keys in lexicographic order.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	SetBatch(pairs []KeyValue) error
	IteratePrefix(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
// Returns nil if prefix is all 0xFF.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}

	return nil
}
