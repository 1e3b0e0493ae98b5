package storage

import "sync"

// KV is the process-wide key/value map. One *KV is shared by every
// connection; all access goes through a single exclusive lock.
//
// Stored values are shared with callers and must not be modified after Set.
type KV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewKeyVal() *KV {
	return &KV{
		data: make(map[string][]byte),
	}
}

// Set overwrites the value stored under key.
func (kv *KV) Set(key string, value []byte) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.data[key] = value
}

// Get returns the current value for key, or false if it was never set.
func (kv *KV) Get(key string) ([]byte, bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	val, ok := kv.data[key]
	return val, ok
}

func (kv *KV) Len() int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return len(kv.data)
}
