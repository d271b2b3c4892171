package staging

import "sync"

// keyedMutex serializes operations per (project, path) key. Entries are
// created lazily and kept for the process lifetime; the key space is small
// (one entry per file ever staged).
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(projectID, rel string) func() {
	key := projectID + "\x00" + rel

	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
