package conversation

import (
	"sync"

	"github.com/BTreeMap/DonorPipe/internal/models"
)

// keyedMutex serializes work per user. Entries live only while held or awaited.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[models.UserID]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[models.UserID]*keyLock)}
}

// Lock blocks until the lock for key is held and returns its release function.
func (k *keyedMutex) Lock(key models.UserID) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
