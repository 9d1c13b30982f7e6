package locks

import (
	"context"
	"sort"
	"sync"
)

// Locker serializes work on a named key. The returned function releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// KeyedMutex is an in-process Locker. Entries are dropped once no holder or waiter remains.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	slot    chan struct{}
	holders int
}

// NewKeyedMutex constructs an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free or ctx is done.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		entry = &keyedEntry{slot: make(chan struct{}, 1)}
		m.entries[key] = entry
	}
	entry.holders++
	m.mu.Unlock()

	select {
	case entry.slot <- struct{}{}:
	case <-ctx.Done():
		m.release(key, entry, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.release(key, entry, true) })
	}, nil
}

func (m *KeyedMutex) release(key string, entry *keyedEntry, held bool) {
	if held {
		<-entry.slot
	}
	m.mu.Lock()
	entry.holders--
	if entry.holders == 0 {
		delete(m.entries, key)
	}
	m.mu.Unlock()
}

// LockAll acquires every key in a stable order and returns one release function.
func LockAll(ctx context.Context, locker Locker, keys ...string) (func(), error) {
	ordered := append([]string(nil), keys...)
	sort.Strings(ordered)

	releases := make([]func(), 0, len(ordered))
	releaseAll := func() {
		for index := len(releases) - 1; index >= 0; index-- {
			releases[index]()
		}
	}
	previous := ""
	for index, key := range ordered {
		if index > 0 && key == previous {
			continue
		}
		previous = key
		release, err := locker.Lock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
