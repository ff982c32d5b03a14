package commands

import "sync"

// partyLocks serializes work per key. Entries are dropped once no caller
// holds or waits for them.
type partyLocks struct {
	mu    sync.Mutex
	locks map[string]*partyLock
}

type partyLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until key is free and returns its unlock func.
func (p *partyLocks) lock(key string) func() {
	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[string]*partyLock)
	}
	l, ok := p.locks[key]
	if !ok {
		l = &partyLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}
