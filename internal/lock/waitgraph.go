package lock

import "sync"

// waitGraph tracks which owner holds which key and which key each owner
// is blocked on, all within this process. Before an owner starts
// waiting, addWait walks holder -> waited-key -> holder chains; finding
// its way back to the requesting owner means the wait would close a
// cycle, so the acquisition fails fast instead of timing out.
//
// Cross-process cycles are not visible here; those fall back to the
// wait timeout.
type waitGraph struct {
	mu      sync.Mutex
	holders map[string]string // key -> owner
	waits   map[string]string // owner -> key it is blocked on
}

func newWaitGraph() *waitGraph {
	return &waitGraph{
		holders: make(map[string]string),
		waits:   make(map[string]string),
	}
}

// addWait registers owner as blocked on key. Returns false when doing
// so would create a cycle; the wait is not registered in that case.
func (g *waitGraph) addWait(owner, key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := key
	for {
		holder, ok := g.holders[k]
		if !ok || holder == "" {
			break
		}
		if holder == owner {
			return false
		}
		k, ok = g.waits[holder]
		if !ok {
			break
		}
	}

	g.waits[owner] = key
	return true
}

// removeWait clears owner's blocked-on edge
func (g *waitGraph) removeWait(owner string) {
	g.mu.Lock()
	delete(g.waits, owner)
	g.mu.Unlock()
}

// setHolder records owner as the holder of key
func (g *waitGraph) setHolder(key, owner string) {
	g.mu.Lock()
	g.holders[key] = owner
	g.mu.Unlock()
}

// clearHolder removes the holder edge if owner still holds key
func (g *waitGraph) clearHolder(key, owner string) {
	g.mu.Lock()
	if g.holders[key] == owner {
		delete(g.holders, key)
	}
	g.mu.Unlock()
}
