package loopback

import "sync"

// Handle is an opaque session reference: the slot generation in the high
// 32 bits and the slot index plus one in the low 32 bits. 0 is never valid.
type Handle int64

// InvalidHandle is returned when init fails.
const InvalidHandle Handle = 0

func makeHandle(gen uint32, slot int) Handle {
	return Handle(int64(gen)<<32 | int64(slot+1))
}

func (h Handle) split() (gen uint32, slot int, ok bool) {
	low := int64(h) & 0xffffffff
	if h <= 0 || low == 0 {
		return 0, 0, false
	}
	return uint32(int64(h) >> 32), int(low - 1), true
}

type arenaSlot struct {
	gen     uint32
	session *Session
}

// arena maps handles to live sessions. Freed slots are reused with a new
// generation, so stale handles never reach a newer session.
type arena struct {
	mu    sync.RWMutex
	slots []arenaSlot
	free  []int
}

func (a *arena) insert(s *Session) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var slot int
	if n := len(a.free); n > 0 {
		slot = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		slot = len(a.slots)
		a.slots = append(a.slots, arenaSlot{gen: 1})
	}
	a.slots[slot].session = s
	return makeHandle(a.slots[slot].gen, slot)
}

func (a *arena) get(h Handle) (*Session, bool) {
	gen, slot, ok := h.split()
	if !ok {
		return nil, false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if slot >= len(a.slots) || a.slots[slot].gen != gen || a.slots[slot].session == nil {
		return nil, false
	}
	return a.slots[slot].session, true
}

// remove detaches the session and retires the handle.
func (a *arena) remove(h Handle) (*Session, bool) {
	gen, slot, ok := h.split()
	if !ok {
		return nil, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if slot >= len(a.slots) || a.slots[slot].gen != gen || a.slots[slot].session == nil {
		return nil, false
	}
	s := a.slots[slot].session
	a.slots[slot].session = nil
	a.slots[slot].gen++
	if a.slots[slot].gen > 0x7fffffff {
		a.slots[slot].gen = 1
	}
	a.free = append(a.free, slot)
	return s, true
}

// handles returns the handles of all live sessions.
func (a *arena) handles() []Handle {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Handle, 0, len(a.slots)-len(a.free))
	for i, sl := range a.slots {
		if sl.session != nil {
			out = append(out, makeHandle(sl.gen, i))
		}
	}
	return out
}

func (a *arena) len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots) - len(a.free)
}
