package main

import "sync"

// ModifierClass names a group of keys that count as one modifier
// (e.g. "alt" covers both KEY_LEFTALT and KEY_RIGHTALT).
type ModifierClass string

// modifierState tracks, per modifier class, how many devices currently
// report the modifier held.
//
// Thread-safe: every reader goroutine presses, releases and queries it.
// A press and its release may legitimately arrive on different device nodes,
// which is why this is a shared counter and not a per-reader flag.
type modifierState struct {
	mu     sync.Mutex
	counts map[ModifierClass]int
}

func newModifierState() *modifierState {
	return &modifierState{
		counts: make(map[ModifierClass]int),
	}
}

// Press records one more holder of the modifier.
func (m *modifierState) Press(class ModifierClass) {
	m.mu.Lock()
	m.counts[class]++
	m.mu.Unlock()
}

// Release drops one holder of the modifier, floored at zero.
// A release without a matching press (e.g. after a device resync) is a no-op.
func (m *modifierState) Release(class ModifierClass) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.counts[class] <= 1 {
		delete(m.counts, class)
		return
	}
	m.counts[class]--
}

// IsActive reports whether any device currently holds the modifier.
func (m *modifierState) IsActive(class ModifierClass) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[class] > 0
}

// Held returns a copy of the non-zero holder counts.
func (m *modifierState) Held() map[ModifierClass]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	held := make(map[ModifierClass]int, len(m.counts))
	for class, n := range m.counts {
		held[class] = n
	}
	return held
}
