package main

import (
	"math/rand"
	"sync"
	"testing"
)

func TestModifierState_PressRelease(t *testing.T) {
	m := newModifierState()

	if m.IsActive("alt") {
		t.Fatal("expected inactive before any press")
	}

	m.Press("alt")
	if !m.IsActive("alt") {
		t.Fatal("expected active after press")
	}

	m.Release("alt")
	if m.IsActive("alt") {
		t.Fatal("expected inactive after matching release")
	}
}

func TestModifierState_SpuriousReleaseIsNoOp(t *testing.T) {
	m := newModifierState()

	m.Release("alt")
	m.Release("alt")
	if m.IsActive("alt") {
		t.Fatal("spurious release must not activate")
	}
	if got := m.Held()["alt"]; got != 0 {
		t.Fatalf("expected count 0, got %d", got)
	}

	// A later press still activates normally.
	m.Press("alt")
	if got := m.Held()["alt"]; got != 1 {
		t.Fatalf("expected count 1 after press, got %d", got)
	}
}

func TestModifierState_TwoDevicesHoldingSameClass(t *testing.T) {
	m := newModifierState()

	m.Press("alt") // device A
	m.Press("alt") // device B
	m.Release("alt")
	if !m.IsActive("alt") {
		t.Fatal("expected still active: one device still holds alt")
	}
	m.Release("alt")
	if m.IsActive("alt") {
		t.Fatal("expected inactive after both releases")
	}
}

func TestModifierState_ClassesAreIndependent(t *testing.T) {
	m := newModifierState()

	m.Press("alt")
	if m.IsActive("ctrl") {
		t.Fatal("ctrl must not be active when only alt was pressed")
	}
	m.Release("ctrl")
	if !m.IsActive("alt") {
		t.Fatal("releasing ctrl must not affect alt")
	}
}

// TestModifierState_MatchesFlooredCount checks IsActive against a reference
// floored counter for random press/release sequences.
func TestModifierState_MatchesFlooredCount(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		m := newModifierState()
		ref := 0
		for i := 0; i < 200; i++ {
			if rng.Intn(2) == 0 {
				m.Press("alt")
				ref++
			} else {
				m.Release("alt")
				if ref > 0 {
					ref--
				}
			}
			if got, want := m.IsActive("alt"), ref > 0; got != want {
				t.Fatalf("run %d step %d: IsActive=%v, want %v (ref=%d)", run, i, got, want, ref)
			}
		}
	}
}

func TestModifierState_ConcurrentBalancedUpdates(t *testing.T) {
	m := newModifierState()

	const devices = 8
	const cycles = 1000

	var wg sync.WaitGroup
	for d := 0; d < devices; d++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < cycles; i++ {
				m.Press("alt")
				m.Release("alt")
			}
		}()
	}
	wg.Wait()

	if m.IsActive("alt") {
		t.Fatalf("expected inactive after balanced updates, count=%d", m.Held()["alt"])
	}

	// Presses without releases from every device are all counted.
	for d := 0; d < devices; d++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Press("alt")
		}()
	}
	wg.Wait()
	if got := m.Held()["alt"]; got != devices {
		t.Fatalf("expected count %d, got %d", devices, got)
	}
}

func TestModifierState_HeldIsACopy(t *testing.T) {
	m := newModifierState()
	m.Press("alt")
	m.Press("ctrl")
	m.Release("ctrl")

	held := m.Held()
	if len(held) != 1 || held["alt"] != 1 {
		t.Fatalf("Held = %v, want only alt=1", held)
	}
	held["alt"] = 5
	if got := m.Held()["alt"]; got != 1 {
		t.Fatalf("mutating the snapshot changed state: alt=%d", got)
	}
}
