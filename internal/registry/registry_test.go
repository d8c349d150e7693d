package registry

import (
	"sync"
	"testing"
	"time"
)

func TestAddAndDone(t *testing.T) {
	r := New()

	if !r.Add() {
		t.Fatal("Add should succeed when not draining")
	}
	if got := r.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount = %d, want 1", got)
	}

	r.Done()
	if got := r.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount after Done = %d, want 0", got)
	}
}

func TestDrainingRejectsNewConversations(t *testing.T) {
	r := New()

	r.StartDraining()
	if !r.IsDraining() {
		t.Fatal("IsDraining should be true after StartDraining")
	}
	if r.Add() {
		t.Fatal("Add should fail while draining")
	}
	if got := r.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount = %d, want 0", got)
	}
}

func TestWaitBlocksUntilAllDone(t *testing.T) {
	r := New()

	for i := 0; i < 3; i++ {
		if !r.Add() {
			t.Fatal("Add should succeed")
		}
	}
	r.StartDraining()

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned with conversations still active")
	case <-time.After(50 * time.Millisecond):
	}

	for i := 0; i < 3; i++ {
		r.Done()
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after all conversations finished")
	}
}

func TestConcurrentAddAndDrain(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Add() {
				r.Done()
			}
		}()
	}
	r.StartDraining()
	wg.Wait()
	r.Wait()

	if got := r.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount = %d, want 0", got)
	}
}
