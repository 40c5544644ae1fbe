package inference

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	var inFlight, maxSeen atomic.Int64
	done := make(chan struct{})

	run := func() {
		err := p.Run(context.Background(), func() error {
			n := inFlight.Add(1)
			for {
				cur := maxSeen.Load()
				if n <= cur || maxSeen.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		})
		if err != nil {
			t.Errorf("run: %v", err)
		}
		done <- struct{}{}
	}

	for i := 0; i < 5; i++ {
		go run()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	if maxSeen.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent runs, saw %d", maxSeen.Load())
	}
}

func TestVideoPoolIsSingleWorker(t *testing.T) {
	if NewVideoPool().Workers != 1 {
		t.Fatalf("expected exactly one video worker")
	}
}

func TestAudioPoolIsBounded(t *testing.T) {
	w := NewAudioPool().Workers
	if w < 1 || w > 4 {
		t.Fatalf("expected audio pool between 1 and 4 workers, got %d", w)
	}
}
