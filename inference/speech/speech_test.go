package speech

import "testing"

func TestAccumulatorFillsExactChunkAndRetainsRemainder(t *testing.T) {
	a := NewAccumulator()
	half := make([]int16, a.samplesPerCh/2)
	if a.Append(half) {
		t.Fatalf("expected half a chunk to not be ready")
	}
	if a.Take() != nil {
		t.Fatalf("expected no chunk before threshold reached")
	}

	rest := make([]int16, a.samplesPerCh/2+10)
	for i := range rest {
		rest[i] = int16(i)
	}
	if !a.Append(rest) {
		t.Fatalf("expected chunk to be ready")
	}
	chunk := a.Take()
	if len(chunk) != a.samplesPerCh {
		t.Fatalf("expected chunk of %d samples, got %d", a.samplesPerCh, len(chunk))
	}
	if len(a.buf) != 10 {
		t.Fatalf("expected 10 leftover samples, got %d", len(a.buf))
	}
}

func TestAccumulatorTakeBeforeReadyReturnsNil(t *testing.T) {
	a := NewAccumulator()
	if a.Take() != nil {
		t.Fatalf("expected nil chunk from an empty accumulator")
	}
}
