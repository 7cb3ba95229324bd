package analyzer

import "testing"

func TestRingBufferWriteOrder(t *testing.T) {
	rb := NewRingBuffer(3)

	rb.Write("A")
	rb.Write("B")
	got := rb.Lines()
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("unexpected lines after 2 writes: %#v", got)
	}

	rb.Write("C")
	rb.Write("D")
	got = rb.Lines()
	if len(got) != 3 || got[0] != "B" || got[1] != "C" || got[2] != "D" {
		t.Fatalf("unexpected lines after overwrite: %#v", got)
	}
	if rb.Dropped() != 1 {
		t.Fatalf("expected 1 dropped line, got %d", rb.Dropped())
	}
}

func TestRingBufferClear(t *testing.T) {
	rb := NewRingBuffer(2)
	rb.Write("A")
	rb.Write("B")
	rb.Write("C")
	rb.Clear()

	if got := rb.Lines(); len(got) != 0 {
		t.Fatalf("expected no lines after clear, got %#v", got)
	}
	if rb.Dropped() != 0 {
		t.Fatalf("expected dropped reset, got %d", rb.Dropped())
	}

	rb.Write("D")
	if got := rb.Lines(); len(got) != 1 || got[0] != "D" {
		t.Fatalf("unexpected lines after clear/write: %#v", got)
	}
}

func TestRingBufferDefaultCapacity(t *testing.T) {
	if got := NewRingBuffer(0).Capacity(); got != DefaultHistoryLines {
		t.Fatalf("capacity = %d, want %d", got, DefaultHistoryLines)
	}
}
