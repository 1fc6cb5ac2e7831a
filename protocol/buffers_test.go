package protocol

import (
	"bytes"
	"testing"
)

func TestSliceInputBufferPop(t *testing.T) {
	buf := NewSliceInputBuffer([]byte{1, 2, 3, 4, 5})

	buf.Pop(2)
	if !bytes.Equal(buf.Data(), []byte{3, 4, 5}) {
		t.Errorf("after Pop(2) expected [3 4 5], got %v", buf.Data())
	}

	buf.Pop(10)
	if buf.Available() != 0 {
		t.Errorf("over-popping should empty the buffer, %d left", buf.Available())
	}
}

func TestScratchOutputPatchAndSlice(t *testing.T) {
	scratch := NewScratchOutput()
	scratch.Output([]byte{0, 0x10})
	start := scratch.CurPosition()
	scratch.Output([]byte{7, 8, 9})

	scratch.Update(0, 42)
	scratch.Update(100, 1) // beyond written data, ignored

	if !bytes.Equal(scratch.Result(), []byte{42, 0x10, 7, 8, 9}) {
		t.Errorf("unexpected contents %v", scratch.Result())
	}
	if !bytes.Equal(scratch.DataSince(start), []byte{7, 8, 9}) {
		t.Errorf("DataSince(%d) = %v", start, scratch.DataSince(start))
	}
	if scratch.DataSince(6) != nil {
		t.Error("DataSince past the end should be nil")
	}

	scratch.Reset()
	if scratch.CurPosition() != 0 || len(scratch.Result()) != 0 {
		t.Error("Reset did not clear the buffer")
	}
}

func TestScratchOutputTruncates(t *testing.T) {
	scratch := NewScratchOutput()
	scratch.Output(make([]byte, ScratchSize+10))
	if scratch.CurPosition() != ScratchSize {
		t.Errorf("expected position %d, got %d", ScratchSize, scratch.CurPosition())
	}
}

func TestFifoBufferUsesFullCapacity(t *testing.T) {
	fifo := NewFifoBuffer(8)
	if !fifo.IsEmpty() || fifo.Free() != 8 {
		t.Fatalf("new FIFO: empty=%v free=%d", fifo.IsEmpty(), fifo.Free())
	}

	if n := fifo.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}); n != 8 {
		t.Errorf("expected 8 bytes stored, got %d", n)
	}
	if fifo.Free() != 0 {
		t.Errorf("expected full FIFO, %d free", fifo.Free())
	}
}

func TestFifoBufferWrappedData(t *testing.T) {
	fifo := NewFifoBuffer(6)
	fifo.Write([]byte{1, 2, 3, 4, 5})

	out := make([]byte, 3)
	if n := fifo.Read(out); n != 3 || !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Fatalf("Read returned %d %v", n, out)
	}

	// Wraps past the end of the ring
	if n := fifo.Write([]byte{6, 7, 8}); n != 3 {
		t.Fatalf("expected 3 bytes stored, got %d", n)
	}
	if !bytes.Equal(fifo.Data(), []byte{4, 5, 6, 7, 8}) {
		t.Errorf("wrapped Data() = %v", fifo.Data())
	}

	fifo.Pop(3)
	if !bytes.Equal(fifo.Data(), []byte{7, 8}) {
		t.Errorf("after Pop(3) Data() = %v", fifo.Data())
	}

	rest := make([]byte, 4)
	if n := fifo.Read(rest); n != 2 || !bytes.Equal(rest[:n], []byte{7, 8}) {
		t.Errorf("Read returned %d %v", n, rest[:n])
	}
	if !fifo.IsEmpty() {
		t.Error("FIFO should be empty")
	}
}
