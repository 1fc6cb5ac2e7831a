package protocol

// InputBuffer is a queue of received bytes waiting to be parsed
type InputBuffer interface {
	Data() []byte    // Bytes not yet consumed
	Available() int  // len(Data())
	Pop(n int)       // Drop n bytes from the front
}

// OutputBuffer receives encoded bytes. Positions let a writer patch the
// frame length after the payload is known.
type OutputBuffer interface {
	Output(data []byte)
	CurPosition() int
	Update(pos int, val byte)
	DataSince(pos int) []byte
}

// SliceInputBuffer serves an InputBuffer from a fixed slice
type SliceInputBuffer struct {
	data []byte
}

// NewSliceInputBuffer wraps data
func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte   { return s.data }
func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	s.data = s.data[min(n, len(s.data)):]
}

// ScratchOutput is an OutputBuffer over a fixed array. Writes past the end
// are truncated.
type ScratchOutput struct {
	buf [ScratchSize]byte
	pos int
}

// NewScratchOutput returns an empty ScratchOutput
func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	s.pos += copy(s.buf[s.pos:], data)
}

func (s *ScratchOutput) CurPosition() int { return s.pos }

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos >= 0 && pos < s.pos {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos < 0 || pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Result returns everything written since the last Reset
func (s *ScratchOutput) Result() []byte { return s.buf[:s.pos] }

// Reset discards the buffered bytes
func (s *ScratchOutput) Reset() { s.pos = 0 }

// FifoBuffer is a byte ring used between the serial driver and the parser.
// It implements InputBuffer.
type FifoBuffer struct {
	buf   []byte
	head  int // index of the oldest byte
	count int
	flat  []byte // scratch for Data when the contents wrap
}

// NewFifoBuffer creates a ring holding up to capacity bytes
func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{
		buf:  make([]byte, capacity),
		flat: make([]byte, capacity),
	}
}

// Write stores as much of data as fits and returns the number stored
func (f *FifoBuffer) Write(data []byte) int {
	n := min(len(data), f.Free())
	tail := (f.head + f.count) % len(f.buf)
	first := copy(f.buf[tail:], data[:n])
	copy(f.buf, data[first:n])
	f.count += n
	return n
}

// Read moves up to len(data) bytes out of the ring
func (f *FifoBuffer) Read(data []byte) int {
	n := min(len(data), f.count)
	first := copy(data[:n], f.buf[f.head:])
	copy(data[first:n], f.buf)
	f.Pop(n)
	return n
}

// Available returns the number of buffered bytes
func (f *FifoBuffer) Available() int { return f.count }

// Free returns the remaining capacity
func (f *FifoBuffer) Free() int { return len(f.buf) - f.count }

// Data returns the buffered bytes as one contiguous slice. The slice is only
// valid until the next Write, Read or Pop.
func (f *FifoBuffer) Data() []byte {
	end := f.head + f.count
	if end <= len(f.buf) {
		return f.buf[f.head:end]
	}
	first := copy(f.flat, f.buf[f.head:])
	copy(f.flat[first:f.count], f.buf)
	return f.flat[:f.count]
}

// Pop drops n bytes from the front
func (f *FifoBuffer) Pop(n int) {
	n = min(n, f.count)
	f.head = (f.head + n) % len(f.buf)
	f.count -= n
}

// IsEmpty reports whether nothing is buffered
func (f *FifoBuffer) IsEmpty() bool { return f.count == 0 }

// Reset discards all buffered bytes
func (f *FifoBuffer) Reset() {
	f.head = 0
	f.count = 0
}
