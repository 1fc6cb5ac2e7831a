//go:build !tinygo

package protocol

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// hostFrame builds a frame the way the host would send it
func hostFrame(t *testing.T, seq uint8, cmdID uint16, args func(OutputBuffer)) []byte {
	t.Helper()
	frame, err := buildFrame(seq, cmdID, args)
	if err != nil {
		t.Fatalf("buildFrame: %v", err)
	}
	return frame
}

type recordedCall struct {
	id   uint16
	args []byte
}

func newRecordingTransport() (*Transport, *ScratchOutput, *[]recordedCall) {
	out := NewScratchOutput()
	var calls []recordedCall
	tr := NewTransport(out, func(cmdID uint16, data *[]byte) error {
		v, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		calls = append(calls, recordedCall{id: cmdID, args: EncodeVLQ(int32(v))})
		return nil
	})
	return tr, out, &calls
}

// acks splits output into frames and returns the sequence of each
func acks(t *testing.T, out []byte) []uint8 {
	t.Helper()
	var seqs []uint8
	r := frameReader{}
	for {
		ev, frame, rest := r.next(out)
		out = rest
		if ev == needMore {
			return seqs
		}
		if ev == gotFrame {
			seqs = append(seqs, frame[posSeq])
		}
	}
}

func TestTransportDispatchesAndAcks(t *testing.T) {
	tr, out, calls := newRecordingTransport()

	arg := func(v uint32) func(OutputBuffer) {
		return func(o OutputBuffer) { EncodeVLQUint(o, v) }
	}
	stream := append(hostFrame(t, 0x10, 5, arg(300)), hostFrame(t, 0x11, 6, arg(7))...)
	tr.Receive(NewSliceInputBuffer(stream))

	if len(*calls) != 2 || (*calls)[0].id != 5 || (*calls)[1].id != 6 {
		t.Fatalf("unexpected calls %+v", *calls)
	}
	if got := acks(t, out.Result()); !bytes.Equal(got, []byte{0x11, 0x12}) {
		t.Errorf("expected acks [0x11 0x12], got %x", got)
	}
	if tr.NextSequence() != 0x12 {
		t.Errorf("expected next sequence 0x12, got 0x%02x", tr.NextSequence())
	}
}

func TestTransportIgnoresOutOfOrderFrames(t *testing.T) {
	tr, out, calls := newRecordingTransport()

	one := func(o OutputBuffer) { EncodeVLQUint(o, 1) }
	tr.Receive(NewSliceInputBuffer(hostFrame(t, 0x10, 1, one)))
	out.Reset()
	tr.Receive(NewSliceInputBuffer(hostFrame(t, 0x15, 2, one)))

	if len(*calls) != 1 || (*calls)[0].id != 1 {
		t.Fatalf("unexpected calls %+v", *calls)
	}
	if got := acks(t, out.Result()); !bytes.Equal(got, []byte{0x11}) {
		t.Errorf("expected NAK with 0x11, got %x", got)
	}
}

func TestTransportResyncsAfterCorruption(t *testing.T) {
	tr, out, calls := newRecordingTransport()

	bad := hostFrame(t, 0x10, 9, func(o OutputBuffer) { EncodeVLQUint(o, 1) })
	bad[2] ^= 0xFF
	good := hostFrame(t, 0x10, 9, func(o OutputBuffer) { EncodeVLQUint(o, 2) })

	input := NewSliceInputBuffer(append(append([]byte{0x33, 0x44}, bad...), good...))
	tr.Receive(input)

	if len(*calls) != 1 || !bytes.Equal((*calls)[0].args, EncodeVLQ(2)) {
		t.Fatalf("expected only the good frame to run, got %+v", *calls)
	}
	if input.Available() != 0 {
		t.Errorf("%d bytes left unconsumed", input.Available())
	}
	if len(acks(t, out.Result())) == 0 {
		t.Error("expected acks after resync")
	}
}

func TestTransportKeepsPartialFrame(t *testing.T) {
	tr, _, calls := newRecordingTransport()
	frame := hostFrame(t, 0x10, 3, func(o OutputBuffer) { EncodeVLQUint(o, 1) })

	fifo := NewFifoBuffer(64)
	fifo.Write(frame[:4])
	tr.Receive(fifo)
	if len(*calls) != 0 || fifo.Available() != 4 {
		t.Fatalf("partial frame: calls=%d buffered=%d", len(*calls), fifo.Available())
	}

	fifo.Write(frame[4:])
	tr.Receive(fifo)
	if len(*calls) != 1 || fifo.Available() != 0 {
		t.Errorf("complete frame: calls=%d buffered=%d", len(*calls), fifo.Available())
	}
}

func TestTransportHostReset(t *testing.T) {
	tr, _, _ := newRecordingTransport()
	resets := 0
	tr.SetResetCallback(func() { resets++ })

	tr.Receive(NewSliceInputBuffer(hostFrame(t, 0x10, 1, func(o OutputBuffer) { EncodeVLQUint(o, 0) })))
	tr.Receive(NewSliceInputBuffer(hostFrame(t, 0x10, 1, func(o OutputBuffer) { EncodeVLQUint(o, 0) })))

	if resets != 1 {
		t.Errorf("expected 1 reset, got %d", resets)
	}
}

func TestTransportHandlerError(t *testing.T) {
	out := NewScratchOutput()
	tr := NewTransport(out, func(cmdID uint16, data *[]byte) error {
		return errors.New("boom")
	})
	var failed uint16
	tr.SetErrorCallback(func(cmdID uint16, err error) { failed = cmdID })

	tr.Receive(NewSliceInputBuffer(hostFrame(t, 0x10, 12, nil)))
	if failed != 12 {
		t.Errorf("error callback got id %d", failed)
	}
}

func TestEncodeFrameIsParseable(t *testing.T) {
	out := NewScratchOutput()
	tr := NewTransport(out, nil)

	tr.SendCommand(4, func(o OutputBuffer) {
		EncodeVLQFloat(o, 0.68)
		EncodeVLQString(o, "att_p")
	})

	r := frameReader{}
	ev, frame, _ := r.next(out.Result())
	if ev != gotFrame {
		t.Fatalf("frame not recognised: %v", out.Result())
	}
	msg := Message{Payload: payload(frame)}
	id, args, err := msg.ID()
	if err != nil || id != 4 {
		t.Fatalf("id %d err %v", id, err)
	}
	f, _ := DecodeVLQFloat(&args)
	s, _ := DecodeVLQString(&args)
	if f != 0.68 || s != "att_p" {
		t.Errorf("decoded %v %q", f, s)
	}
}

// loopback connects a HostTransport to a firmware Transport in memory
type loopback struct {
	mu      sync.Mutex
	fw      *Transport
	fwOut   *ScratchOutput
	pending chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newLoopback(handler func(tr *Transport, cmdID uint16, data *[]byte) error) *loopback {
	l := &loopback{
		fwOut:   NewScratchOutput(),
		pending: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
	l.fw = NewTransport(l.fwOut, func(cmdID uint16, data *[]byte) error {
		return handler(l.fw, cmdID, data)
	})
	return l
}

func (l *loopback) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fwOut.Reset()
	l.fw.Receive(NewSliceInputBuffer(append([]byte(nil), p...)))
	l.pending <- append([]byte(nil), l.fwOut.Result()...)
	return len(p), nil
}

func (l *loopback) Read(p []byte) (int, error) {
	select {
	case data := <-l.pending:
		return copy(p, data), nil
	case <-l.closed:
		return 0, io.EOF
	}
}

func (l *loopback) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func TestHostTransportRoundTrip(t *testing.T) {
	const echoID, replyID = 3, 4
	port := newLoopback(func(tr *Transport, cmdID uint16, data *[]byte) error {
		v, err := DecodeVLQFloat(data)
		if err != nil {
			return err
		}
		tr.SendCommand(replyID, func(o OutputBuffer) { EncodeVLQFloat(o, v*2) })
		return nil
	})

	host := NewHostTransport(port)
	defer host.Close()

	var handled []uint16
	var mu sync.Mutex
	host.SetResponseHandler(func(cmdID uint16, data *[]byte) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, cmdID)
		return nil
	})

	for i, v := range []float32{0.5, -3} {
		err := host.SendCommand(echoID, func(o OutputBuffer) { EncodeVLQFloat(o, v) })
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}

		msg, err := host.ReceiveResponse(time.Second)
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		id, args, err := msg.ID()
		if err != nil || id != replyID {
			t.Fatalf("response id %d err %v", id, err)
		}
		got, _ := DecodeVLQFloat(&args)
		if got != v*2 {
			t.Errorf("expected %v, got %v", v*2, got)
		}
	}

	if host.GetCurrentSequence() != 0x12 {
		t.Errorf("expected sequence 0x12, got 0x%02x", host.GetCurrentSequence())
	}
	mu.Lock()
	if len(handled) != 2 {
		t.Errorf("response handler ran %d times", len(handled))
	}
	mu.Unlock()
}

func TestHostTransportRejectsLongMessage(t *testing.T) {
	host := NewHostTransport(newLoopback(func(*Transport, uint16, *[]byte) error { return nil }))
	defer host.Close()

	err := host.SendCommand(1, func(o OutputBuffer) { EncodeVLQBytes(o, make([]byte, FrameMax)) })
	if err == nil {
		t.Error("expected error for oversized message")
	}
}

func TestHostTransportClosed(t *testing.T) {
	host := NewHostTransport(newLoopback(func(*Transport, uint16, *[]byte) error { return nil }))
	if err := host.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := host.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if _, err := host.ReceiveResponse(time.Second); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
}
