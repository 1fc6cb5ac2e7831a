package protocol

import "sync/atomic"

// CommandHandler decodes and runs one message. It must consume exactly its
// own arguments from data so the next message in the frame can be parsed.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the firmware end of the link. It validates incoming frames,
// enforces the host's sequence numbering, acknowledges every frame and
// frames outgoing responses.
type Transport struct {
	reader frameReader
	seq    atomic.Uint32 // next sequence expected from the host

	output  OutputBuffer
	handler CommandHandler

	onReset func()
	onFlush func()
	onError func(cmdID uint16, err error)
}

// NewTransport creates a firmware transport writing to output and passing
// each received message to handler
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{
		reader:  frameReader{requireDest: true},
		output:  output,
		handler: handler,
	}
	t.seq.Store(SeqDest)
	return t
}

// Receive parses as many frames as input holds and consumes them
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()
	total := len(data)

	for {
		ev, frame, rest := t.reader.next(data)
		data = rest
		if ev == needMore {
			break
		}
		if ev == gotFrame {
			t.accept(frame)
		}
		t.sendAck()
	}

	input.Pop(total - len(data))
}

// accept runs a verified frame if it carries the expected sequence number.
// A host that restarts its numbering at SeqDest resets the transport.
func (t *Transport) accept(frame []byte) {
	seq := frame[posSeq]
	expected := uint8(t.seq.Load())

	if seq == SeqDest && expected != SeqDest {
		expected = SeqDest
		t.seq.Store(SeqDest)
		if t.onReset != nil {
			t.onReset()
		}
	}
	if seq != expected {
		// Out of order; the ack below tells the host what we expect
		return
	}

	t.seq.Store(uint32(nextSeq(seq)))
	t.dispatch(payload(frame))
}

// dispatch runs every message in a payload. A panicking handler drops the
// rest of the frame and forces a resync.
func (t *Transport) dispatch(msgs []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.reader.lost = true
		}
	}()

	for len(msgs) > 0 {
		id, err := DecodeVLQUint(&msgs)
		if err != nil {
			t.reader.lost = true
			return
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(id), &msgs); err != nil {
			if t.onError != nil {
				t.onError(uint16(id), err)
			}
			return
		}
	}
}

// sendAck emits an empty frame carrying the next expected sequence
func (t *Transport) sendAck() {
	var frame [FrameMin]byte
	ack := appendTrailer(append(frame[:0], FrameMin, uint8(t.seq.Load())))
	t.output.Output(ack)

	// Hosts wait for the ack before reading responses
	if t.onFlush != nil {
		t.onFlush()
	}
}

// EncodeFrame writes one frame whose payload is produced by body
func (t *Transport) EncodeFrame(body func(output OutputBuffer)) {
	start := t.output.CurPosition()
	t.output.Output([]byte{0, uint8(t.seq.Load())})

	body(t.output)

	t.output.Update(start+posLen, uint8(len(t.output.DataSince(start))+TrailerSize))
	crc := CRC16(t.output.DataSince(start))
	t.output.Output([]byte{byte(crc >> 8), byte(crc), SyncByte})
}

// SendCommand frames a single message with the given ID
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns the transport to its power-on state
func (t *Transport) Reset() {
	t.reader.lost = false
	t.seq.Store(SeqDest)
	if t.onReset != nil {
		t.onReset()
	}
}

// NextSequence returns the sequence number expected from the host
func (t *Transport) NextSequence() uint8 {
	return uint8(t.seq.Load())
}

// SetResetCallback registers a function run when the host restarts
func (t *Transport) SetResetCallback(callback func()) {
	t.onReset = callback
}

// SetFlushCallback registers a function that pushes buffered output to the
// wire immediately
func (t *Transport) SetFlushCallback(callback func()) {
	t.onFlush = callback
}

// SetErrorCallback registers a function told about handler errors
func (t *Transport) SetErrorCallback(callback func(cmdID uint16, err error)) {
	t.onError = callback
}
