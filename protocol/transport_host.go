//go:build !tinygo

package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// ErrTransportClosed is returned by calls made after Close
var ErrTransportClosed = errors.New("transport closed")

// DefaultAckTimeout bounds how long SendCommand waits for an ack
const DefaultAckTimeout = 2 * time.Second

// ResponseHandler is called from the read loop for every response
type ResponseHandler func(cmdID uint16, data *[]byte) error

// Message is a verified frame received from the firmware
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte
	CRC      uint16
}

// ID decodes the message ID at the start of the payload and returns it with
// the argument bytes that follow
func (m *Message) ID() (uint16, []byte, error) {
	args := m.Payload
	id, err := DecodeVLQUint(&args)
	return uint16(id), args, err
}

// HostTransport is the host end of the link. Commands are sent one frame at
// a time and block until the firmware acknowledges them; responses are
// queued for ReceiveResponse and passed to the optional ResponseHandler.
type HostTransport struct {
	port io.ReadWriteCloser
	seq  atomic.Uint32

	sendMu sync.Mutex

	readMu sync.Mutex
	reader frameReader
	input  *FifoBuffer

	handlerMu sync.RWMutex
	handler   ResponseHandler

	acks      chan *Message
	responses chan *Message

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewHostTransport starts a transport over port. A background goroutine
// reads the port until Close is called or the port reports io.EOF.
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:      port,
		input:     NewFifoBuffer(4 * ScratchSize),
		acks:      make(chan *Message, 1),
		responses: make(chan *Message, 64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	t.seq.Store(SeqDest)

	go t.readLoop()
	return t
}

// SendCommand sends one message and waits for its ack
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, DefaultAckTimeout)
}

// SendCommandWithTimeout is SendCommand with an explicit ack timeout
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	seq := uint8(t.seq.Load())
	frame, err := buildFrame(seq, cmdID, args)
	if err != nil {
		return err
	}

	// Drop a stale ack left over from a previous timeout
	select {
	case <-t.acks:
	default:
	}

	if n, err := t.port.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	} else if n != len(frame) {
		return fmt.Errorf("write frame: short write %d/%d", n, len(frame))
	}

	if err := t.waitForAck(seq, timeout); err != nil {
		return fmt.Errorf("command %d: %w", cmdID, err)
	}
	return nil
}

// buildFrame encodes a single message into a complete frame
func buildFrame(seq uint8, cmdID uint16, args func(output OutputBuffer)) ([]byte, error) {
	body := NewScratchOutput()
	EncodeVLQUint(body, uint32(cmdID))
	if args != nil {
		args(body)
	}

	n := HeaderSize + body.CurPosition() + TrailerSize
	if n > FrameMax {
		return nil, fmt.Errorf("message too long: %d bytes (max %d)", n, FrameMax)
	}

	frame := make([]byte, 0, n)
	frame = append(frame, uint8(n), seq)
	frame = append(frame, body.Result()...)
	return appendTrailer(frame), nil
}

// waitForAck blocks until the firmware acknowledges seq
func (t *HostTransport) waitForAck(seq uint8, timeout time.Duration) error {
	want := nextSeq(seq)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case ack := <-t.acks:
			if ack.Sequence == want {
				t.seq.Store(uint32(want))
				return nil
			}
			glog.V(2).Infof("ignoring ack 0x%02x while waiting for 0x%02x", ack.Sequence, want)
		case <-deadline.C:
			return fmt.Errorf("ack timeout after %v", timeout)
		case <-t.stop:
			return ErrTransportClosed
		}
	}
}

// ReceiveResponse returns the next queued response
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case msg := <-t.responses:
		return msg, nil
	case <-deadline.C:
		return nil, fmt.Errorf("response timeout after %v", timeout)
	case <-t.stop:
		return nil, ErrTransportClosed
	}
}

// SetResponseHandler installs a callback run for every response
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handler = handler
}

func (t *HostTransport) readLoop() {
	defer close(t.done)

	buf := make([]byte, 256)
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if n > 0 {
			t.feed(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			glog.Warningf("serial read: %v", err)
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// feed appends received bytes and dispatches any complete frames
func (t *HostTransport) feed(data []byte) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for len(data) > 0 {
		stored := t.input.Write(data)
		data = data[stored:]
		t.parse()
		if stored == 0 {
			// Ring full of garbage that never framed
			t.input.Reset()
		}
	}
}

func (t *HostTransport) parse() {
	buf := t.input.Data()
	total := len(buf)

	for {
		ev, frame, rest := t.reader.next(buf)
		buf = rest
		if ev == needMore {
			break
		}
		if ev == resynced {
			glog.V(1).Info("resynchronized with firmware")
			continue
		}

		msg := &Message{
			Length:   frame[posLen],
			Sequence: frame[posSeq],
			Payload:  append([]byte(nil), payload(frame)...),
			CRC:      frameCRC(frame),
		}
		t.dispatch(msg)
	}

	t.input.Pop(total - len(buf))
}

// dispatch routes acks and responses to their channels
func (t *HostTransport) dispatch(msg *Message) {
	if len(msg.Payload) == 0 {
		select {
		case t.acks <- msg:
		default:
			// Replace an unread ack with the newer one
			select {
			case <-t.acks:
			default:
			}
			t.acks <- msg
		}
		return
	}

	t.handlerMu.RLock()
	handler := t.handler
	t.handlerMu.RUnlock()
	if handler != nil {
		id, args, err := msg.ID()
		if err == nil {
			if err := handler(id, &args); err != nil {
				glog.V(1).Infof("response handler for id %d: %v", id, err)
			}
		}
	}

	select {
	case t.responses <- msg:
	default:
		// Queue full: drop the oldest response
		select {
		case <-t.responses:
		default:
		}
		t.responses <- msg
	}
}

// Close stops the read loop and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.done
	})
	return err
}

// Reset restarts sequence numbering and discards buffered input
func (t *HostTransport) Reset() {
	t.seq.Store(SeqDest)

	t.readMu.Lock()
	t.reader.lost = false
	t.input.Reset()
	t.readMu.Unlock()

	for len(t.acks) > 0 {
		<-t.acks
	}
	for len(t.responses) > 0 {
		<-t.responses
	}
}

// GetCurrentSequence returns the sequence number of the next command
func (t *HostTransport) GetCurrentSequence() uint8 {
	return uint8(t.seq.Load())
}
