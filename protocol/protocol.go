// Package protocol implements the framed serial link between the flight
// controller firmware and the host.
//
// Every frame on the wire has the layout
//
//	<len> <seq> <payload ...> <crc hi> <crc lo> 0x7E
//
// where len counts the whole frame, seq carries the destination bits 0x10
// and a 4-bit sequence number, and the CRC covers len, seq and the payload.
// Payloads are a sequence of messages, each a VLQ message ID followed by its
// VLQ encoded arguments. A frame with an empty payload acknowledges (or
// rejects) the frames before it.
package protocol

// Version of the wire protocol implementation
const Version = "0.1.0"

// Frame layout
const (
	HeaderSize  = 2
	TrailerSize = 3
	FrameMin    = HeaderSize + TrailerSize
	FrameMax    = 64

	posLen = 0
	posSeq = 1

	SyncByte = 0x7E
	SeqDest  = 0x10
	SeqMask  = 0x0F
)

// ScratchSize is the capacity of a ScratchOutput. It holds several frames so
// a command handler can queue more than one response.
const ScratchSize = 512

// nextSeq advances a sequence byte, keeping the destination bits
func nextSeq(seq uint8) uint8 {
	return ((seq + 1) & SeqMask) | SeqDest
}

// frameCRC reads the CRC stored in the trailer of a complete frame
func frameCRC(frame []byte) uint16 {
	n := len(frame)
	return uint16(frame[n-TrailerSize])<<8 | uint16(frame[n-TrailerSize+1])
}

// appendTrailer appends the CRC of frame and the sync byte
func appendTrailer(frame []byte) []byte {
	crc := CRC16(frame)
	return append(frame, byte(crc>>8), byte(crc), SyncByte)
}

// frameEvent is what frameReader found at the head of its input
type frameEvent uint8

const (
	needMore frameEvent = iota // nothing usable until more bytes arrive
	gotFrame                   // a complete, verified frame
	resynced                   // sync regained after a bad frame
)

// frameReader splits a byte stream into verified frames, dropping bytes up
// to the next sync byte whenever a frame fails validation.
type frameReader struct {
	// requireDest rejects frames whose sequence byte lacks the
	// destination bits (firmware side)
	requireDest bool
	lost        bool
}

// next scans data and returns the event found, the frame for gotFrame and
// the bytes left to scan.
func (r *frameReader) next(data []byte) (frameEvent, []byte, []byte) {
	for len(data) > 0 {
		if r.lost {
			i := indexSync(data)
			if i < 0 {
				return needMore, nil, data[len(data):]
			}
			r.lost = false
			return resynced, nil, data[i+1:]
		}

		if data[0] == SyncByte {
			data = data[1:]
			continue
		}
		if len(data) < FrameMin {
			break
		}

		n := int(data[posLen])
		if n < FrameMin || n > FrameMax {
			r.lost = true
			continue
		}
		if r.requireDest && data[posSeq]&^SeqMask != SeqDest {
			r.lost = true
			continue
		}
		if len(data) < n {
			break
		}

		frame := data[:n]
		if frame[n-1] != SyncByte || frameCRC(frame) != CRC16(frame[:n-TrailerSize]) {
			r.lost = true
			continue
		}
		return gotFrame, frame, data[n:]
	}
	return needMore, nil, data
}

func indexSync(data []byte) int {
	for i, b := range data {
		if b == SyncByte {
			return i
		}
	}
	return -1
}

// payload returns the message bytes of a verified frame
func payload(frame []byte) []byte {
	return frame[HeaderSize : len(frame)-TrailerSize]
}
