package core

import (
	"testing"

	"gopilot/protocol"
)

// response is a decoded firmware-to-host message
type response struct {
	name string
	args []byte
}

// resetCore gives each test a fresh firmware and returns the buffer that
// responses are framed into
func resetCore(t *testing.T) *protocol.ScratchOutput {
	t.Helper()

	globalRegistry = NewCommandRegistry()
	globalDictionary = NewDictionary(globalRegistry)
	globalParams = NewParamStore()
	shutdownHooks = nil
	attitudeTask = nil
	globalState.configCRC.Store(0)
	globalState.isShutdown.Store(false)
	globalState.reset.Store(false)
	resetTimers()
	resetTime()
	ClearTimingRing()

	out := protocol.NewScratchOutput()
	SetGlobalTransport(protocol.NewTransport(out, nil))
	t.Cleanup(func() { SetGlobalTransport(nil) })
	return out
}

// call runs a registered command with encoded arguments
func call(t *testing.T, name string, args func(output protocol.OutputBuffer)) error {
	t.Helper()

	cmd, ok := globalRegistry.GetCommandByName(name)
	if !ok {
		t.Fatalf("command %s not registered", name)
	}
	buf := protocol.NewScratchOutput()
	if args != nil {
		args(buf)
	}
	data := append([]byte(nil), buf.Result()...)
	err := globalRegistry.Dispatch(cmd.ID, &data)
	if err == nil && len(data) != 0 {
		t.Errorf("%s left %d argument bytes unread", name, len(data))
	}
	return err
}

// responses splits the framed output into messages and clears it
func responses(t *testing.T, out *protocol.ScratchOutput) []response {
	t.Helper()

	var msgs []response
	data := out.Result()
	for len(data) > 0 {
		n := int(data[0])
		if n < protocol.FrameMin || n > len(data) {
			t.Fatalf("malformed frame in output: %v", data)
		}
		payload := data[protocol.HeaderSize : n-protocol.TrailerSize]
		id, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			t.Fatalf("decode id: %v", err)
		}
		cmd, ok := globalRegistry.GetCommand(uint16(id))
		if !ok {
			t.Fatalf("unknown response id %d", id)
		}
		msgs = append(msgs, response{name: cmd.Name, args: append([]byte(nil), payload...)})
		data = data[n:]
	}
	out.Reset()
	return msgs
}
