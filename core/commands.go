package core

import (
	"errors"
	"sync/atomic"

	"gopilot/protocol"
)

// ErrShutdown is returned by commands refused after an emergency stop
var ErrShutdown = errors.New("firmware is shut down")

// firmwareState is shared between the command loop and timer handlers
type firmwareState struct {
	configCRC  atomic.Uint32
	isShutdown atomic.Bool
	reset      atomic.Bool
}

var globalState firmwareState

var (
	globalTransport    *protocol.Transport
	globalResetHandler func()
	shutdownHooks      []func()
)

// InitCoreCommands registers the link-level commands. identify_response and
// identify must be the first two registrations: hosts assume IDs 0 and 1
// before they have read the dictionary.
func InitCoreCommands() {
	RegisterResponse("identify_response", "offset=%u data=%*s")
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify)

	RegisterCommand("get_uptime", "", handleGetUptime)
	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_config", "", handleGetConfig)
	RegisterCommand("config_reset", "", handleConfigReset)
	RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
	RegisterCommand("emergency_stop", "", handleEmergencyStop)
	RegisterCommand("reset", "", handleReset)
	RegisterCommand("set_debug", "enable=%c", handleSetDebug)
	RegisterCommand("dump_timing", "", handleDumpTiming)

	RegisterResponse("clock", "clock=%u")
	RegisterResponse("uptime", "high=%u clock=%u")
	RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c")
}

func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))
	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

func handleGetUptime(*[]byte) error {
	uptime := GetUptime()
	SendResponse("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(uptime>>32))
		protocol.EncodeVLQUint(output, uint32(uptime))
	})
	return nil
}

func handleGetClock(*[]byte) error {
	clock := GetTime()
	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
	})
	return nil
}

func handleGetConfig(*[]byte) error {
	crc := globalState.configCRC.Load()
	SendResponse("config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQBool(output, crc != 0)
		protocol.EncodeVLQUint(output, crc)
		protocol.EncodeVLQBool(output, IsShutdown())
	})
	return nil
}

func handleConfigReset(*[]byte) error {
	if IsShutdown() {
		return ErrShutdown
	}
	globalState.configCRC.Store(0)
	globalParams.ResetDefaults()
	return nil
}

// handleFinalizeConfig marks the pushed parameter set as complete. The host
// compares the CRC on reconnect to decide whether to push again.
func handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	globalState.configCRC.Store(crc)
	return nil
}

func handleEmergencyStop(*[]byte) error {
	TryShutdown("emergency stop")
	return nil
}

// handleReset defers the reset to the main loop so the ack goes out first
func handleReset(*[]byte) error {
	globalState.reset.Store(true)
	return nil
}

func handleSetDebug(data *[]byte) error {
	enable, err := protocol.DecodeVLQBool(data)
	if err != nil {
		return err
	}
	SetDebugEnabled(enable)
	return nil
}

func handleDumpTiming(*[]byte) error {
	DumpTimingRing()
	return nil
}

// OnShutdown registers a function run when the firmware shuts down
func OnShutdown(hook func()) {
	shutdownHooks = append(shutdownHooks, hook)
}

// TryShutdown stops all activity. Only the first call runs the hooks.
func TryShutdown(reason string) {
	if globalState.isShutdown.Swap(true) {
		return
	}
	RecordTiming(EvtShutdown, 0, GetTime(), 0, 0)
	DebugPrintln("[core] shutdown: " + reason)
	for _, hook := range shutdownHooks {
		hook()
	}
}

// IsShutdown reports whether the firmware has shut down
func IsShutdown() bool {
	return globalState.isShutdown.Load()
}

// ResetFirmwareState clears configuration and shutdown state after the host
// reconnects. Shutdown hooks run so nothing keeps running for the old host.
func ResetFirmwareState() {
	for _, hook := range shutdownHooks {
		hook()
	}
	globalState.configCRC.Store(0)
	globalState.isShutdown.Store(false)
	globalState.reset.Store(false)
}

// SendResponse frames a registered response on the global transport.
// Sending an unregistered response is a programming error and panics.
func SendResponse(name string, args func(output protocol.OutputBuffer)) {
	if globalTransport == nil {
		return
	}
	cmd, ok := globalRegistry.GetCommandByName(name)
	if !ok {
		panic("response not registered: " + name)
	}
	globalTransport.SendCommand(cmd.ID, args)
}

// SetGlobalTransport sets the transport responses are sent on
func SetGlobalTransport(transport *protocol.Transport) {
	globalTransport = transport
}

// SetResetHandler sets the target's MCU reset function
func SetResetHandler(handler func()) {
	globalResetHandler = handler
}

// CheckPendingReset performs a requested reset. Call it from the main loop
// after output has been flushed.
func CheckPendingReset() {
	if globalState.reset.Load() && globalResetHandler != nil {
		globalResetHandler()
	}
}
