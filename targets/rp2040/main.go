//go:build rp2040

package main

import (
	"machine"
	"strconv"
	"time"

	"gopilot/core"
	"gopilot/flight/attitude"
	"gopilot/protocol"
)

var (
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	// Link health
	msgErrors                uint32
	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

func main() {
	// Clear any watchdog state left from a previous reset
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	InitUSB()
	InitClock()
	core.TimerInit()
	core.SetDebugWriter(func(msg string) { println(msg) })
	core.InitAsyncDebug()

	core.InitCoreCommands()
	task := core.InitAttitudeCommands(attitude.DefaultConfig())
	if gyro := NewGyro(); gyro != nil {
		task.SetRateSource(gyro)
	}

	// All commands and constants are registered; compress once
	dict := core.GetGlobalDictionary()
	dict.SetBuildVersions("tinygo-rp2040")
	dict.BuildDictionary()
	core.DebugPrintln("[core] " + strconv.Itoa(core.GetCommandCount()) + " messages registered")

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()

	transport = protocol.NewTransport(outputBuffer, core.DispatchCommand)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		core.ResetFirmwareState()
	})
	// The host waits for the ack before it reads responses
	transport.SetFlushCallback(writeUSB)
	transport.SetErrorCallback(func(cmdID uint16, err error) {
		msgErrors++
		// Runs inside dispatch; do not block the command loop
		core.DebugAsync("[cmd] " + strconv.Itoa(int(cmdID)) + ": " + err.Error())
	})
	core.SetGlobalTransport(transport)

	core.SetResetHandler(func() {
		// Watchdog reset re-enumerates USB more reliably than SYSRESETREQ
		if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 1}); err != nil {
			return
		}
		if err := machine.Watchdog.Start(); err != nil {
			return
		}
		for {
			time.Sleep(time.Millisecond)
		}
	})

	go usbReaderLoop()

	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgErrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
				}
			}()

			UpdateSystemTime()

			if inputBuffer.Available() > 0 {
				in := protocol.NewSliceInputBuffer(inputBuffer.Data())
				before := in.Available()
				transport.Receive(in)
				inputBuffer.Pop(before - in.Available())
			}

			writeUSB()
			core.CheckPendingReset()

			// Runs the attitude loop when it is due
			core.ProcessTimers()
			writeUSB()
		}()

		time.Sleep(10 * time.Microsecond)
	}
}

// usbReaderLoop moves received bytes into the input FIFO
func usbReaderLoop() {
	defer func() {
		if r := recover(); r != nil {
			msgErrors++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	for {
		if USBAvailable() > 0 {
			data, err := USBRead()
			if err != nil {
				msgErrors++
				time.Sleep(time.Millisecond)
				continue
			}

			// First byte after a disconnect starts a fresh session
			if usbWasDisconnected {
				usbWasDisconnected = false
				inputBuffer.Reset()
				outputBuffer.Reset()
				transport.Reset()
				core.ResetFirmwareState()
				consecutiveWriteFailures = 0
			}

			if inputBuffer.Write([]byte{data}) == 0 {
				msgErrors++
				time.Sleep(10 * time.Millisecond)
			}
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// writeUSB sends the output buffer. Repeated failures mean the host went
// away, so stale output is dropped and the session marked disconnected.
func writeUSB() {
	result := outputBuffer.Result()
	if len(result) == 0 {
		return
	}

	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				outputBuffer.Reset()
				inputBuffer.Reset()
				// Nobody is listening for rate setpoints
				if task := core.GetAttitudeTask(); task != nil {
					task.Stop()
				}
			}
			return
		}
		written += n
	}

	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}
