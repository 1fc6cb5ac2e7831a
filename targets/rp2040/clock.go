//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"gopilot/core"
)

// RP2040 timer peripheral
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x24 // Raw high word, no latching
	timerTIMERAWL = timerBase + 0x28 // Raw low word, no latching
)

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
)

// InitClock publishes the time base. The RP2040 timer counts microseconds,
// which matches core.TimerFreq, so ticks pass through unscaled.
func InitClock() {
	core.RegisterConstant("MCU", "rp2040")
	core.RegisterConstant("CLOCK_FREQ", uint32(core.TimerFreq))
}

// GetHardwareUptime reads the full 64-bit counter
func GetHardwareUptime() uint64 {
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()
		if high1 == high2 {
			return uint64(high1)<<32 | uint64(low)
		}
	}
}

// UpdateSystemTime copies the hardware counter into the core time base. The
// full 64-bit read keeps uptime correct however long the main loop stalls.
func UpdateSystemTime() {
	core.SetUptime(GetHardwareUptime())
}
