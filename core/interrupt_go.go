//go:build !tinygo

package core

// irqState stands in for the saved interrupt mask on hosted builds
type irqState uintptr

func disableInterrupts() irqState {
	return 0
}

func restoreInterrupts(irqState) {}
