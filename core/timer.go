package core

// TimerFreq is the rate of the system time base. One tick is one microsecond.
const TimerFreq = 1000000

var (
	uptimeHigh uint32 // wraps of the 32-bit tick counter
	lastTicks  uint32
	bootTime   uint64
)

// GetTime returns the low 32 bits of the time base
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime advances the time base. Targets call it from their hardware timer;
// tests call it directly. A value lower than the previous one counts as a
// wrap of the 32-bit counter.
func SetTime(ticks uint32) {
	state := disableInterrupts()
	if ticks < lastTicks {
		uptimeHigh++
	}
	lastTicks = ticks
	restoreInterrupts(state)
	setSystemTicks(ticks)
}

// SetUptime loads the time base from a full 64-bit counter. Unlike SetTime it
// cannot lose a wrap when updates are further apart than one counter period.
func SetUptime(ticks uint64) {
	state := disableInterrupts()
	uptimeHigh = uint32(ticks >> 32)
	lastTicks = uint32(ticks)
	restoreInterrupts(state)
	setSystemTicks(uint32(ticks))
}

// GetUptime returns the 64-bit tick count
func GetUptime() uint64 {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return uint64(uptimeHigh)<<32 | uint64(lastTicks)
}

// TimerFromUS converts microseconds to ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * TimerFreq / 1000000)
}

// TimerToUS converts ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / TimerFreq)
}

// TimerInit records the boot time
func TimerInit() {
	bootTime = GetUptime()
}

// resetTime zeroes the time base
func resetTime() {
	uptimeHigh = 0
	lastTicks = 0
	bootTime = 0
	setSystemTicks(0)
}

// ProcessTimers runs every timer that is due
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}

// SystemClock reads the firmware time base in microseconds
type SystemClock struct{}

// NowMicros returns the time since the time base started
func (SystemClock) NowMicros() uint64 {
	return GetUptime() * 1000000 / TimerFreq
}
