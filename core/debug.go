package core

// DebugWriter sends one line of debug text to the target's console
type DebugWriter func(string)

// TimingEvent is one entry of the post-mortem timing ring
type TimingEvent struct {
	EventType uint8
	Arg       uint8
	Clock     uint32
	Value1    uint32
	Value2    uint32
}

// Timing event codes. Cycle counts are stored as their low 32 bits and wrap.
const (
	EvtLoopStart     = 1 // attitude loop started; v1 = period
	EvtLoopStop      = 2 // attitude loop stopped; v1 = cycles
	EvtParamRefresh  = 3 // gains reloaded; v1 = cycle
	EvtIntegralReset = 4 // integrals cleared; v1 = cycle
	EvtLoopOverrun   = 5 // cycle started late; v1 = lateness in ticks
	EvtParamSet      = 6 // parameter changed; v1 = handle
	EvtShutdown      = 7
)

// TimingRingSize is the number of events kept
const TimingRingSize = 32

var (
	debugPrintln DebugWriter = func(string) {}
	debugEnabled bool
	debugChan    chan string

	timingRing     [TimingRingSize]TimingEvent
	timingRingHead uint8
)

// SetDebugWriter sets where debug output goes
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled turns DebugPrintln output on or off
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled reports whether DebugPrintln writes anything
func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the goroutine draining DebugAsync messages
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go func() {
		for msg := range debugChan {
			debugPrintln(msg)
		}
	}()
}

// DebugPrintln writes msg synchronously when debug output is enabled
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues msg without blocking; it is dropped if the queue is full
func DebugAsync(msg string) {
	if debugChan == nil {
		return
	}
	select {
	case debugChan <- msg:
	default:
	}
}

// RecordTiming appends an event to the ring, overwriting the oldest. It does
// not allocate and is safe to call from the control loop.
func RecordTiming(eventType, arg uint8, clock, value1, value2 uint32) {
	timingRing[timingRingHead] = TimingEvent{
		EventType: eventType,
		Arg:       arg,
		Clock:     clock,
		Value1:    value1,
		Value2:    value2,
	}
	timingRingHead = (timingRingHead + 1) % TimingRingSize
}

// TimingEvents returns the recorded events, oldest first
func TimingEvents() []TimingEvent {
	events := make([]TimingEvent, 0, TimingRingSize)
	for i := uint8(0); i < TimingRingSize; i++ {
		evt := timingRing[(timingRingHead+i)%TimingRingSize]
		if evt.EventType != 0 {
			events = append(events, evt)
		}
	}
	return events
}

func eventName(code uint8) string {
	switch code {
	case EvtLoopStart:
		return "LOOP_START"
	case EvtLoopStop:
		return "LOOP_STOP"
	case EvtParamRefresh:
		return "PARAM_REFRESH"
	case EvtIntegralReset:
		return "I_RESET"
	case EvtLoopOverrun:
		return "OVERRUN!"
	case EvtParamSet:
		return "PARAM_SET"
	case EvtShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// DumpTimingRing writes the ring to the debug writer regardless of the
// enable flag
func DumpTimingRing() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[TIMING] === Timing Ring Dump ===")
	if attitudeTask != nil {
		debugPrintln("[TIMING] attitude cycles: " + utoa64(attitudeTask.ctrl.Cycles()))
	}
	for _, evt := range TimingEvents() {
		debugPrintln("[TIMING] " + eventName(evt.EventType) +
			" arg=" + itoa(int(evt.Arg)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	debugPrintln("[TIMING] === End Dump ===")
}

// ClearTimingRing empties the ring
func ClearTimingRing() {
	timingRing = [TimingRingSize]TimingEvent{}
	timingRingHead = 0
}
