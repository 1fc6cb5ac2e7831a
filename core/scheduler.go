package core

// Timer is an entry in the time-ordered dispatch list
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

// Handler results
const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var (
	timerList   *Timer
	currentTime uint32
)

// timeBefore compares tick values across counter wraps
func timeBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// ScheduleTimer inserts t into the dispatch list
func ScheduleTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	insertTimer(t)
}

// CancelTimer removes t from the dispatch list if it is scheduled
func CancelTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for link := &timerList; *link != nil; link = &(*link).Next {
		if *link == t {
			*link = t.Next
			t.Next = nil
			return
		}
	}
}

// insertTimer keeps the list ordered by WakeTime; equal times run in
// insertion order
func insertTimer(t *Timer) {
	link := &timerList
	for *link != nil && !timeBefore(t.WakeTime, (*link).WakeTime) {
		link = &(*link).Next
	}
	t.Next = *link
	*link = t
}

// TimerDispatch runs every timer whose WakeTime has passed. A handler
// returning SF_RESCHEDULE must have moved its WakeTime forward.
func TimerDispatch() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for timerList != nil && !timeBefore(currentTime, timerList.WakeTime) {
		t := timerList
		timerList = t.Next
		t.Next = nil

		if t.Handler(t) == SF_RESCHEDULE {
			insertTimer(t)
		}
	}
}

// resetTimers empties the dispatch list
func resetTimers() {
	timerList = nil
	currentTime = 0
}
