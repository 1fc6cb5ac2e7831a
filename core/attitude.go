package core

import (
	"gopilot/flight"
	"gopilot/flight/attitude"
	"gopilot/protocol"
)

// RateSource supplies measured body rates, e.g. from an on-board gyro
type RateSource interface {
	ReadRates() (roll, pitch, yaw float32, ok bool)
}

// AttitudeTask runs the attitude controller from the timer list. The host
// streams setpoints and estimator output; every period the task evaluates
// one cycle and emits the resulting rate setpoint.
type AttitudeTask struct {
	ctrl  *attitude.Controller
	timer Timer

	defaultPeriod uint32 // ticks
	period        uint32
	running       bool

	setpoint     flight.AttitudeSetpoint
	state        flight.AttitudeState
	controlYaw   bool
	resetPending bool

	rates  RateSource
	output func(flight.RateSetpoint)
}

var attitudeTask *AttitudeTask

// NewAttitudeTask creates a stopped task around ctrl. loopPeriodUS is the
// period used when attitude_start asks for the default.
func NewAttitudeTask(ctrl *attitude.Controller, loopPeriodUS uint32) *AttitudeTask {
	a := &AttitudeTask{
		ctrl:          ctrl,
		defaultPeriod: TimerFromUS(loopPeriodUS),
		output:        sendRates,
	}
	a.timer.Handler = a.fire
	return a
}

// Start schedules the first cycle one period from now. A zero period uses
// the default. Starting a running task only changes its period.
func (a *AttitudeTask) Start(periodUS uint32) error {
	if IsShutdown() {
		return ErrShutdown
	}

	period := a.defaultPeriod
	if periodUS != 0 {
		period = TimerFromUS(periodUS)
	}
	if period == 0 {
		period = 1
	}
	a.period = period
	if a.running {
		return nil
	}

	// The first cycle after a (re)start measures from now, not from the
	// last cycle before the stop
	a.ctrl.Initialize()
	a.ctrl.Resync()

	a.running = true
	a.timer.WakeTime = GetTime() + period
	ScheduleTimer(&a.timer)
	RecordTiming(EvtLoopStart, 0, GetTime(), TimerToUS(period), 0)
	return nil
}

// Stop cancels the pending cycle
func (a *AttitudeTask) Stop() {
	if !a.running {
		return
	}
	a.running = false
	CancelTimer(&a.timer)
	RecordTiming(EvtLoopStop, 0, GetTime(), uint32(a.ctrl.Cycles()), 0)
}

// Running reports whether cycles are being scheduled
func (a *AttitudeTask) Running() bool {
	return a.running
}

// Controller returns the underlying control law
func (a *AttitudeTask) Controller() *attitude.Controller {
	return a.ctrl
}

// SetSetpoint stores the setpoint used by the following cycles
func (a *AttitudeTask) SetSetpoint(sp flight.AttitudeSetpoint) {
	a.setpoint = sp
}

// SetState stores the measured attitude used by the following cycles
func (a *AttitudeTask) SetState(st flight.AttitudeState) {
	a.state = st
}

// SetMode sets yaw position control and requests an integral reset on the
// next cycle. The reset request is cleared once applied.
func (a *AttitudeTask) SetMode(controlYaw, resetIntegral bool) {
	a.controlYaw = controlYaw
	if resetIntegral {
		a.resetPending = true
	}
}

// SetRateSource makes every cycle read body rates from src
func (a *AttitudeTask) SetRateSource(src RateSource) {
	a.rates = src
}

// SetOutput replaces the function receiving each rate setpoint
func (a *AttitudeTask) SetOutput(output func(flight.RateSetpoint)) {
	a.output = output
}

func (a *AttitudeTask) fire(t *Timer) uint8 {
	if !a.running {
		return SF_DONE
	}

	a.Step()

	t.WakeTime += a.period
	if !timeBefore(currentTime, t.WakeTime) {
		// Fell behind: skip the missed cycles instead of bursting
		RecordTiming(EvtLoopOverrun, 0, currentTime, currentTime-t.WakeTime, 0)
		t.WakeTime = currentTime + a.period
	}
	return SF_RESCHEDULE
}

// Step runs one control cycle with the stored inputs
func (a *AttitudeTask) Step() flight.RateSetpoint {
	if a.rates != nil {
		if roll, pitch, yaw, ok := a.rates.ReadRates(); ok {
			a.state.RollSpeed = roll
			a.state.PitchSpeed = pitch
			a.state.YawSpeed = yaw
		}
	}

	reset := a.resetPending
	a.resetPending = false
	cycle := a.ctrl.Cycles()
	refreshes := a.ctrl.Refreshes()

	out := a.ctrl.Evaluate(a.setpoint, a.state, a.controlYaw, reset)

	if a.ctrl.Refreshes() != refreshes {
		RecordTiming(EvtParamRefresh, 0, GetTime(), uint32(cycle), 0)
	}
	if reset {
		RecordTiming(EvtIntegralReset, 0, GetTime(), uint32(cycle), 0)
	}
	if a.output != nil {
		a.output(out)
	}
	return out
}

func sendRates(out flight.RateSetpoint) {
	SendResponse("rates_setpoint", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(out.Timestamp))
		protocol.EncodeVLQFloat(output, out.Roll)
		protocol.EncodeVLQFloat(output, out.Pitch)
		protocol.EncodeVLQFloat(output, out.Yaw)
		protocol.EncodeVLQFloat(output, out.Thrust)
	})
}

// InitAttitudeCommands defines the tuning parameters, creates the attitude
// task and registers its commands. A nil cfg uses the built-in defaults.
func InitAttitudeCommands(cfg *flight.ControllerConfig) *AttitudeTask {
	if cfg == nil {
		cfg = &flight.ControllerConfig{}
	}

	defaults := attitude.ParametersFromMap(attitude.DefaultParameters(), cfg.Params)
	values := [...]float32{
		defaults.YawP, defaults.YawI, defaults.YawD,
		defaults.AttP, defaults.AttI, defaults.AttD,
	}
	for i, name := range attitude.ParamNames {
		DefineParam(name, values[i])
	}

	ctrl := attitude.New(cfg, globalParams, SystemClock{})
	period := cfg.LoopPeriodUS
	if period == 0 {
		period = attitude.DefaultLoopPeriodUS
	}
	attitudeTask = NewAttitudeTask(ctrl, period)
	OnShutdown(attitudeTask.Stop)

	RegisterCommand("param_list", "", handleParamList)
	RegisterCommand("param_get", "name=%s", handleParamGet)
	RegisterCommand("param_set", "name=%s value=%u", handleParamSet)
	RegisterCommand("attitude_setpoint", "roll=%u pitch=%u yaw=%u thrust=%u", handleAttitudeSetpoint)
	RegisterCommand("attitude_state", "roll=%u pitch=%u yaw=%u rollspeed=%u pitchspeed=%u yawspeed=%u", handleAttitudeState)
	RegisterCommand("attitude_mode", "control_yaw=%c reset_integral=%c", handleAttitudeMode)
	RegisterCommand("attitude_start", "period=%u", handleAttitudeStart)
	RegisterCommand("attitude_stop", "", handleAttitudeStop)
	RegisterCommand("attitude_query", "", handleAttitudeQuery)

	RegisterResponse("param_value", "index=%u name=%s value=%u")
	RegisterResponse("param_error", "name=%s")
	RegisterResponse("rates_setpoint", "clock=%u roll=%u pitch=%u yaw=%u thrust=%u")
	RegisterResponse("attitude_status", "running=%c cycles=%u refreshes=%u")

	RegisterConstant("ATTITUDE_REFRESH_INTERVAL", ctrl.RefreshInterval())
	RegisterConstant("ATTITUDE_OUTPUT_LIMIT", ctrl.OutputLimit())
	RegisterConstant("ATTITUDE_LOOP_PERIOD_US", period)
	for i, name := range attitude.ParamNames {
		RegisterConstant("PARAM_"+name, values[i])
	}

	return attitudeTask
}

// GetAttitudeTask returns the task created by InitAttitudeCommands
func GetAttitudeTask() *AttitudeTask {
	return attitudeTask
}

func sendParam(h flight.ParamHandle) {
	value, _ := globalParams.Get(h)
	name := globalParams.Name(h)
	SendResponse("param_value", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(h))
		protocol.EncodeVLQString(output, name)
		protocol.EncodeVLQFloat(output, value)
	})
}

func sendParamError(name string) {
	SendResponse("param_error", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQString(output, name)
	})
}

func handleParamList(*[]byte) error {
	for i := 0; i < globalParams.Count(); i++ {
		sendParam(flight.ParamHandle(i))
	}
	return nil
}

func handleParamGet(data *[]byte) error {
	name, err := protocol.DecodeVLQString(data)
	if err != nil {
		return err
	}
	h := globalParams.Find(name)
	if !h.Valid() {
		sendParamError(name)
		return nil
	}
	sendParam(h)
	return nil
}

// handleParamSet applies a new value. The controller picks it up at its next
// refresh cycle.
func handleParamSet(data *[]byte) error {
	name, err := protocol.DecodeVLQString(data)
	if err != nil {
		return err
	}
	value, err := protocol.DecodeVLQFloat(data)
	if err != nil {
		return err
	}

	h := globalParams.Find(name)
	if !globalParams.Set(h, value) {
		sendParamError(name)
		return nil
	}
	RecordTiming(EvtParamSet, 0, GetTime(), uint32(h), 0)
	sendParam(h)
	return nil
}

func decodeFloats(data *[]byte, dst ...*float32) error {
	for _, p := range dst {
		v, err := protocol.DecodeVLQFloat(data)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

func handleAttitudeSetpoint(data *[]byte) error {
	var sp flight.AttitudeSetpoint
	if err := decodeFloats(data, &sp.RollBody, &sp.PitchBody, &sp.YawBody, &sp.Thrust); err != nil {
		return err
	}
	sp.Timestamp = SystemClock{}.NowMicros()
	attitudeTask.SetSetpoint(sp)
	return nil
}

func handleAttitudeState(data *[]byte) error {
	var st flight.AttitudeState
	err := decodeFloats(data, &st.Roll, &st.Pitch, &st.Yaw, &st.RollSpeed, &st.PitchSpeed, &st.YawSpeed)
	if err != nil {
		return err
	}
	st.Timestamp = SystemClock{}.NowMicros()
	attitudeTask.SetState(st)
	return nil
}

func handleAttitudeMode(data *[]byte) error {
	controlYaw, err := protocol.DecodeVLQBool(data)
	if err != nil {
		return err
	}
	resetIntegral, err := protocol.DecodeVLQBool(data)
	if err != nil {
		return err
	}
	attitudeTask.SetMode(controlYaw, resetIntegral)
	return nil
}

func handleAttitudeStart(data *[]byte) error {
	period, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	return attitudeTask.Start(period)
}

func handleAttitudeStop(*[]byte) error {
	attitudeTask.Stop()
	return nil
}

func handleAttitudeQuery(*[]byte) error {
	ctrl := attitudeTask.ctrl
	SendResponse("attitude_status", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQBool(output, attitudeTask.running)
		protocol.EncodeVLQUint(output, uint32(ctrl.Cycles()))
		protocol.EncodeVLQUint(output, uint32(ctrl.Refreshes()))
	})
	return nil
}
