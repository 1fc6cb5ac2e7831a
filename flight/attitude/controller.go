// Package attitude implements the multirotor attitude control law.
//
// Each cycle turns an attitude setpoint and the measured attitude into a
// body-rate setpoint. Pitch and roll run through PID cells with the
// derivative taken from the measured rate. Yaw uses a plain
// proportional-derivative law on the wrapped heading error and is only
// recomputed when yaw position control is requested.
//
// A Controller is driven from a single loop and is not safe for concurrent
// use. After Initialize, Evaluate performs no allocation.
package attitude

import (
	"github.com/chewxy/math32"

	"gopilot/flight"
	"gopilot/flight/pid"
)

// ParamStore is the tuning parameter registry the controller reads from
type ParamStore interface {
	// Find resolves a parameter name, returning flight.InvalidParam if unknown
	Find(name string) flight.ParamHandle
	// Get reads a parameter; ok is false for an invalid handle
	Get(h flight.ParamHandle) (value float32, ok bool)
}

// Clock supplies a monotonic microsecond timestamp
type Clock interface {
	NowMicros() uint64
}

// State is the controller lifecycle state
type State uint8

const (
	Uninitialized State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Controller holds all state persisting between control cycles
type Controller struct {
	store ParamStore
	clock Clock

	refreshInterval uint64
	outputLimit     float32
	integralLimit   float32

	state   State
	handles [numParams]flight.ParamHandle
	params  flight.ControllerParameters
	slots   [numParams]*float32

	pitch pid.Controller
	roll  pid.Controller

	output     flight.RateSetpoint
	lastRun    uint64
	lastDeltaT float32
	cycles     uint64
	refreshes  uint64
}

// New creates a controller in the Uninitialized state. A nil cfg uses the
// built-in defaults. Gains in cfg.Params seed the cache and are used for any
// parameter the store cannot provide.
func New(cfg *flight.ControllerConfig, store ParamStore, clock Clock) *Controller {
	c := &Controller{
		store:           store,
		clock:           clock,
		refreshInterval: DefaultRefreshInterval,
		outputLimit:     DefaultOutputLimit,
		integralLimit:   DefaultIntegralLimit,
		params:          DefaultParameters(),
	}

	if cfg != nil {
		if cfg.RefreshInterval > 0 {
			c.refreshInterval = uint64(cfg.RefreshInterval)
		}
		if cfg.OutputLimit > 0 {
			c.outputLimit = cfg.OutputLimit
		}
		if cfg.IntegralLimit > 0 {
			c.integralLimit = cfg.IntegralLimit
		}
		c.params = ParametersFromMap(c.params, cfg.Params)
	}

	c.slots = paramSlots(&c.params)
	for i := range c.handles {
		c.handles[i] = flight.InvalidParam
	}
	return c
}

// Initialize resolves the parameter handles, loads the gains, sets up both
// PID cells and starts the elapsed-time reference. It is a no-op once the
// controller is Running.
func (c *Controller) Initialize() {
	if c.state == Running {
		return
	}

	for i, name := range ParamNames {
		c.handles[i] = c.store.Find(name)
	}
	c.load()

	cell := pid.Config{
		Kp:            c.params.AttP,
		Ki:            c.params.AttI,
		Kd:            c.params.AttD,
		IntegralLimit: c.integralLimit,
		OutputLimit:   c.outputLimit,
		Mode:          pid.DerivativeSet,
	}
	c.pitch.Init(cell)
	c.roll.Init(cell)

	// Seeding from the clock keeps the first cycle's deltaT small instead of
	// measuring time since boot.
	c.lastRun = c.clock.NowMicros()
	c.state = Running
}

// Resync restarts the elapsed-time reference at the current clock so the
// next cycle does not measure a pause in the caller's loop
func (c *Controller) Resync() {
	c.lastRun = c.clock.NowMicros()
}

// Evaluate runs one control cycle and returns the body-rate setpoint.
//
// When controlYaw is false the yaw rate keeps the value from the last cycle
// that computed it. When resetIntegral is true both PID integrals are cleared
// before evaluation.
func (c *Controller) Evaluate(sp flight.AttitudeSetpoint, st flight.AttitudeState, controlYaw, resetIntegral bool) flight.RateSetpoint {
	if c.state != Running {
		c.Initialize()
	}

	now := c.clock.NowMicros()
	var deltaT float32
	if now > c.lastRun {
		deltaT = float32(now-c.lastRun) / 1e6
	}
	c.lastRun = now
	c.lastDeltaT = deltaT

	if c.cycles%c.refreshInterval == 0 {
		c.refresh()
	}

	if resetIntegral {
		c.pitch.ResetIntegral()
		c.roll.ResetIntegral()
	}

	c.output.Pitch = c.pitch.Calculate(sp.PitchBody, st.Pitch, st.PitchSpeed, deltaT)
	c.output.Roll = c.roll.Calculate(sp.RollBody, st.Roll, st.RollSpeed, deltaT)

	if controlYaw {
		c.output.Yaw = YawRate(sp.YawBody, st.Yaw, st.YawSpeed, c.params.YawP, c.params.YawD)
	}

	c.output.Thrust = sp.Thrust
	c.output.Timestamp = c.clock.NowMicros()
	c.cycles++

	return c.output
}

// refresh re-reads the gains and pushes the attitude gains into both cells
func (c *Controller) refresh() {
	c.load()
	c.pitch.SetParameters(c.params.AttP, c.params.AttI, c.params.AttD, c.integralLimit, c.outputLimit)
	c.roll.SetParameters(c.params.AttP, c.params.AttI, c.params.AttD, c.integralLimit, c.outputLimit)
	c.refreshes++
}

// load copies every readable parameter into the cache. Unreadable ones keep
// their previous value.
func (c *Controller) load() {
	for i, h := range c.handles {
		if v, ok := c.store.Get(h); ok {
			*c.slots[i] = v
		}
	}
}

// YawRate computes the yaw-rate command from the heading error and the
// measured yaw rate. No integral term or clamp is applied.
func YawRate(setpoint, measured, rate, kp, kd float32) float32 {
	return kp*WrapPi(setpoint-measured) - kd*rate
}

// WrapPi maps an angle into (-pi, pi]
func WrapPi(x float32) float32 {
	if x > -math32.Pi && x <= math32.Pi {
		return x
	}
	x = math32.Mod(x+math32.Pi, 2*math32.Pi)
	if x <= 0 {
		x += 2 * math32.Pi
	}
	return x - math32.Pi
}

// State returns the lifecycle state
func (c *Controller) State() State {
	return c.state
}

// Params returns a copy of the cached gains
func (c *Controller) Params() flight.ControllerParameters {
	return c.params
}

// Cycles returns the number of completed cycles
func (c *Controller) Cycles() uint64 {
	return c.cycles
}

// Refreshes returns how many cycles reloaded the parameters
func (c *Controller) Refreshes() uint64 {
	return c.refreshes
}

// LastDeltaT returns the elapsed time used by the most recent cycle in seconds
func (c *Controller) LastDeltaT() float32 {
	return c.lastDeltaT
}

// Output returns the most recent rate setpoint
func (c *Controller) Output() flight.RateSetpoint {
	return c.output
}

// RefreshInterval returns the number of cycles between parameter reloads
func (c *Controller) RefreshInterval() uint32 {
	return uint32(c.refreshInterval)
}

// OutputLimit returns the pitch/roll output clamp
func (c *Controller) OutputLimit() float32 {
	return c.outputLimit
}

// Integrals returns the pitch and roll integral accumulators
func (c *Controller) Integrals() (pitch, roll float32) {
	return c.pitch.Integral(), c.roll.Integral()
}
