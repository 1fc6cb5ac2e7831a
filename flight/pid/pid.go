// Package pid provides the PID cell used by the attitude axes.
//
// A cell keeps its gains, limits and accumulated state across calls and is
// evaluated once per control cycle:
//
//	P: proportional to the error between setpoint and measurement.
//	I: the error integrated over time, only accepted while the output and the
//	   integral stay inside their limits (anti-windup).
//	D: depending on Mode, the rate of change of the error, of the negated
//	   measurement, or the negated measured rate supplied by the caller.
//
// Cells are not safe for concurrent use and never allocate.
package pid

import "github.com/chewxy/math32"

// Mode selects how the derivative term is obtained
type Mode uint8

const (
	// DerivativeNone disables the derivative term
	DerivativeNone Mode = iota
	// DerivativeCalc differentiates the error between calls
	DerivativeCalc
	// DerivativeCalcNoSetpoint differentiates the negated measurement between calls
	DerivativeCalcNoSetpoint
	// DerivativeSet uses the negated measurement rate passed to Calculate
	DerivativeSet
)

// Gains below this magnitude are treated as zero
const sigma = 1e-6

// Config holds the settings a cell is initialized with
type Config struct {
	Kp, Ki, Kd    float32
	IntegralLimit float32 // |integral| bound, 0 disables
	OutputLimit   float32 // |output| bound, 0 disables
	Mode          Mode
	DtMin         float32 // Floor applied to dt when differentiating
}

// Controller holds the state for a PID cell
type Controller struct {
	kp, ki, kd    float32
	integralLimit float32
	outputLimit   float32
	mode          Mode
	dtMin         float32

	integral      float32
	errorPrevious float32
	lastOutput    float32
}

// New creates and initializes a new Controller
func New(cfg Config) *Controller {
	c := &Controller{}
	c.Init(cfg)
	return c
}

// Init configures the cell and clears all accumulated state
func (c *Controller) Init(cfg Config) {
	c.kp = cfg.Kp
	c.ki = cfg.Ki
	c.kd = cfg.Kd
	c.integralLimit = cfg.IntegralLimit
	c.outputLimit = cfg.OutputLimit
	c.mode = cfg.Mode
	c.dtMin = cfg.DtMin

	c.integral = 0
	c.errorPrevious = 0
	c.lastOutput = 0
}

// SetParameters updates gains and limits. Mode and accumulated state are kept.
func (c *Controller) SetParameters(kp, ki, kd, integralLimit, outputLimit float32) {
	c.kp = kp
	c.ki = ki
	c.kd = kd
	c.integralLimit = integralLimit
	c.outputLimit = outputLimit
}

// ResetIntegral zeroes the accumulated integral
func (c *Controller) ResetIntegral() {
	c.integral = 0
}

// Calculate runs one PID update and returns the new output.
//
// Non-finite inputs leave the cell untouched and return the previous output.
func (c *Controller) Calculate(setpoint, measurement, measurementRate, dt float32) float32 {
	if !isFinite(setpoint) || !isFinite(measurement) || !isFinite(measurementRate) || !isFinite(dt) {
		return c.lastOutput
	}

	err := setpoint - measurement

	var d float32
	switch c.mode {
	case DerivativeCalc:
		d = (err - c.errorPrevious) / math32.Max(dt, c.dtMin)
		c.errorPrevious = err
	case DerivativeCalcNoSetpoint:
		d = (-measurement - c.errorPrevious) / math32.Max(dt, c.dtMin)
		c.errorPrevious = -measurement
	case DerivativeSet:
		d = -measurementRate
	}
	if !isFinite(d) {
		d = 0
	}

	output := err*c.kp + d*c.kd

	if math32.Abs(c.ki) > sigma {
		i := c.integral + err*dt
		if isFinite(i) && c.withinLimits(output+i*c.ki, i) {
			c.integral = i
		}
		output += c.integral * c.ki
	}

	if isFinite(output) {
		if c.outputLimit > sigma {
			output = constrain(output, -c.outputLimit, c.outputLimit)
		}
		c.lastOutput = output
	}
	return c.lastOutput
}

// withinLimits reports whether a candidate integral keeps the cell unsaturated
func (c *Controller) withinLimits(output, integral float32) bool {
	if c.outputLimit > sigma && math32.Abs(output) > c.outputLimit {
		return false
	}
	if c.integralLimit > sigma && math32.Abs(integral) > c.integralLimit {
		return false
	}
	return true
}

// Integral returns the accumulated error integral
func (c *Controller) Integral() float32 {
	return c.integral
}

// LastOutput returns the output of the most recent finite update
func (c *Controller) LastOutput() float32 {
	return c.lastOutput
}

// Mode returns the derivative mode
func (c *Controller) Mode() Mode {
	return c.mode
}

// Gains returns the proportional, integral and derivative gains
func (c *Controller) Gains() (kp, ki, kd float32) {
	return c.kp, c.ki, c.kd
}

// OutputLimit returns the symmetric output clamp
func (c *Controller) OutputLimit() float32 {
	return c.outputLimit
}

func isFinite(f float32) bool {
	return !math32.IsNaN(f) && !math32.IsInf(f, 0)
}

// constrain clamps value to [min, max]
func constrain(value, min, max float32) float32 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
