// Package flight holds the plain data records exchanged by the attitude
// control loop and the configuration it runs with.
package flight

// AttitudeSetpoint is the desired vehicle orientation produced upstream
type AttitudeSetpoint struct {
	RollBody  float32 // Desired roll (rad)
	PitchBody float32 // Desired pitch (rad)
	YawBody   float32 // Desired yaw (rad)
	Thrust    float32 // Collective thrust (0..1)
	Timestamp uint64  // Time of generation (us)
}

// AttitudeState is the measured orientation produced by the estimator
type AttitudeState struct {
	Roll       float32 // rad
	Pitch      float32 // rad
	Yaw        float32 // rad
	RollSpeed  float32 // rad/s
	PitchSpeed float32 // rad/s
	YawSpeed   float32 // rad/s
	Timestamp  uint64  // us
}

// RateSetpoint is the body-rate command consumed by the rate controller and mixer
type RateSetpoint struct {
	Roll      float32 // Desired roll rate (rad/s)
	Pitch     float32 // Desired pitch rate (rad/s)
	Yaw       float32 // Desired yaw rate (rad/s)
	Thrust    float32 // Passed through from the attitude setpoint
	Timestamp uint64  // Time the command was produced (us)
}

// ControllerParameters is the cached copy of the attitude tuning gains
type ControllerParameters struct {
	YawP float32
	YawI float32 // Reserved, the yaw law has no integral term
	YawD float32
	AttP float32
	AttI float32
	AttD float32
}

// ControllerConfig represents the attitude controller configuration
type ControllerConfig struct {
	RefreshInterval uint32             `json:"refresh_interval"` // Cycles between parameter refreshes
	OutputLimit     float32            `json:"output_limit"`     // Symmetric pitch/roll output clamp (rad/s)
	IntegralLimit   float32            `json:"integral_limit"`   // Symmetric pitch/roll integral clamp
	LoopPeriodUS    uint32             `json:"loop_period_us"`   // Control loop period (us)
	Params          map[string]float32 `json:"params"`           // Tuning gains by parameter name
}

// ParamHandle identifies a registered tuning parameter
type ParamHandle int32

// InvalidParam is returned when a parameter name is not registered
const InvalidParam ParamHandle = -1

// Valid reports whether the handle refers to a registered parameter
func (h ParamHandle) Valid() bool {
	return h >= 0
}
