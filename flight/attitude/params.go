package attitude

import "gopilot/flight"

// Tuning parameter names
const (
	ParamYawP = "yaw_p"
	ParamYawI = "yaw_i"
	ParamYawD = "yaw_d"
	ParamAttP = "att_p"
	ParamAttI = "att_i"
	ParamAttD = "att_d"
)

// Controller defaults
const (
	DefaultRefreshInterval = 500
	DefaultOutputLimit     = 1000
	DefaultIntegralLimit   = 1000
	DefaultLoopPeriodUS    = 4000
)

// ParamNames lists the tuning parameters in registration order
var ParamNames = [numParams]string{
	ParamYawP, ParamYawI, ParamYawD,
	ParamAttP, ParamAttI, ParamAttD,
}

const numParams = 6

// DefaultParameters returns the built-in tuning gains
func DefaultParameters() flight.ControllerParameters {
	return flight.ControllerParameters{
		YawP: 2.0,
		YawI: 0.15,
		YawD: 0.0,
		AttP: 6.8,
		AttI: 0.0,
		AttD: 0.0,
	}
}

// DefaultParams returns the built-in tuning gains keyed by parameter name
func DefaultParams() map[string]float32 {
	p := DefaultParameters()
	return map[string]float32{
		ParamYawP: p.YawP,
		ParamYawI: p.YawI,
		ParamYawD: p.YawD,
		ParamAttP: p.AttP,
		ParamAttI: p.AttI,
		ParamAttD: p.AttD,
	}
}

// DefaultConfig returns the built-in controller configuration
func DefaultConfig() *flight.ControllerConfig {
	return &flight.ControllerConfig{
		RefreshInterval: DefaultRefreshInterval,
		OutputLimit:     DefaultOutputLimit,
		IntegralLimit:   DefaultIntegralLimit,
		LoopPeriodUS:    DefaultLoopPeriodUS,
		Params:          DefaultParams(),
	}
}

// paramSlots returns pointers to the cached gains in ParamNames order
func paramSlots(p *flight.ControllerParameters) [numParams]*float32 {
	return [numParams]*float32{
		&p.YawP, &p.YawI, &p.YawD,
		&p.AttP, &p.AttI, &p.AttD,
	}
}

// ParametersFromMap overlays named gains onto base. Unknown names are ignored.
func ParametersFromMap(base flight.ControllerParameters, values map[string]float32) flight.ControllerParameters {
	slots := paramSlots(&base)
	for i, name := range ParamNames {
		if v, ok := values[name]; ok {
			*slots[i] = v
		}
	}
	return base
}
