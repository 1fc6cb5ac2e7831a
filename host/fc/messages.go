package fc

import (
	"errors"
	"fmt"

	"gopilot/flight"
	"gopilot/protocol"
)

// ErrParamRejected is returned when the firmware answers with param_error
var ErrParamRejected = errors.New("parameter rejected by firmware")

// ParamValue is one tuning parameter as reported by the firmware
type ParamValue struct {
	Index uint32
	Name  string
	Value float32
}

// Status is the attitude loop summary returned by attitude_query
type Status struct {
	Running   bool
	Cycles    uint32
	Refreshes uint32
}

// ConfigState is the reply to get_config
type ConfigState struct {
	Configured bool
	CRC        uint32
	Shutdown   bool
}

// DecodeParamValue decodes the arguments of a param_value response
func DecodeParamValue(args []byte) (ParamValue, error) {
	var p ParamValue
	var err error
	if p.Index, err = protocol.DecodeVLQUint(&args); err != nil {
		return p, fmt.Errorf("param_value index: %w", err)
	}
	if p.Name, err = protocol.DecodeVLQString(&args); err != nil {
		return p, fmt.Errorf("param_value name: %w", err)
	}
	if p.Value, err = protocol.DecodeVLQFloat(&args); err != nil {
		return p, fmt.Errorf("param_value value: %w", err)
	}
	return p, nil
}

// DecodeRates decodes a rates_setpoint response. Timestamp holds the
// firmware clock of the cycle that produced it.
func DecodeRates(args []byte) (flight.RateSetpoint, error) {
	var r flight.RateSetpoint
	clock, err := protocol.DecodeVLQUint(&args)
	if err != nil {
		return r, fmt.Errorf("rates_setpoint clock: %w", err)
	}
	r.Timestamp = uint64(clock)

	for _, dst := range []*float32{&r.Roll, &r.Pitch, &r.Yaw, &r.Thrust} {
		if *dst, err = protocol.DecodeVLQFloat(&args); err != nil {
			return r, fmt.Errorf("rates_setpoint: %w", err)
		}
	}
	return r, nil
}

// DecodeStatus decodes an attitude_status response
func DecodeStatus(args []byte) (Status, error) {
	var s Status
	var err error
	if s.Running, err = protocol.DecodeVLQBool(&args); err != nil {
		return s, fmt.Errorf("attitude_status running: %w", err)
	}
	if s.Cycles, err = protocol.DecodeVLQUint(&args); err != nil {
		return s, fmt.Errorf("attitude_status cycles: %w", err)
	}
	if s.Refreshes, err = protocol.DecodeVLQUint(&args); err != nil {
		return s, fmt.Errorf("attitude_status refreshes: %w", err)
	}
	return s, nil
}

// DecodeConfigState decodes a config response
func DecodeConfigState(args []byte) (ConfigState, error) {
	var c ConfigState
	var err error
	if c.Configured, err = protocol.DecodeVLQBool(&args); err != nil {
		return c, fmt.Errorf("config is_config: %w", err)
	}
	if c.CRC, err = protocol.DecodeVLQUint(&args); err != nil {
		return c, fmt.Errorf("config crc: %w", err)
	}
	if c.Shutdown, err = protocol.DecodeVLQBool(&args); err != nil {
		return c, fmt.Errorf("config is_shutdown: %w", err)
	}
	return c, nil
}
