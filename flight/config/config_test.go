package config

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"gopilot/flight"
	"gopilot/flight/attitude"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig([]byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig([]byte(`{
		"refresh_interval": 100,
		"output_limit": 250,
		"loop_period_us": 2500,
		"params": {"att_p": 4.5, "yaw_d": 0.1}
	}`))
	require.NoError(t, err)

	assert.Equal(t, uint32(100), cfg.RefreshInterval)
	assert.Equal(t, float32(250), cfg.OutputLimit)
	assert.Equal(t, float32(attitude.DefaultIntegralLimit), cfg.IntegralLimit)
	assert.Equal(t, uint32(2500), cfg.LoopPeriodUS)

	assert.Equal(t, float32(4.5), cfg.Params[attitude.ParamAttP])
	assert.Equal(t, float32(0.1), cfg.Params[attitude.ParamYawD])
	assert.Equal(t, float32(2.0), cfg.Params[attitude.ParamYawP])
	assert.Len(t, cfg.Params, len(attitude.ParamNames))
}

func TestLoadConfigMalformed(t *testing.T) {
	_, err := LoadConfig([]byte(`{"refresh_interval": "often"}`))
	assert.Error(t, err)
}

func TestLoadConfigCollectsAllErrors(t *testing.T) {
	_, err := LoadConfig([]byte(`{
		"output_limit": -1,
		"integral_limit": -5,
		"loop_period_us": 10,
		"params": {"att_q": 1, "yaw_x": 2}
	}`))
	require.Error(t, err)

	assert.Len(t, multierr.Errors(err), 5)
	assert.Contains(t, err.Error(), `unknown parameter "att_q"`)
	assert.Contains(t, err.Error(), "output_limit")
}

func TestValidateNonFiniteGain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Params[attitude.ParamAttI] = math32.NaN()
	cfg.OutputLimit = math32.Inf(1)

	err := Validate(cfg)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
}

func TestValidateAcceptsZeroValues(t *testing.T) {
	assert.NoError(t, Validate(&flight.ControllerConfig{}))
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestConfigDrivesController(t *testing.T) {
	cfg, err := LoadConfig([]byte(`{"refresh_interval": 7, "output_limit": 0.5}`))
	require.NoError(t, err)

	c := attitude.New(cfg, emptyStore{}, zeroClock{})
	out := c.Evaluate(flight.AttitudeSetpoint{PitchBody: 1}, flight.AttitudeState{}, false, false)

	assert.Equal(t, uint32(7), c.RefreshInterval())
	assert.Equal(t, float32(0.5), out.Pitch)
}

type emptyStore struct{}

func (emptyStore) Find(string) flight.ParamHandle { return flight.InvalidParam }
func (emptyStore) Get(flight.ParamHandle) (float32, bool) { return 0, false }

type zeroClock struct{}

func (zeroClock) NowMicros() uint64 { return 0 }
