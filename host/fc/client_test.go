package fc

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopilot/core"
	"gopilot/flight"
	"gopilot/flight/attitude"
	"gopilot/flight/config"
	"gopilot/protocol"
)

var firmwareOnce sync.Once

// bootFirmware registers the firmware commands the way a target does
func bootFirmware() {
	firmwareOnce.Do(func() {
		core.InitCoreCommands()
		core.InitAttitudeCommands(config.DefaultConfig())
		core.GetGlobalDictionary().BuildDictionary()
	})
}

// firmwarePort runs the firmware command loop behind an in-memory port
type firmwarePort struct {
	mu      sync.Mutex
	tr      *protocol.Transport
	out     *protocol.ScratchOutput
	pending chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFirmwarePort() *firmwarePort {
	p := &firmwarePort{
		out:     protocol.NewScratchOutput(),
		pending: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
	p.tr = protocol.NewTransport(p.out, core.DispatchCommand)
	core.SetGlobalTransport(p.tr)
	return p
}

func (p *firmwarePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tr.Receive(protocol.NewSliceInputBuffer(append([]byte(nil), b...)))
	p.flushLocked()
	return len(b), nil
}

func (p *firmwarePort) Read(b []byte) (int, error) {
	select {
	case data := <-p.pending:
		return copy(b, data), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *firmwarePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *firmwarePort) Flush() error { return nil }

// advance moves firmware time forward and runs due timers
func (p *firmwarePort) advance(us uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	core.SetTime(core.GetTime() + us)
	core.ProcessTimers()
	p.flushLocked()
}

func (p *firmwarePort) flushLocked() {
	if p.out.CurPosition() == 0 {
		return
	}
	p.pending <- append([]byte(nil), p.out.Result()...)
	p.out.Reset()
}

func connect(t *testing.T) (*Client, *firmwarePort) {
	t.Helper()

	bootFirmware()
	core.ResetFirmwareState()
	core.GetGlobalParams().ResetDefaults()

	port := newFirmwarePort()
	c := NewClient()
	c.ConnectPort(port)
	t.Cleanup(func() {
		assert.NoError(t, c.Close())
		core.SetGlobalTransport(nil)
	})

	require.NoError(t, c.RetrieveDictionary())
	return c, port
}

func TestRetrieveDictionary(t *testing.T) {
	c, _ := connect(t)

	dict := c.Dictionary()
	require.NotNil(t, dict)
	assert.Equal(t, "gopilot-0.1.0", dict.Version)
	assert.Equal(t, byte(0x78), c.DictionaryRaw()[0], "dictionary should arrive compressed")
	assert.Contains(t, dict.Commands, "param_set name=%s value=%u")
	assert.Equal(t, "500", dict.Config["ATTITUDE_REFRESH_INTERVAL"])
	assert.Equal(t, []string{"att_d", "att_i", "att_p", "yaw_d", "yaw_i", "yaw_p"}, dict.ParamNames())
}

func TestParams(t *testing.T) {
	c, _ := connect(t)

	params, err := c.ListParams()
	require.NoError(t, err)
	require.Len(t, params, len(attitude.ParamNames))
	for i, p := range params {
		assert.Equal(t, uint32(i), p.Index)
		assert.Equal(t, attitude.ParamNames[i], p.Name)
	}
	assert.Equal(t, float32(6.8), params[3].Value)

	require.NoError(t, c.SetParam(attitude.ParamAttP, 5))
	v, err := c.GetParam(attitude.ParamAttP)
	require.NoError(t, err)
	assert.Equal(t, float32(5), v)

	_, err = c.GetParam("att_q")
	assert.ErrorIs(t, err, ErrParamRejected)
	assert.ErrorIs(t, c.SetParam(attitude.ParamAttI, math32.NaN()), ErrParamRejected)
}

func TestPushConfig(t *testing.T) {
	c, _ := connect(t)

	state, err := c.QueryConfig()
	require.NoError(t, err)
	assert.False(t, state.Configured)

	cfg := config.DefaultConfig()
	cfg.Params[attitude.ParamAttI] = 0.2
	require.NoError(t, c.PushConfig(cfg))

	state, err = c.QueryConfig()
	require.NoError(t, err)
	assert.True(t, state.Configured)
	assert.Equal(t, ConfigCRC(cfg), state.CRC)

	v, err := c.GetParam(attitude.ParamAttI)
	require.NoError(t, err)
	assert.Equal(t, float32(0.2), v)
	assert.NotEqual(t, ConfigCRC(config.DefaultConfig()), ConfigCRC(cfg))
}

func TestPushConfigReportsRejectedParams(t *testing.T) {
	c, _ := connect(t)

	cfg := &flight.ControllerConfig{Params: map[string]float32{
		attitude.ParamAttP: math32.Inf(1),
		attitude.ParamYawP: math32.NaN(),
	}}
	err := c.PushConfig(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParamRejected)

	state, err := c.QueryConfig()
	require.NoError(t, err)
	assert.False(t, state.Configured)
}

func TestAttitudeLoopStream(t *testing.T) {
	c, port := connect(t)

	before, err := c.QueryStatus()
	require.NoError(t, err)
	assert.False(t, before.Running)

	require.NoError(t, c.SendSetpoint(flight.AttitudeSetpoint{PitchBody: 0.1, Thrust: 0.4}))
	require.NoError(t, c.SendState(flight.AttitudeState{}))
	require.NoError(t, c.SetMode(false, true))
	require.NoError(t, c.StartLoop(0))

	port.advance(attitude.DefaultLoopPeriodUS)
	port.advance(attitude.DefaultLoopPeriodUS)

	for i := 0; i < 2; i++ {
		rates, err := c.NextRates(time.Second)
		require.NoError(t, err)
		assert.InDelta(t, 0.68, rates.Pitch, 1e-5)
		assert.Equal(t, float32(0), rates.Roll)
		assert.Equal(t, float32(0.4), rates.Thrust)
	}

	status, err := c.QueryStatus()
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, before.Cycles+2, status.Cycles)

	require.NoError(t, c.StopLoop())
	port.advance(attitude.DefaultLoopPeriodUS)
	_, err = c.NextRates(50 * time.Millisecond)
	assert.Error(t, err)

	status, err = c.QueryStatus()
	require.NoError(t, err)
	assert.False(t, status.Running)
}

func TestEmergencyStop(t *testing.T) {
	c, _ := connect(t)

	require.NoError(t, c.EmergencyStop())
	state, err := c.QueryConfig()
	require.NoError(t, err)
	assert.True(t, state.Shutdown)

	// The firmware acks but refuses to start
	require.NoError(t, c.StartLoop(0))
	status, err := c.QueryStatus()
	require.NoError(t, err)
	assert.False(t, status.Running)
}

func TestSendCommandErrors(t *testing.T) {
	assert.ErrorIs(t, NewClient().SendCommand("attitude_stop"), ErrNotConnected)
	assert.ErrorIs(t, NewClient().RetrieveDictionary(), ErrNotConnected)

	c, _ := connect(t)
	assert.ErrorIs(t, c.SendCommand("take_off"), ErrUnknownCommand)
	assert.EqualError(t, c.SendCommand("attitude_start"), "attitude_start takes 1 arguments, got 0")
	assert.Error(t, c.SendCommand("param_get", 3.5))
}
