// Package fc talks to the gopilot flight controller firmware: it fetches the
// dictionary, tunes parameters, streams attitude inputs and collects the
// rate setpoints the attitude loop produces.
package fc

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.uber.org/multierr"

	"gopilot/flight"
	"gopilot/flight/attitude"
	"gopilot/host/serial"
	"gopilot/protocol"
)

var (
	ErrNotConnected   = errors.New("not connected to flight controller")
	ErrNoDictionary   = errors.New("dictionary not loaded")
	ErrUnknownCommand = errors.New("command not in dictionary")
)

// Identify is fixed so the dictionary can be fetched before it is known
const (
	identifyResponseID = 0
	identifyID         = 1
	identifyChunk      = 40
)

// DefaultResponseTimeout bounds how long a request waits for its reply
const DefaultResponseTimeout = time.Second

// Response is a decoded firmware message
type Response struct {
	Name string
	Args []byte
}

// waiter collects replies for the request in flight
type waiter struct {
	names map[string]bool
	ch    chan Response
}

// Client is a connection to the flight controller
type Client struct {
	port      serial.Port
	transport *protocol.HostTransport
	timeout   time.Duration

	dict    *Dictionary
	dictRaw []byte
	byName  map[string]*message
	byID    map[uint16]*message

	reqMu   sync.Mutex
	mu      sync.Mutex
	waiting *waiter

	rates chan flight.RateSetpoint
}

// NewClient creates an unconnected client
func NewClient() *Client {
	return &Client{
		timeout: DefaultResponseTimeout,
		rates:   make(chan flight.RateSetpoint, 256),
	}
}

// Connect opens device with the default serial settings
func (c *Client) Connect(device string) error {
	return c.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig opens a serial port with cfg
func (c *Client) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return err
	}
	if err := port.Flush(); err != nil {
		glog.Warningf("flush %s: %v", cfg.Device, err)
	}
	c.ConnectPort(port)

	// Give a freshly enumerated device time to start its command loop
	time.Sleep(100 * time.Millisecond)
	return nil
}

// ConnectPort runs the protocol over an already open port
func (c *Client) ConnectPort(port serial.Port) {
	c.port = port
	c.transport = protocol.NewHostTransport(port)
}

// SetTimeout changes how long requests wait for their reply
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Close shuts the link down
func (c *Client) Close() error {
	if c.transport == nil {
		return nil
	}
	err := multierr.Combine(
		c.port.Flush(),
		c.transport.Close(),
	)
	c.transport = nil
	return err
}

// IsConnected reports whether a port is attached
func (c *Client) IsConnected() bool {
	return c.transport != nil
}

// RetrieveDictionary fetches and parses the firmware dictionary. It must
// run before any command is sent by name.
func (c *Client) RetrieveDictionary() error {
	if c.transport == nil {
		return ErrNotConnected
	}

	var raw bytes.Buffer
	for offset := uint32(0); ; {
		chunk, err := c.identify(offset)
		if err != nil {
			return fmt.Errorf("dictionary chunk at %d: %w", offset, err)
		}
		raw.Write(chunk)
		offset += uint32(len(chunk))
		if len(chunk) < identifyChunk {
			break
		}
	}
	glog.V(1).Infof("dictionary: %d bytes", raw.Len())

	dict, err := ParseDictionary(raw.Bytes())
	if err != nil {
		return err
	}
	byName, byID, err := dict.index()
	if err != nil {
		return fmt.Errorf("index dictionary: %w", err)
	}

	c.dict = dict
	c.dictRaw = raw.Bytes()
	c.byName = byName
	c.byID = byID
	c.transport.SetResponseHandler(c.handleResponse)

	glog.Infof("connected to %s (%d commands, %d responses)", dict.Version, len(dict.Commands), len(dict.Responses))
	return nil
}

// identify requests one dictionary chunk
func (c *Client) identify(offset uint32) ([]byte, error) {
	err := c.transport.SendCommand(identifyID, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, identifyChunk)
	})
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.timeout)
	for {
		resp, err := c.transport.ReceiveResponse(time.Until(deadline))
		if err != nil {
			return nil, err
		}
		id, args, err := resp.ID()
		if err != nil || id != identifyResponseID {
			continue
		}

		got, err := protocol.DecodeVLQUint(&args)
		if err != nil {
			return nil, fmt.Errorf("identify_response offset: %w", err)
		}
		if got != offset {
			glog.V(1).Infof("skipping identify_response for offset %d", got)
			continue
		}
		data, err := protocol.DecodeVLQBytes(&args)
		if err != nil {
			return nil, fmt.Errorf("identify_response data: %w", err)
		}
		return append([]byte(nil), data...), nil
	}
}

// Dictionary returns the parsed dictionary, or nil before RetrieveDictionary
func (c *Client) Dictionary() *Dictionary {
	return c.dict
}

// DictionaryRaw returns the dictionary bytes as served by the firmware
func (c *Client) DictionaryRaw() []byte {
	return c.dictRaw
}

// SendCommand sends a command by name. args must match the signature in
// the dictionary; float32 values may be passed for %u fields.
func (c *Client) SendCommand(name string, args ...interface{}) error {
	if c.transport == nil {
		return ErrNotConnected
	}
	if c.dict == nil {
		return ErrNoDictionary
	}
	msg, ok := c.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	body := protocol.NewScratchOutput()
	if err := msg.encode(body, args); err != nil {
		return err
	}
	return c.transport.SendCommand(msg.id, func(output protocol.OutputBuffer) {
		output.Output(body.Result())
	})
}

// request sends a command and collects count replies named in want
func (c *Client) request(count int, want []string, name string, args ...interface{}) ([]Response, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	w := &waiter{names: make(map[string]bool), ch: make(chan Response, count+8)}
	for _, n := range want {
		w.names[n] = true
	}
	c.mu.Lock()
	c.waiting = w
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.waiting = nil
		c.mu.Unlock()
	}()

	if err := c.SendCommand(name, args...); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	replies := make([]Response, 0, count)
	for len(replies) < count {
		select {
		case r := <-w.ch:
			replies = append(replies, r)
		case <-timer.C:
			return replies, fmt.Errorf("%s: got %d of %d replies before timeout", name, len(replies), count)
		}
	}
	return replies, nil
}

// handleResponse runs on the transport read loop
func (c *Client) handleResponse(id uint16, data *[]byte) error {
	msg, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("response id %d not in dictionary", id)
	}
	args := append([]byte(nil), (*data)...)

	if msg.name == "rates_setpoint" {
		rates, err := DecodeRates(args)
		if err != nil {
			return err
		}
		select {
		case c.rates <- rates:
		default:
			glog.V(2).Info("rate queue full, dropping oldest")
			select {
			case <-c.rates:
			default:
			}
			c.rates <- rates
		}
		return nil
	}

	c.mu.Lock()
	w := c.waiting
	c.mu.Unlock()
	if w != nil && w.names[msg.name] {
		select {
		case w.ch <- Response{Name: msg.name, Args: args}:
		default:
			glog.Warningf("dropping %s: reply queue full", msg.name)
		}
		return nil
	}

	if glog.V(1) {
		fields, err := msg.decode(args)
		if err != nil {
			return err
		}
		glog.Infof("unsolicited %s %v", msg.name, fields)
	}
	return nil
}

// paramReply turns a param_value or param_error reply into a result
func paramReply(r Response) (ParamValue, error) {
	if r.Name == "param_error" {
		name, _ := protocol.DecodeVLQString(&r.Args)
		return ParamValue{Name: name}, fmt.Errorf("%w: %s", ErrParamRejected, name)
	}
	return DecodeParamValue(r.Args)
}

// ListParams returns every tuning parameter in handle order
func (c *Client) ListParams() ([]ParamValue, error) {
	if c.dict == nil {
		return nil, ErrNoDictionary
	}
	replies, err := c.request(len(c.dict.ParamNames()), []string{"param_value"}, "param_list")
	if err != nil {
		return nil, err
	}

	params := make([]ParamValue, 0, len(replies))
	for _, r := range replies {
		p, err := DecodeParamValue(r.Args)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Index < params[j].Index })
	return params, nil
}

// GetParam reads one tuning parameter
func (c *Client) GetParam(name string) (float32, error) {
	replies, err := c.request(1, []string{"param_value", "param_error"}, "param_get", name)
	if err != nil {
		return 0, err
	}
	p, err := paramReply(replies[0])
	return p.Value, err
}

// SetParam changes a tuning parameter. The attitude loop applies it at its
// next parameter refresh.
func (c *Client) SetParam(name string, value float32) error {
	replies, err := c.request(1, []string{"param_value", "param_error"}, "param_set", name, value)
	if err != nil {
		return err
	}
	_, err = paramReply(replies[0])
	return err
}

// ConfigCRC identifies a parameter set so an unchanged configuration need
// not be pushed again
func ConfigCRC(cfg *flight.ControllerConfig) uint32 {
	h := crc32.NewIEEE()
	for _, name := range attitude.ParamNames {
		value, ok := cfg.Params[name]
		if !ok {
			continue
		}
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write(strconv.AppendFloat(nil, float64(value), 'g', -1, 32))
		h.Write([]byte{'\n'})
	}
	return h.Sum32()
}

// PushConfig writes every gain in cfg and marks the configuration final.
// All rejected parameters are reported together and the configuration is
// left unfinalized.
func (c *Client) PushConfig(cfg *flight.ControllerConfig) error {
	var err error
	for _, name := range attitude.ParamNames {
		value, ok := cfg.Params[name]
		if !ok {
			continue
		}
		err = multierr.Append(err, c.SetParam(name, value))
	}
	if err != nil {
		return err
	}
	return c.SendCommand("finalize_config", ConfigCRC(cfg))
}

// QueryConfig reports whether a configuration has been pushed and its CRC
func (c *Client) QueryConfig() (ConfigState, error) {
	replies, err := c.request(1, []string{"config"}, "get_config")
	if err != nil {
		return ConfigState{}, err
	}
	return DecodeConfigState(replies[0].Args)
}

// SendSetpoint sends the desired attitude used by following cycles
func (c *Client) SendSetpoint(sp flight.AttitudeSetpoint) error {
	return c.SendCommand("attitude_setpoint", sp.RollBody, sp.PitchBody, sp.YawBody, sp.Thrust)
}

// SendState sends the estimator's attitude and body rates
func (c *Client) SendState(st flight.AttitudeState) error {
	return c.SendCommand("attitude_state", st.Roll, st.Pitch, st.Yaw, st.RollSpeed, st.PitchSpeed, st.YawSpeed)
}

// SetMode enables yaw position control and optionally clears the integrals
// on the next cycle
func (c *Client) SetMode(controlYaw, resetIntegral bool) error {
	return c.SendCommand("attitude_mode", controlYaw, resetIntegral)
}

// StartLoop starts the attitude loop. A zero period uses the firmware default.
func (c *Client) StartLoop(periodUS uint32) error {
	return c.SendCommand("attitude_start", periodUS)
}

// StopLoop stops the attitude loop
func (c *Client) StopLoop() error {
	return c.SendCommand("attitude_stop")
}

// EmergencyStop shuts the firmware down until it is reset
func (c *Client) EmergencyStop() error {
	return c.SendCommand("emergency_stop")
}

// QueryStatus reads the attitude loop summary
func (c *Client) QueryStatus() (Status, error) {
	replies, err := c.request(1, []string{"attitude_status"}, "attitude_query")
	if err != nil {
		return Status{}, err
	}
	return DecodeStatus(replies[0].Args)
}

// NextRates waits for the next rate setpoint produced by the loop
func (c *Client) NextRates(timeout time.Duration) (flight.RateSetpoint, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-c.rates:
		return r, nil
	case <-timer.C:
		return flight.RateSetpoint{}, fmt.Errorf("no rate setpoint within %v", timeout)
	}
}
