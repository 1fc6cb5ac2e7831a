package fc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopilot/protocol"
)

func encode(fn func(o protocol.OutputBuffer)) []byte {
	out := protocol.NewScratchOutput()
	fn(out)
	return append([]byte(nil), out.Result()...)
}

func TestDecodeParamValue(t *testing.T) {
	args := encode(func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, 3)
		protocol.EncodeVLQString(o, "att_p")
		protocol.EncodeVLQFloat(o, 6.8)
	})

	p, err := DecodeParamValue(args)
	require.NoError(t, err)
	assert.Equal(t, ParamValue{Index: 3, Name: "att_p", Value: 6.8}, p)

	_, err = DecodeParamValue(args[:3])
	assert.Error(t, err)
}

func TestDecodeRates(t *testing.T) {
	args := encode(func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, 123456)
		for _, v := range []float32{-0.5, 0.68, 1, 0.4} {
			protocol.EncodeVLQFloat(o, v)
		}
	})

	r, err := DecodeRates(args)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), r.Timestamp)
	assert.Equal(t, float32(-0.5), r.Roll)
	assert.Equal(t, float32(0.68), r.Pitch)
	assert.Equal(t, float32(1), r.Yaw)
	assert.Equal(t, float32(0.4), r.Thrust)

	_, err = DecodeRates(args[:len(args)-1])
	assert.Error(t, err)
}

func TestDecodeStatusAndConfig(t *testing.T) {
	s, err := DecodeStatus(encode(func(o protocol.OutputBuffer) {
		protocol.EncodeVLQBool(o, true)
		protocol.EncodeVLQUint(o, 1200)
		protocol.EncodeVLQUint(o, 3)
	}))
	require.NoError(t, err)
	assert.Equal(t, Status{Running: true, Cycles: 1200, Refreshes: 3}, s)

	c, err := DecodeConfigState(encode(func(o protocol.OutputBuffer) {
		protocol.EncodeVLQBool(o, true)
		protocol.EncodeVLQUint(o, 0xCAFE)
		protocol.EncodeVLQBool(o, false)
	}))
	require.NoError(t, err)
	assert.Equal(t, ConfigState{Configured: true, CRC: 0xCAFE}, c)
}

func TestParseSignature(t *testing.T) {
	msg, err := parseSignature("identify_response offset=%u data=%*s", 0)
	require.NoError(t, err)
	assert.Equal(t, "identify_response", msg.name)
	assert.Equal(t, []argument{{"offset", "u"}, {"data", "*s"}}, msg.args)

	msg, err = parseSignature("attitude_stop", 12)
	require.NoError(t, err)
	assert.Equal(t, uint16(12), msg.id)
	assert.Empty(t, msg.args)

	_, err = parseSignature("bad offset", 1)
	assert.Error(t, err)
	_, err = parseSignature("bad value=%f", 1)
	assert.Error(t, err)
}

func TestMessageEncodeDecode(t *testing.T) {
	msg, err := parseSignature("mixed count=%u delta=%i flag=%c name=%s blob=%*s", 7)
	require.NoError(t, err)

	out := protocol.NewScratchOutput()
	require.NoError(t, msg.encode(out, []interface{}{uint32(9), int32(-4), true, "yaw_p", []byte{1, 2}}))

	fields, err := msg.decode(out.Result())
	require.NoError(t, err)
	assert.Equal(t, uint32(9), fields["count"])
	assert.Equal(t, int32(-4), fields["delta"])
	assert.Equal(t, uint32(1), fields["flag"])
	assert.Equal(t, "yaw_p", fields["name"])
	assert.Equal(t, []byte{1, 2}, fields["blob"])

	assert.Error(t, msg.encode(out, []interface{}{uint32(1)}))
	assert.Error(t, msg.encode(out, []interface{}{"x", int32(0), true, "", nil}))
}

func TestParseDictionaryPlainJSON(t *testing.T) {
	dict, err := ParseDictionary([]byte(`{"version":"v","config":{"PARAM_b":"1","PARAM_a":"2","X":"3"},"commands":{"a x=%u":1},"responses":{}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, dict.ParamNames())

	byName, byID, err := dict.index()
	require.NoError(t, err)
	assert.Same(t, byName["a"], byID[1])

	_, err = ParseDictionary([]byte("not json"))
	assert.Error(t, err)
}
