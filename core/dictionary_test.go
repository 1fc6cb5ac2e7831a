package core

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopilot/protocol"
)

type dictionaryJSON struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations"`
}

func TestDictionaryContents(t *testing.T) {
	resetCore(t)
	InitCoreCommands()
	InitAttitudeCommands(nil)
	RegisterEnumeration("attitude_state", []string{"uninitialized", "running"})

	var dict dictionaryJSON
	require.NoError(t, json.Unmarshal(GetGlobalDictionary().Generate(), &dict))

	assert.Equal(t, "gopilot-0.1.0", dict.Version)
	assert.Equal(t, 0, dict.Responses["identify_response offset=%u data=%*s"])
	assert.Equal(t, 1, dict.Commands["identify offset=%u count=%c"])
	assert.Contains(t, dict.Commands, "param_set name=%s value=%u")
	assert.Contains(t, dict.Responses, "rates_setpoint clock=%u roll=%u pitch=%u yaw=%u thrust=%u")

	assert.Equal(t, "500", dict.Config["ATTITUDE_REFRESH_INTERVAL"])
	assert.Equal(t, "4000", dict.Config["ATTITUDE_LOOP_PERIOD_US"])
	assert.Equal(t, "6.8", dict.Config["PARAM_att_p"])
	assert.Equal(t, 1, dict.Enumerations["attitude_state"]["running"])
}

func TestDictionaryCompressedChunks(t *testing.T) {
	resetCore(t)
	InitCoreCommands()
	InitAttitudeCommands(nil)

	d := GetGlobalDictionary()
	plain := d.Generate()
	d.BuildDictionary()
	compressed := d.Generate()

	r, err := zlib.NewReader(bytes.NewReader(compressed))
	require.NoError(t, err)
	inflated, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, plain, inflated)

	var joined []byte
	for offset := uint32(0); ; offset += 40 {
		chunk := d.GetChunk(offset, 40)
		if len(chunk) == 0 {
			break
		}
		joined = append(joined, chunk...)
	}
	assert.Equal(t, compressed, joined)

	// A later change falls back to plain JSON until rebuilt
	d.AddConstant("LATE", 1)
	assert.Equal(t, byte('{'), d.Generate()[0])
}

func TestIdentifyServesChunks(t *testing.T) {
	out := resetCore(t)
	InitCoreCommands()
	GetGlobalDictionary().BuildDictionary()

	require.NoError(t, call(t, "identify", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, 0)
		protocol.EncodeVLQUint(o, 16)
	}))
	msgs := responses(t, out)
	require.Len(t, msgs, 1)
	assert.Equal(t, "identify_response", msgs[0].name)

	args := msgs[0].args
	offset, _ := protocol.DecodeVLQUint(&args)
	data, err := protocol.DecodeVLQBytes(&args)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), offset)
	assert.Equal(t, GetGlobalDictionary().GetChunk(0, 16), data)
}
