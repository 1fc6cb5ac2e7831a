package fc

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopilot/protocol"
)

// Dictionary is the firmware's description of itself, fetched with identify
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

// ParseDictionary decodes a dictionary as served by the firmware, either
// zlib compressed or plain JSON
func ParseDictionary(data []byte) (*Dictionary, error) {
	if len(data) >= 2 && data[0] == 0x78 {
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open compressed dictionary: %w", err)
		}
		defer r.Close()
		if data, err = io.ReadAll(r); err != nil {
			return nil, fmt.Errorf("inflate dictionary: %w", err)
		}
	}

	dict := &Dictionary{}
	if err := json.Unmarshal(data, dict); err != nil {
		return nil, fmt.Errorf("decode dictionary: %w", err)
	}
	return dict, nil
}

// ParamNames returns the tuning parameters the firmware publishes, sorted
func (d *Dictionary) ParamNames() []string {
	var names []string
	for key := range d.Config {
		if name, ok := strings.CutPrefix(key, "PARAM_"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// argument is one field of a message signature
type argument struct {
	name string
	kind string // u, i, c, s or *s
}

// message is a command or response resolved from the dictionary
type message struct {
	id   uint16
	name string
	args []argument
}

// parseSignature splits "name field=%u other=%s" into a message
func parseSignature(sig string, id int) (*message, error) {
	fields := strings.Fields(sig)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty message signature")
	}

	msg := &message{id: uint16(id), name: fields[0]}
	for _, field := range fields[1:] {
		name, format, ok := strings.Cut(field, "=%")
		if !ok {
			return nil, fmt.Errorf("%s: malformed field %q", msg.name, field)
		}
		switch format {
		case "u", "i", "c", "s", "*s":
		default:
			return nil, fmt.Errorf("%s: unsupported format %%%s", msg.name, format)
		}
		msg.args = append(msg.args, argument{name: name, kind: format})
	}
	return msg, nil
}

// encode writes args in signature order. Floats travel as their IEEE bits
// in %u fields.
func (m *message) encode(output protocol.OutputBuffer, args []interface{}) error {
	if len(args) != len(m.args) {
		return fmt.Errorf("%s takes %d arguments, got %d", m.name, len(m.args), len(args))
	}

	for i, arg := range m.args {
		value := args[i]
		switch arg.kind {
		case "u", "i", "c":
			switch v := value.(type) {
			case float32:
				protocol.EncodeVLQFloat(output, v)
			case bool:
				protocol.EncodeVLQBool(output, v)
			case uint32:
				protocol.EncodeVLQUint(output, v)
			case int32:
				protocol.EncodeVLQInt(output, v)
			case uint8:
				protocol.EncodeVLQUint(output, uint32(v))
			case int:
				protocol.EncodeVLQInt(output, int32(v))
			default:
				return fmt.Errorf("%s: %s cannot encode %T", m.name, arg.name, value)
			}
		case "s", "*s":
			switch v := value.(type) {
			case string:
				protocol.EncodeVLQString(output, v)
			case []byte:
				protocol.EncodeVLQBytes(output, v)
			default:
				return fmt.Errorf("%s: %s cannot encode %T", m.name, arg.name, value)
			}
		}
	}
	return nil
}

// decode reads every field into a map keyed by field name. Integers come
// back as uint32 or int32, strings as string and byte fields as []byte.
func (m *message) decode(data []byte) (map[string]interface{}, error) {
	fields := make(map[string]interface{}, len(m.args))
	for _, arg := range m.args {
		var (
			value interface{}
			err   error
		)
		switch arg.kind {
		case "u", "c":
			value, err = protocol.DecodeVLQUint(&data)
		case "i":
			value, err = protocol.DecodeVLQInt(&data)
		case "s":
			value, err = protocol.DecodeVLQString(&data)
		case "*s":
			var b []byte
			b, err = protocol.DecodeVLQBytes(&data)
			value = append([]byte(nil), b...)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: field %s: %w", m.name, arg.name, err)
		}
		fields[arg.name] = value
	}
	return fields, nil
}

// index resolves every signature in the dictionary
func (d *Dictionary) index() (map[string]*message, map[uint16]*message, error) {
	byName := make(map[string]*message)
	byID := make(map[uint16]*message)

	for _, table := range []map[string]int{d.Commands, d.Responses} {
		for sig, id := range table {
			msg, err := parseSignature(sig, id)
			if err != nil {
				return nil, nil, err
			}
			byName[msg.name] = msg
			byID[msg.id] = msg
		}
	}
	return byName, byID, nil
}
