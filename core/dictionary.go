package core

import (
	"bytes"
	"sort"
	"strconv"
	"sync"

	"gopilot/tinycompress"
)

// Constant is a named value published to the host
type Constant struct {
	Name  string
	Value interface{}
}

// Enumeration maps symbolic names to indexes
type Enumeration struct {
	Name   string
	Values []string
}

// Dictionary describes the firmware to the host: version, constants and the
// ID of every command and response. Hosts fetch it compressed via identify.
type Dictionary struct {
	mu            sync.RWMutex
	constants     map[string]*Constant
	enumerations  map[string]*Enumeration
	commandReg    *CommandRegistry
	version       string
	buildVersions string
	cached        []byte
}

var globalDictionary = NewDictionary(globalRegistry)

// NewDictionary creates a dictionary listing the messages of cmdReg
func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:     make(map[string]*Constant),
		enumerations:  make(map[string]*Enumeration),
		commandReg:    cmdReg,
		version:       "gopilot-0.1.0",
		buildVersions: "go-tinygo",
	}
}

// RegisterConstant adds a constant to the global dictionary
func RegisterConstant(name string, value interface{}) {
	globalDictionary.AddConstant(name, value)
}

// RegisterEnumeration adds an enumeration to the global dictionary
func RegisterEnumeration(name string, values []string) {
	globalDictionary.AddEnumeration(name, values)
}

// AddConstant sets a constant and drops the cached dictionary
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = &Constant{Name: name, Value: value}
	d.cached = nil
}

// AddEnumeration sets an enumeration and drops the cached dictionary
func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enumerations[name] = &Enumeration{Name: name, Values: append([]string(nil), values...)}
	d.cached = nil
}

// SetVersion sets the firmware version string
func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
	d.cached = nil
}

// SetBuildVersions sets the toolchain description
func (d *Dictionary) SetBuildVersions(versions string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buildVersions = versions
	d.cached = nil
}

// BuildDictionary renders and compresses the dictionary. Call it once all
// commands are registered; until then Generate serves plain JSON.
func (d *Dictionary) BuildDictionary() {
	// Read the registry before taking our own lock
	commands, responses := d.commandReg.GetCommandsAndResponses()

	d.mu.Lock()
	defer d.mu.Unlock()

	jsonData := d.renderLocked(commands, responses)

	var buf bytes.Buffer
	w := tinycompress.NewWriter(&buf, len(jsonData))
	w.Write(jsonData)
	if err := w.Close(); err != nil {
		DebugPrintln("[dict] compression failed: " + err.Error())
		d.cached = jsonData
		return
	}
	d.cached = buf.Bytes()
	DebugPrintln("[dict] " + itoa(len(jsonData)) + " bytes, " + itoa(len(d.cached)) + " compressed")
}

// Generate returns the built dictionary, or uncompressed JSON if
// BuildDictionary has not run since the last change
func (d *Dictionary) Generate() []byte {
	d.mu.RLock()
	cached := d.cached
	d.mu.RUnlock()
	if cached != nil {
		return cached
	}

	commands, responses := d.commandReg.GetCommandsAndResponses()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.renderLocked(commands, responses)
}

// renderLocked builds the JSON text. Keys are sorted so the output is stable.
func (d *Dictionary) renderLocked(commands, responses map[string]int) []byte {
	out := make([]byte, 0, 2048)

	out = append(out, `{"version":`...)
	out = appendJSONString(out, d.version)
	out = append(out, `,"build_versions":`...)
	out = appendJSONString(out, d.buildVersions)

	out = append(out, `,"config":{`...)
	for i, name := range sortedKeys(d.constants) {
		if i > 0 {
			out = append(out, ',')
		}
		out = appendJSONString(out, name)
		out = append(out, ':')
		out = appendJSONString(out, valueToString(d.constants[name].Value))
	}

	out = append(out, `},"commands":`...)
	out = appendIDMap(out, commands)
	out = append(out, `,"responses":`...)
	out = appendIDMap(out, responses)

	if len(d.enumerations) > 0 {
		out = append(out, `,"enumerations":{`...)
		for i, name := range sortedKeys(d.enumerations) {
			if i > 0 {
				out = append(out, ',')
			}
			out = appendJSONString(out, name)
			out = append(out, ":{"...)
			first := true
			for idx, value := range d.enumerations[name].Values {
				if value == "" {
					continue
				}
				if !first {
					out = append(out, ',')
				}
				first = false
				out = appendJSONString(out, value)
				out = append(out, ':')
				out = strconv.AppendInt(out, int64(idx), 10)
			}
			out = append(out, '}')
		}
		out = append(out, '}')
	}

	return append(out, '}')
}

// appendIDMap writes {"signature":id,...} ordered by ID
func appendIDMap(out []byte, ids map[string]int) []byte {
	sigs := make([]string, 0, len(ids))
	for sig := range ids {
		sigs = append(sigs, sig)
	}
	sort.Slice(sigs, func(i, j int) bool { return ids[sigs[i]] < ids[sigs[j]] })

	out = append(out, '{')
	for i, sig := range sigs {
		if i > 0 {
			out = append(out, ',')
		}
		out = appendJSONString(out, sig)
		out = append(out, ':')
		out = strconv.AppendInt(out, int64(ids[sig]), 10)
	}
	return append(out, '}')
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// appendJSONString quotes s. Dictionary text is ASCII, so only quotes,
// backslashes and control characters need escaping.
func appendJSONString(out []byte, s string) []byte {
	const hex = "0123456789abcdef"
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			out = append(out, '\\', c)
		case c < 0x20:
			out = append(out, '\\', 'u', '0', '0', hex[c>>4], hex[c&0xF])
		default:
			out = append(out, c)
		}
	}
	return append(out, '"')
}

// GetChunk returns up to count bytes of the dictionary starting at offset.
// The result is a copy.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Generate()
	if offset >= uint32(len(data)) {
		return []byte{}
	}
	end := min(offset+uint32(count), uint32(len(data)))
	return append([]byte(nil), data[offset:end]...)
}

// GetGlobalDictionary returns the global dictionary
func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}
