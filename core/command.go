package core

import (
	"errors"
	"sync"
)

// ErrUnknownCommand is returned when dispatching an unregistered ID
var ErrUnknownCommand = errors.New("unknown command")

type unknownCommandError uint16

func (e unknownCommandError) Error() string {
	return "unknown command ID: " + itoa(int(e))
}

func (e unknownCommandError) Is(target error) bool {
	return target == ErrUnknownCommand
}

// CommandHandler decodes its own arguments from data and runs the command
type CommandHandler func(data *[]byte) error

// Command is a message the firmware understands or emits. Responses have a
// nil Handler.
type Command struct {
	ID      uint16
	Name    string
	Format  string // e.g. "name=%s value=%u"
	Handler CommandHandler
}

// Signature returns the message as listed in the data dictionary
func (c *Command) Signature() string {
	if c.Format == "" {
		return c.Name
	}
	return c.Name + " " + c.Format
}

// CommandRegistry assigns IDs to messages in registration order
type CommandRegistry struct {
	mu       sync.RWMutex
	commands []*Command
	nameToID map[string]uint16
}

var globalRegistry = NewCommandRegistry()

// NewCommandRegistry creates an empty registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		nameToID: make(map[string]uint16),
	}
}

// Register adds a message and returns its ID. Registering a name again
// returns the existing ID and keeps the first definition.
func (r *CommandRegistry) Register(name string, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.nameToID[name]; ok {
		return id
	}

	id := uint16(len(r.commands))
	r.commands = append(r.commands, &Command{
		ID:      id,
		Name:    name,
		Format:  format,
		Handler: handler,
	})
	r.nameToID[name] = id
	return id
}

// GetCommand looks a message up by ID
func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.commands) {
		return nil, false
	}
	return r.commands[id], true
}

// GetCommandByName looks a message up by name
func (r *CommandRegistry) GetCommandByName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	if !ok {
		return nil, false
	}
	return r.commands[id], true
}

// Count returns the number of registered messages
func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch runs the handler registered for cmdID
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok || cmd.Handler == nil {
		return unknownCommandError(cmdID)
	}
	return cmd.Handler(data)
}

// GetCommandsAndResponses returns the dictionary listing: handled messages
// under commands, the rest under responses, both keyed by signature.
func (r *CommandRegistry) GetCommandsAndResponses() (map[string]int, map[string]int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands := make(map[string]int)
	responses := make(map[string]int)
	for _, cmd := range r.commands {
		if cmd.Handler != nil {
			commands[cmd.Signature()] = int(cmd.ID)
		} else {
			responses[cmd.Signature()] = int(cmd.ID)
		}
	}
	return commands, responses
}

// Signatures returns every message signature ordered by ID
func (r *CommandRegistry) Signatures() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.commands))
	for i, cmd := range r.commands {
		out[i] = cmd.Signature()
	}
	return out
}

// RegisterCommand adds a command to the global registry
func RegisterCommand(name string, format string, handler CommandHandler) uint16 {
	return globalRegistry.Register(name, format, handler)
}

// RegisterResponse adds a firmware-to-host message to the global registry
func RegisterResponse(name string, format string) uint16 {
	return globalRegistry.Register(name, format, nil)
}

// DispatchCommand runs a command from the global registry
func DispatchCommand(cmdID uint16, data *[]byte) error {
	return globalRegistry.Dispatch(cmdID, data)
}

// GetGlobalRegistry returns the global registry
func GetGlobalRegistry() *CommandRegistry {
	return globalRegistry
}

// GetCommandCount returns the size of the global registry
func GetCommandCount() int {
	return globalRegistry.Count()
}
