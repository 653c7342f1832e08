// Package msg defines the domain messages exchanged over the default channel
// table. Messages are plain structs serialised as JSON on the wire.
package msg

import (
	"fmt"
	"strconv"
	"strings"
)

// Command identifies the unit of work a ProviderRequest or DBRequest asks for.
// The set is closed: factories register constructors for the values they serve.
type Command int32

const (
	CommandUnknown  Command = 0
	CommandQuote    Command = 1
	CommandUpload   Command = 2
	CommandSaveFile Command = 3
	CommandEcho     Command = 4
)

var commandNames = map[Command]string{
	CommandQuote:    "QUOTE",
	CommandUpload:   "UPLOAD",
	CommandSaveFile: "SAVE_FILE",
	CommandEcho:     "ECHO",
}

// String returns the symbolic name, or the decimal id for values outside the enum.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return strconv.Itoa(int(c))
}

// ParseCommand accepts a symbolic name (case-insensitive) or a decimal id.
func ParseCommand(s string) (Command, error) {
	s = strings.TrimSpace(s)
	for c, name := range commandNames {
		if strings.EqualFold(name, s) {
			return c, nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return CommandUnknown, fmt.Errorf("msg: unknown command %q", s)
	}
	return Command(n), nil
}

// StateID classifies a WorkerState.
type StateID int32

const (
	StateResult    StateID = 0
	StateError     StateID = 1
	StateUploading StateID = 2
	StateProgress  StateID = 3
)

func (s StateID) String() string {
	switch s {
	case StateResult:
		return "RESULT"
	case StateError:
		return "ERROR"
	case StateUploading:
		return "UPLOADING"
	case StateProgress:
		return "PROGRESS"
	default:
		return strconv.Itoa(int(s))
	}
}

// Terminal reports whether the state ends a request.
func (s StateID) Terminal() bool {
	return s == StateResult || s == StateError
}

// ProviderRequest asks a provider service to run Command. Params is a JSON
// document whose shape depends on the command. RequestID is chosen by the
// caller and echoed in every reply, so a caller reached by several providers
// can tell its replies apart.
type ProviderRequest struct {
	RequestID string  `json:"request_id,omitempty"`
	Command   Command `json:"command"`
	Params    string  `json:"params,omitempty"`
}

// CommandID satisfies the dispatch request contract.
func (r *ProviderRequest) CommandID() Command { return r.Command }

// ProviderResponse is every reply a provider sends: the terminal result or
// error, and each intermediate progress update.
type ProviderResponse struct {
	RequestID   string       `json:"request_id,omitempty"`
	ServiceName string       `json:"service_name"`
	State       *WorkerState `json:"state,omitempty"`
}

// WorkerState carries the state of one request. Response holds the JSON
// result for StateResult and StateUploading, Error the message for StateError.
type WorkerState struct {
	StateID  StateID `json:"state_id"`
	Progress int32   `json:"progress,omitempty"`
	Response string  `json:"response,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// DBRequest asks the database service to persist a staged file.
type DBRequest struct {
	Command  Command `json:"command"`
	Path     string  `json:"path"`
	Filename string  `json:"filename"`
	UserID   int64   `json:"user_id"`
}

func (r *DBRequest) CommandID() Command { return r.Command }

// DBResponse answers a DBRequest.
type DBResponse struct {
	Success bool   `json:"success"`
	Model   *Model `json:"model,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Model is the public view of a stored file.
type Model struct {
	ID     int64 `json:"id"`
	UserID int64 `json:"user_id"`
}
