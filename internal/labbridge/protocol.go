package labbridge

// Message types exchanged with a lab frontend.
const (
	TypeRegister   = "register"
	TypeUnregister = "unregister"
	TypeExecute    = "execute"
	TypeResult     = "result"
)

// Message is the single JSON frame of the bridge protocol.
//
// Frontend to gateway: register/unregister with Commands, result with ID,
// OK, Value and Error. Gateway to frontend: execute with ID, Command, Args.
type Message struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Commands []string `json:"commands,omitempty"`
	Command  string   `json:"command,omitempty"`
	Args     any      `json:"args,omitempty"`
	OK       bool     `json:"ok,omitempty"`
	Value    any      `json:"value,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// RemoteError is a command failure reported by the frontend.
type RemoteError struct {
	Command string
	Message string
}

func (e *RemoteError) Error() string {
	return "labbridge: " + e.Command + ": " + e.Message
}
