package pipes

import "encoding/json"

type Reader interface {
	Read() ([]string, error)
}

type Writer interface {
	Write([]byte) error
	// Enqueue schedules a write without waiting for it to complete.
	Enqueue([]byte) error
}

type Communicator interface {
	Reader
	Writer
	Close()
}

type Action string

const (
	ActionAdd    Action = "add"
	ActionWrite  Action = "write"
	ActionRemove Action = "remove"
	ActionClose  Action = "close"
)

// Event is produced by the mux loop. Data carries complete JSON objects read
// from an endpoint; Err is set once the endpoint is gone. Action marks the
// result of a management request.
type Event struct {
	Id     string
	Data   []string
	Err    error
	Action *Action
}

type AddConfig struct {
	Id      string `json:"id"`
	ReadFd  int    `json:"readFd"`
	WriteFd int    `json:"writeFd"`
}

type WriteConfig struct {
	Id   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

type RemoveConfig struct {
	Id string `json:"id"`
}

type ManagementData struct {
	Action Action        `json:"action"`
	Add    *AddConfig    `json:"add,omitempty"`
	Write  *WriteConfig  `json:"write,omitempty"`
	Remove *RemoveConfig `json:"remove,omitempty"`
}
