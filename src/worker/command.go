package worker

import (
	"encoding/json"
	"time"
)

type Op string

const (
	OpInit Op = "init"
	OpPut  Op = "put"
	OpQuit Op = "quit"
)

// InitParams is the payload of the init command.
type InitParams struct {
	NeaName      string `json:"neaName"`
	LogDirectory string `json:"logDirectory"`
	Log          int    `json:"log"`
	Port         int    `json:"port"`
	Host         string `json:"host"`
	Nymulator    bool   `json:"nymulator"`
	Retry        int    `json:"retry"`
	// Interval is the poll interval in milliseconds.
	Interval   int    `json:"interval"`
	Provisions string `json:"provisions"`
}

func (p InitParams) interval() time.Duration {
	return time.Duration(p.Interval) * time.Millisecond
}

// Command is one message from the supervisor to the worker. Init fields are
// flattened into the top level object.
type Command struct {
	Op  Op              `json:"op"`
	Put json.RawMessage `json:"put,omitempty"`
	*InitParams
}

func Init(params InitParams) Command {
	return Command{Op: OpInit, InitParams: &params}
}

func Put(request json.RawMessage) Command {
	return Command{Op: OpPut, Put: request}
}

func Quit() Command {
	return Command{Op: OpQuit}
}
