package driver

import (
	"fmt"
	"sort"
	"sync"
)

const (
	Native    = "native"
	Simulator = "simulator"
)

var ErrDriverNotRegistered = fmt.Errorf("driver not registered")

type ConfigOutcome int

const (
	ConfigOkay ConfigOutcome = iota
	ConfigFailedToInit
	ConfigInvalidProvisions
	ConfigMissingNeaName
	ConfigInvalidNeaName
	ConfigInvalidLogDirectory
	ConfigInvalidLogLevel
	ConfigInvalidPort
	ConfigInvalidHost
	ConfigAlreadyConfigured
	ConfigImpossible
)

var configOutcomeNames = map[ConfigOutcome]string{
	ConfigOkay:                "OKAY",
	ConfigFailedToInit:        "FAILED_TO_INIT",
	ConfigInvalidProvisions:   "INVALID_PROVISION_JSON",
	ConfigMissingNeaName:      "MISSING_NEA_NAME",
	ConfigInvalidNeaName:      "INVALID_NEA_NAME",
	ConfigInvalidLogDirectory: "INVALID_LOG_DIRECTORY",
	ConfigInvalidLogLevel:     "INVALID_LOG_LEVEL",
	ConfigInvalidPort:         "INVALID_PORT",
	ConfigInvalidHost:         "INVALID_HOST",
	ConfigAlreadyConfigured:   "ALREADY_CONFIGURED",
	ConfigImpossible:          "IMPOSSIBLE",
}

func (o ConfigOutcome) String() string {
	if name, ok := configOutcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("ConfigOutcome(%d)", int(o))
}

// Retryable reports whether another Configure attempt may succeed.
func (o ConfigOutcome) Retryable() bool {
	return o == ConfigFailedToInit
}

type PutOutcome int

const (
	PutOkay PutOutcome = iota
	PutNapiNotRunning
	PutInvalidJSON
	PutImpossible
)

func (o PutOutcome) String() string {
	switch o {
	case PutOkay:
		return "OKAY"
	case PutNapiNotRunning:
		return "NAPI_NOT_RUNNING"
	case PutInvalidJSON:
		return "INVALID_JSON"
	case PutImpossible:
		return "IMPOSSIBLE"
	default:
		return fmt.Sprintf("PutOutcome(%d)", int(o))
	}
}

type GetOutcome int

const (
	GetOkay GetOutcome = iota
	GetQueueEmpty
	GetNapiNotRunning
	GetImpossible
)

func (o GetOutcome) String() string {
	switch o {
	case GetOkay:
		return "OKAY"
	case GetQueueEmpty:
		return "QUEUE_EMPTY"
	case GetNapiNotRunning:
		return "NAPI_NOT_RUNNING"
	case GetImpossible:
		return "IMPOSSIBLE"
	default:
		return fmt.Sprintf("GetOutcome(%d)", int(o))
	}
}

// Config is handed to Configure once per initialization attempt.
type Config struct {
	NeaName      string
	LogDirectory string
	Provisions   string
	LogLevel     int
	Port         int
	Host         string
}

// Driver is the non-blocking interface of the native NAPI bindings. None of
// the methods may block; the worker calls them from a single goroutine.
type Driver interface {
	Configure(cfg Config) ConfigOutcome
	Put(message []byte) PutOutcome
	TryGet() ([]byte, GetOutcome)
	Terminate()
}

// Opener creates a fresh driver instance.
type Opener func() (Driver, error)

var (
	mu      sync.RWMutex
	openers = map[string]Opener{}
)

// Register makes a driver available by name. It panics when called twice
// for the same name or with a nil opener.
func Register(name string, opener Opener) {
	mu.Lock()
	defer mu.Unlock()

	if opener == nil {
		panic("driver: Register opener is nil")
	}
	if _, dup := openers[name]; dup {
		panic("driver: Register called twice for driver " + name)
	}
	openers[name] = opener
}

func Open(name string) (Driver, error) {
	mu.RLock()
	opener, ok := openers[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDriverNotRegistered, name)
	}
	return opener()
}

// Name returns the registered driver used for the simulator flag.
func Name(useSimulator bool) string {
	if useSimulator {
		return Simulator
	}
	return Native
}

func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(openers))
	for name := range openers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
