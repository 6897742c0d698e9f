// Package config loads and validates the settings of one NEA.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/q-controller/nea-supervisor/src/utils"
	"github.com/q-controller/nea-supervisor/src/worker"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort       = 9089
	DefaultHost       = "127.0.0.1"
	DefaultRetryCount = 3
	DefaultInterval   = 100

	MaxNameLength = 18
	MinPort       = 1024
	MaxPort       = 65535
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9-_ ]{6,}$`)

// Nea holds the settings the supervisor turns into a worker init command.
// JSON config files load as-is since YAML accepts JSON.
type Nea struct {
	NeaName      string `yaml:"neaName"`
	LogDirectory string `yaml:"logDirectory"`
	LogLevel     int    `yaml:"logLevel"`
	Port         int    `yaml:"port"`
	Host         string `yaml:"host"`
	Nymulator    bool   `yaml:"nymulator"`
	RetryCount   int    `yaml:"retryCount"`
	// Interval is the worker poll interval in milliseconds.
	Interval int `yaml:"interval"`
}

func Default() Nea {
	return Nea{
		Port:       DefaultPort,
		Host:       DefaultHost,
		RetryCount: DefaultRetryCount,
		Interval:   DefaultInterval,
	}
}

// ValidationError lists every rule a configuration breaks.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid NEA configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks the name, host, port and log level.
func (n Nea) Validate() error {
	var problems []string
	if !namePattern.MatchString(n.NeaName) {
		problems = append(problems, fmt.Sprintf("neaName %q must be at least 6 characters of letters, digits, '-', '_' or space", n.NeaName))
	}
	if len(n.NeaName) > MaxNameLength {
		problems = append(problems, fmt.Sprintf("neaName %q is longer than %d characters", n.NeaName, MaxNameLength))
	}
	if n.Host == "" {
		problems = append(problems, "host is empty")
	}
	if n.Port < MinPort || n.Port > MaxPort {
		problems = append(problems, fmt.Sprintf("port %d is outside %d..%d", n.Port, MinPort, MaxPort))
	}
	if n.LogLevel < 0 || n.LogLevel > 4 {
		problems = append(problems, fmt.Sprintf("logLevel %d is outside 0..4", n.LogLevel))
	}
	if n.RetryCount < 0 {
		problems = append(problems, fmt.Sprintf("retryCount %d is negative", n.RetryCount))
	}
	if n.Interval < 0 {
		problems = append(problems, fmt.Sprintf("interval %d is negative", n.Interval))
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// PollInterval is Interval as a duration.
func (n Nea) PollInterval() time.Duration {
	return time.Duration(n.Interval) * time.Millisecond
}

// InitParams builds the worker init command payload.
func (n Nea) InitParams(provisions string) worker.InitParams {
	return worker.InitParams{
		NeaName:      n.NeaName,
		LogDirectory: n.LogDirectory,
		Log:          n.LogLevel,
		Port:         n.Port,
		Host:         n.Host,
		Nymulator:    n.Nymulator,
		Retry:        n.RetryCount,
		Interval:     n.Interval,
		Provisions:   provisions,
	}
}

// Parse decodes a configuration over the defaults. It does not validate.
func Parse(data []byte) (Nea, error) {
	nea := Default()
	if err := yaml.Unmarshal(data, &nea); err != nil {
		return Nea{}, fmt.Errorf("parsing NEA configuration: %w", err)
	}
	return nea, nil
}

// Load reads and validates a configuration file. An empty logDirectory
// falls back to the directory holding the file.
func Load(path string) (Nea, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Nea{}, fmt.Errorf("reading NEA configuration: %w", err)
	}
	nea, err := Parse(data)
	if err != nil {
		return Nea{}, err
	}
	if nea.LogDirectory == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return Nea{}, err
		}
		nea.LogDirectory = filepath.Dir(abs)
	}
	if err := nea.Validate(); err != nil {
		return Nea{}, err
	}
	return nea, nil
}

// Save writes the configuration as YAML, replacing path atomically.
func (n Nea) Save(path string) error {
	if err := n.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding NEA configuration: %w", err)
	}

	if err := utils.WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("saving NEA configuration: %w", err)
	}
	return nil
}
