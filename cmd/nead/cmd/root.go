package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/q-controller/nea-supervisor/src/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	// overrides receives NEA settings given as flags. Only flags the user
	// set are applied over the configuration file.
	overrides = config.Default()
)

var rootCmd = &cobra.Command{
	Use:           "nead",
	Short:         "Supervise a Nymi Enabled Application worker",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(os.Stderr, logLevel, logFormat, nil)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("nead failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "NEA configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", level)
	}
	return l, nil
}

// newLogger builds the process logger. A non-nil levelVar receives the
// parsed level so it can be changed later.
func newLogger(w io.Writer, level, format string, levelVar *slog.LevelVar) (*slog.Logger, error) {
	l, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	var leveler slog.Leveler = l
	if levelVar != nil {
		levelVar.Set(l)
		leveler = levelVar
	}
	opts := &slog.HandlerOptions{Level: leveler}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q", format)
}

// loadNea reads --config when given and applies explicit NEA flags on top.
func loadNea(cmd *cobra.Command) (config.Nea, error) {
	nea := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return config.Nea{}, err
		}
		nea = loaded
	}
	nea.ApplyFlags(cmd.Flags(), overrides)
	if err := nea.Validate(); err != nil {
		return config.Nea{}, err
	}
	return nea, nil
}
