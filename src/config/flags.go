package config

import "github.com/spf13/pflag"

// AddFlags binds command-line overrides for every field. Call it on a Nea
// holding the values flags should default to, typically Default().
func (n *Nea) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&n.NeaName, "nea-name", n.NeaName, "name the NEA registers with")
	flagSet.StringVar(&n.LogDirectory, "log-directory", n.LogDirectory, "directory for NAPI log files")
	flagSet.IntVar(&n.LogLevel, "napi-log-level", n.LogLevel, "NAPI log level (0 off .. 4 debug)")
	flagSet.IntVar(&n.Port, "port", n.Port, "NAPI port")
	flagSet.StringVar(&n.Host, "host", n.Host, "NAPI host")
	flagSet.BoolVar(&n.Nymulator, "nymulator", n.Nymulator, "use the simulated driver")
	flagSet.IntVar(&n.RetryCount, "retry-count", n.RetryCount, "driver initialization attempts")
	flagSet.IntVar(&n.Interval, "interval", n.Interval, "worker poll interval in milliseconds")
}

// ApplyFlags copies the values of flags the user set explicitly onto n.
// It lets a file-loaded configuration be overridden by a flag set bound to
// a separate Nea.
func (n *Nea) ApplyFlags(flagSet *pflag.FlagSet, from Nea) {
	flagSet.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "nea-name":
			n.NeaName = from.NeaName
		case "log-directory":
			n.LogDirectory = from.LogDirectory
		case "napi-log-level":
			n.LogLevel = from.LogLevel
		case "port":
			n.Port = from.Port
		case "host":
			n.Host = from.Host
		case "nymulator":
			n.Nymulator = from.Nymulator
		case "retry-count":
			n.RetryCount = from.RetryCount
		case "interval":
			n.Interval = from.Interval
		}
	})
}
