package cmd

import (
	"log/slog"
	"os"

	_ "github.com/q-controller/nea-supervisor/src/driver/simulator"
	"github.com/q-controller/nea-supervisor/src/worker"
	"github.com/spf13/cobra"
)

// workerCmd is the child process side of supervisor.ProcessSpawner. Stdout
// carries the protocol, so all logging goes to stderr.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a driver worker on stdin/stdout",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var level slog.LevelVar
		logger, err := newLogger(os.Stderr, logLevel, logFormat, &level)
		if err != nil {
			return err
		}
		logger = logger.With("pid", os.Getpid())

		err = worker.ServeStdio(cmd.Context(), os.Stdin, os.Stdout,
			worker.WithLogger(logger), worker.WithLevel(&level))
		if code := worker.ExitCode(err); code != 0 {
			logger.Error("worker failed", "error", err, "code", code)
			os.Exit(code)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
