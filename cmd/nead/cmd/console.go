package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/q-controller/nea-supervisor/src/config"
	"github.com/q-controller/nea-supervisor/src/protocol"
	"github.com/q-controller/nea-supervisor/src/storage"
	"github.com/q-controller/nea-supervisor/src/supervisor"
	"github.com/spf13/cobra"
)

var consoleInProcess bool
var consoleStatePath string

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Drive a NEA interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		nea, err := loadNea(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		c, err := newConsole(nea)
		if err != nil {
			return err
		}
		return c.run(ctx)
	},
}

func init() {
	consoleCmd.Flags().BoolVar(&consoleInProcess, "in-process", true, "run the worker in this process")
	consoleCmd.Flags().StringVar(&consoleStatePath, "state", "", "provisions state file (default: keep provisions in memory)")
	overrides.AddFlags(consoleCmd.Flags())
	rootCmd.AddCommand(consoleCmd)
}

type console struct {
	rl      *readline.Instance
	sup     *supervisor.Supervisor
	release func()
}

func newConsole(nea config.Nea) (*console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "nea> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	// Keep log lines from tearing the prompt.
	logger, err := newLogger(rl.Stderr(), logLevel, logFormat, nil)
	if err != nil {
		rl.Close()
		return nil, err
	}
	slog.SetDefault(logger)

	var store storage.Storage = storage.NewMemory("")
	if consoleStatePath != "" {
		store = storage.NewFile(consoleStatePath)
	}
	spawner, release, err := newSpawner(consoleInProcess)
	if err != nil {
		rl.Close()
		return nil, err
	}

	c := &console{
		rl:      rl,
		sup:     supervisor.New(nea, store, spawner, supervisor.WithLogger(logger)),
		release: release,
	}
	for _, path := range protocol.Paths() {
		name, _ := protocol.EventFor(path)
		c.sup.Subscribe(name, func(resp protocol.Response) {
			c.print(name, resp)
		})
	}
	c.sup.OnError(func(err error) {
		fmt.Fprintf(c.rl.Stderr(), "error: %v\n", err)
	})
	return c, nil
}

func (c *console) print(name protocol.EventName, resp protocol.Response) {
	printResponse(c.rl.Stdout(), name, resp)
}

func printResponse(w io.Writer, name protocol.EventName, resp protocol.Response) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "%s: %v\n", name, err)
		return
	}
	fmt.Fprintf(w, "%s %s\n", name, data)
}

func (c *console) run(ctx context.Context) error {
	defer c.rl.Close()
	defer c.release()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.sup.Close(closeCtx); err != nil {
			slog.Warn("could not stop NEA", "error", err)
		}
	}()

	c.printHelp()
	if err := c.start(ctx); err != nil {
		fmt.Fprintf(c.rl.Stderr(), "start failed: %v\n", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return nil
		}

		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}
		verb := strings.ToLower(fields[0])
		args := fields[1:]

		switch verb {
		case "help", "?":
			c.printHelp()
		case "start":
			if err := c.start(ctx); err != nil {
				fmt.Fprintf(c.rl.Stderr(), "start failed: %v\n", err)
			}
		case "stop":
			if err := c.sup.Stop(ctx); err != nil {
				fmt.Fprintf(c.rl.Stderr(), "stop: %v\n", err)
			}
		case "status":
			fmt.Fprintf(c.rl.Stdout(), "state: %s, running: %t\n", c.sup.State(), c.sup.IsRunning())
		case "quit", "exit", "q":
			return nil
		default:
			req, err := buildRequest(verb, args)
			if err != nil {
				fmt.Fprintln(c.rl.Stderr(), err)
				continue
			}
			if err := c.sup.Send(req); err != nil {
				fmt.Fprintf(c.rl.Stderr(), "send failed: %v\n", err)
			}
		}
	}
}

func (c *console) start(ctx context.Context) error {
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	resp, err := c.sup.Start(startCtx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.rl.Stdout(), "NEA %s running on %s:%d\n", resp.Info.NeaName, resp.Info.Host, resp.Info.Port)
	return nil
}

func (c *console) printHelp() {
	var b strings.Builder
	b.WriteString("\nNEA console commands:\n")
	b.WriteString("  start | stop | status | help | quit\n\n  Requests:\n")
	for _, usage := range requestUsages() {
		b.WriteString("    " + usage + "\n")
	}
	fmt.Fprintln(c.rl.Stdout(), b.String())
}
