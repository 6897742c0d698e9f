package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/q-controller/nea-supervisor/src/config"
	_ "github.com/q-controller/nea-supervisor/src/driver/simulator"
	"github.com/q-controller/nea-supervisor/src/protocol"
	"github.com/q-controller/nea-supervisor/src/roaming"
	"github.com/q-controller/nea-supervisor/src/storage"
	"github.com/q-controller/nea-supervisor/src/supervisor"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type runOptions struct {
	statePath   string
	metricsAddr string
	inProcess   bool
	roamingPem  string
	stopTimeout time.Duration
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one NEA until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		nea, err := loadNea(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, nea, runOpts)
	},
}

func init() {
	runCmd.Flags().StringVar(&runOpts.statePath, "state", "", "provisions state file (default: provisions.cbor in the log directory)")
	runCmd.Flags().StringVar(&runOpts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	runCmd.Flags().BoolVar(&runOpts.inProcess, "in-process", false, "run the worker in this process instead of a child process")
	runCmd.Flags().StringVar(&runOpts.roamingPem, "roaming-pem", "", "answer roaming auth nonces with the key in this PEM file")
	runCmd.Flags().DurationVar(&runOpts.stopTimeout, "stop-timeout", supervisor.DefaultStopTimeout, "time a worker gets to quit before it is killed")
	overrides.AddFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

// newSpawner returns the worker spawner and a function releasing it.
func newSpawner(inProcess bool) (supervisor.Spawner, func(), error) {
	if inProcess {
		return &supervisor.InProcessSpawner{}, func() {}, nil
	}
	spawner, err := supervisor.NewProcessSpawner("worker", "--log-level", logLevel, "--log-format", logFormat)
	if err != nil {
		return nil, nil, err
	}
	return spawner, func() {
		if err := spawner.Close(); err != nil {
			slog.Warn("could not close process spawner", "error", err)
		}
	}, nil
}

func logEvents(sup *supervisor.Supervisor) {
	for _, path := range protocol.Paths() {
		name, _ := protocol.EventFor(path)
		sup.Subscribe(name, func(resp protocol.Response) {
			header := resp.Header()
			slog.Debug("NEA message", "event", name, "exchange", header.Exchange, "ok", header.Ok())
		})
	}
	sup.OnError(func(err error) {
		slog.Error("NEA error", "error", err)
	})
}

func run(ctx context.Context, nea config.Nea, opts runOptions) error {
	statePath := opts.statePath
	if statePath == "" {
		statePath = filepath.Join(nea.LogDirectory, "provisions.cbor")
	}

	spawner, release, err := newSpawner(opts.inProcess)
	if err != nil {
		return err
	}
	defer release()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := supervisor.NewMetrics(registry, nea.NeaName)
	if err != nil {
		return err
	}

	sup := supervisor.New(nea, storage.NewFile(statePath), spawner,
		supervisor.WithMetrics(metrics),
		supervisor.WithStopTimeout(opts.stopTimeout))
	logEvents(sup)

	if opts.roamingPem != "" {
		signer, err := roaming.LoadSignerFile(opts.roamingPem)
		if err != nil {
			return fmt.Errorf("loading roaming key: %w", err)
		}
		roaming.NewResponder(signer, slog.Default()).Attach(sup)
		slog.Info("roaming auth responder attached", "publicKey", signer.PublicKeyHex())
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		resp, err := sup.Start(ctx)
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 2*opts.stopTimeout)
			defer cancel()
			return errors.Join(err, sup.Close(closeCtx))
		}
		slog.Info("NEA running", "nea", resp.Info.NeaName, "host", resp.Info.Host, "port", resp.Info.Port, "state", statePath)

		<-ctx.Done()
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*opts.stopTimeout)
		defer cancel()
		return sup.Close(closeCtx)
	})

	if opts.metricsAddr != "" {
		server := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("serving metrics", "addr", opts.metricsAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
