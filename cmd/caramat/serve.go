package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/shaunagostinho/caramat/internal/controller"
	"github.com/shaunagostinho/caramat/internal/engine"
	"github.com/shaunagostinho/caramat/internal/logger"
	"github.com/shaunagostinho/caramat/internal/server"
)

var (
	demo       bool
	listenAddr string
	monitor    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the poll engine and HTTP API",
	Long: `Run the poll engine against the controller and expose it over HTTP.

Endpoints:
  GET  /api/status     latest snapshot and status message
  POST /api/autotune   start the device autotune
  POST /api/gains      write PID gains {"p","i","d"}
  POST /api/cycle      start a cycling run (body overrides config defaults)
  POST /api/stop       shut the controller down
  GET  /ws             live snapshot, status and fault frames

With --demo the controller is simulated in-process.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&demo, "demo", false, "Run against a simulated controller")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Override listen address (e.g. :8080)")
	serveCmd.Flags().BoolVar(&monitor, "monitor", false, "Start polling immediately without a procedure")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Println("[main] caramat starting")

	cfg := server.LoadConfig(configPath)
	if demo {
		cfg.Controller.Type = "demo"
	}
	if portPath != "" {
		cfg.Controller.PortPath = portPath
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}
	if monitor {
		cfg.Engine.Monitor = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	var transport controller.Transport
	switch cfg.Controller.Type {
	case "demo":
		transport = controller.NewSimulator()
	default:
		t, err := openWithRetry(ctx, cfg.SerialConfig(), 10)
		if err != nil {
			return err
		}
		transport = t
	}
	client := controller.NewClient(transport)
	atexit.Register(func() {
		if err := client.Close(); err != nil {
			log.Printf("[main] close controller: %v", err)
		}
	})

	// A missing log store shouldn't keep the controller from running.
	sink, err := logger.Open(cfg.Logging)
	if err != nil {
		log.Printf("[main] log sink %q unavailable, readings will not be stored: %v", cfg.Logging.Sink, err)
		sink = logger.Discard{}
	}
	atexit.Register(func() {
		if err := sink.Close(); err != nil {
			log.Printf("[main] close log sink: %v", err)
		}
	})

	srv := server.New(cfg)
	eng := engine.New(client, sink, srv, cfg.EngineSettings())
	if cfg.Engine.Monitor {
		eng.Activate()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Run(ctx)
	}()

	srvErr := srv.Run(ctx, eng)
	if srvErr != nil {
		log.Printf("[main] server exited: %v", srvErr)
	}
	cancel()
	<-done
	return srvErr
}

// openWithRetry opens the serial port with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval until ctx is cancelled.
func openWithRetry(ctx context.Context, cfg controller.SerialConfig, maxAttempts int) (*controller.LineTransport, error) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		t, err := controller.OpenSerial(cfg)
		if err == nil {
			log.Printf("[controller] connected to %s (attempt %d)", cfg.PortPath, attempt+1)
			return t, nil
		}

		attempt++
		if attempt <= maxAttempts {
			log.Printf("[controller] open attempt %d/%d failed: %v (retry in %v)",
				attempt, maxAttempts, err, delay)
		} else {
			log.Printf("[controller] open attempt %d failed: %v (retry in %v)",
				attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
