package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaunagostinho/bleat/internal/server"
	"github.com/shaunagostinho/bleat/web"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a web console and JSON API for the module",
	Long: `Starts an HTTP server with a browser console, POST /api/request, GET /api/info
and a /ws websocket. Requests from all clients are run one at a time.

The server starts immediately; the serial port is opened in the background
and retried with exponential backoff until it succeeds.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "Listen address (overrides config, e.g. :8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	if cmd.Flags().Changed("listen") {
		s.cfg.Server.ListenAddr, _ = cmd.Flags().GetString("listen")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(s.cfg, web.FS, s.log)
	srv.SetTranscript(s.recorder)

	// Connect in the background; the console works before the module does.
	// The session is closed only after this goroutine is done with it.
	connected := make(chan struct{})
	go func() {
		defer close(connected)
		if connectWithRetry(ctx, s.log, s.connect, 10) {
			srv.Attach(s.engine)
		}
	}()

	err = srv.Run(ctx)
	stop()
	<-connected
	return err
}

// connectWithRetry calls connect with exponential backoff. Starts at 1s,
// doubles each attempt up to 60s, logs each failure up to maxAttempts and
// then keeps retrying quietly at the max interval. Returns false if ctx
// ends first.
func connectWithRetry(ctx context.Context, log logrus.FieldLogger, connect func() error, maxAttempts int) bool {
	return retry(ctx, log, connect, maxAttempts, time.Second, 60*time.Second)
}

func retry(ctx context.Context, log logrus.FieldLogger, connect func() error, maxAttempts int, delay, maxDelay time.Duration) bool {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		err := connect()
		if err == nil {
			log.WithField("attempt", attempt+1).Info("module connected")
			return true
		}

		attempt++
		entry := log.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "retry_in": delay})
		if attempt <= maxAttempts {
			entry.Warn("connect failed")
		} else {
			entry.Debug("connect failed")
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
