// Command executor simulates one executor class for local runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/itskum47/tierroute/control_plane/task"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		className string
		port      int
		failRate  float64
	)
	cmd := &cobra.Command{
		Use:          "executor",
		Short:        "Simulated EDGE, CLOUD or GPU executor",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if failRate < 0 || failRate > 1 {
				return fmt.Errorf("--fail-rate must be in [0,1], got %v", failRate)
			}
			c, err := task.ParseClass(className)
			if err != nil {
				return err
			}
			profile, err := ProfileFor(c)
			if err != nil {
				return err
			}
			if port == 0 {
				port = 8001 + int(c)
			}

			log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("node", c.String()).Logger()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, fmt.Sprintf(":%d", port), NewServer(NewExecutor(profile, failRate, time.Now().UnixNano())))
		},
	}
	cmd.Flags().StringVar(&className, "class", "EDGE", "executor class: EDGE, CLOUD or GPU")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default 8001/8002/8003 by class)")
	cmd.Flags().Float64Var(&failRate, "fail-rate", 0, "fraction of executions answered with HTTP 500")
	return cmd
}

func run(ctx context.Context, addr string, s *Server) error {
	srv := &http.Server{Addr: addr, Handler: s.routes(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("executor listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
