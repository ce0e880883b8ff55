package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbme/arhiv-sub000/pkg/metrics"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Unlock the archive and expose /metrics, /health, /ready, /live over HTTP",
	Long: `Serve keeps the archive unlocked in memory for as long as the
process runs, and periodically samples its content into Prometheus
gauges. It takes no write commands itself - use 'arhiv stage' and
'arhiv commit' from another process against the same directories.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		password, err := readPassword(cmd)
		if err != nil {
			return err
		}

		mgr := newManager(cmd)
		if err := mgr.Unlock(password); err != nil {
			return fmt.Errorf("failed to unlock archive: %v", err)
		}

		metrics.SetVersion(Version)

		collector := metrics.NewCollector(mgr)
		collector.Start()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler(mgr))
		mux.HandleFunc("/ready", metrics.ReadyHandler(mgr))
		mux.HandleFunc("/live", metrics.LivenessHandler())

		server := &http.Server{Addr: addr, Handler: mux}

		errCh := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		fmt.Printf("Archive is unlocked. Serving on %s\n", addr)
		fmt.Println("Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		collector.Stop()
		if err := mgr.Lock(); err != nil {
			return fmt.Errorf("failed to lock archive on shutdown: %v", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", ":9090", "HTTP listen address")
	addPasswordFlag(serveCmd)
}
