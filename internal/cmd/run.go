package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"runbookd/internal/activitylog"
	"runbookd/internal/config"
	"runbookd/internal/daemon"
	"runbookd/internal/socketdir"
	"runbookd/internal/transport"
	"runbookd/internal/version"
)

// Exit codes per spec.md §6.
const (
	exitOK          = 0
	exitConfigError = 2
	exitBindFailure = 64
)

// shutdownGrace bounds how long in-flight HTTP/WebSocket requests get to
// finish once a shutdown signal arrives.
const shutdownGrace = 5 * time.Second

func newRunCmd() *cobra.Command {
	var configPath string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the runbookd daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configPath, quiet)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config.yaml (default ~/.runbookd/config.yaml)")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Only log warnings and errors")

	return cmd
}

func runDaemon(configPath string, quiet bool) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(exitConfigError)
		return nil
	}

	level := logrus.InfoLevel
	if quiet {
		level = logrus.WarnLevel
	}
	log := activitylog.New(os.Stderr, level)

	sockPath := socketdir.Path()
	if err := socketdir.ProbeSocket(sockPath); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(exitBindFailure)
		return nil
	}
	if err := os.MkdirAll(socketdir.Dir(), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	d := daemon.New(cfg, log, version.DisplayVersion())

	mux := http.NewServeMux()
	mux.Handle("/hook", transport.NewHookHandler(d, log))
	mux.Handle("/ws", transport.NewWSHandler(d, log, version.DisplayVersion()))

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bind %s: %v\n", cfg.ListenAddr, err)
		os.Exit(exitBindFailure)
		return nil
	}

	unixLn, err := net.Listen("unix", sockPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bind control socket %s: %v\n", sockPath, err)
		os.Exit(exitBindFailure)
		return nil
	}
	defer os.Remove(sockPath)

	server := &http.Server{Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go d.Run(ctx)
	go server.Serve(ln)
	go server.Serve(unixLn)

	log.Notice(fmt.Sprintf("runbookd listening on %s (control socket %s)", cfg.ListenAddr, sockPath))

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	return nil
}

func loadConfigOrDefault(configPath string) (*config.RunbookConfig, error) {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	return config.Load()
}
