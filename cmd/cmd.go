// Package cmd implements the command-line dispatch for the yatadoc
// binary, following the args[0]-switch pattern used across the
// sibling command-line tools in this module's lineage rather than a
// third-party CLI framework.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Polqt/yatadoc/editor"
	"github.com/Polqt/yatadoc/metrics"
	"github.com/Polqt/yatadoc/synctxn"
	"github.com/Polqt/yatadoc/transport"
	"github.com/Polqt/yatadoc/wsconn"
)

// Run dispatches args (os.Args[1:]) to the matching subcommand.
func Run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}
	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "version":
		fmt.Println("yatadoc dev")
		return nil
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":8080", "address this replica listens on for peer sync RPCs")
	zk := fs.String("zk", "127.0.0.1:2181", "comma-separated ZooKeeper ensemble addresses")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := newLogger(*logLevel)

	reg := prometheus.NewRegistry()
	mcol := metrics.NewCollector(reg)

	editorSrv := editor.New(strings.Split(*zk, ","), synctxn.Dialer(transport.Dial), mcol, log)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsconn.Handshake(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		clientID := r.URL.Query().Get("client")
		editorSrv.Broadcaster().Add(clientID, conn)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	syncHandler := &transport.Handler{Servers: editorSrv.SyncServerFor, Log: log}
	syncHandler.Mount(mux)
	editorHandler := &transport.EditorHandler{Server: editorSrv, Log: log}
	editorHandler.Mount(mux)

	srv := &http.Server{Addr: *addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("yatadoc replica listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen failed", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func printUsage() {
	fmt.Print(`yatadoc — collaborative text editing backend

USAGE:
  yatadoc serve [flags]     Start a replica
    --addr string           Listen address (default ":8080")
    --zk string             Comma-separated ZooKeeper addresses (default "127.0.0.1:2181")
    --log-level string      debug, info, warn, error (default "info")
  yatadoc version           Print version
`)
}
