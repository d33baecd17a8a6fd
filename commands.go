package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quipubase/quipubase/config"
	"github.com/quipubase/quipubase/handler"
	"github.com/quipubase/quipubase/logging"
	"github.com/quipubase/quipubase/store"
)

type globalFlags struct {
	configPath string
	path       string
	backend    string
	logLevel   string
}

type serveFlags struct {
	host string
	port int
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:           "quipubase",
		Short:         "Embedded document store with an HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "TOML config file")
	pf.StringVar(&g.path, "path", "", "collection path (overrides store.path)")
	pf.StringVar(&g.backend, "backend", "", "storage backend: sqlite, badger, json, memory")
	pf.StringVar(&g.logLevel, "log-level", "", "log level (overrides log.level)")

	rootCmd.AddCommand(newServeCmd(&g), newExportCmd(&g), newCountCmd(&g))
	return rootCmd
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var s serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, g)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = s.host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = s.port
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
	cmd.Flags().StringVar(&s.host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVarP(&s.port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

func newExportCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write every document as a JSON line to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, g)
			if err != nil {
				return err
			}
			s, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer s.Close()
			n, err := export(s, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			log.WithField("documents", n).Info("Export finished")
			return nil
		},
	}
}

func newCountCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, g)
			if err != nil {
				return err
			}
			s, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer s.Close()
			n, err := s.Count()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

// setup loads the configuration, applies the global flags on top and
// builds the logger. Logs go to stderr so export output stays clean.
func setup(cmd *cobra.Command, g *globalFlags) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("path") {
		cfg.Store.Path = g.path
	}
	if flags.Changed("backend") {
		cfg.Store.Backend = g.backend
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func openStore(cfg *config.Config, log *logrus.Logger) (*store.DocumentStore, error) {
	return store.Open(cfg.Store.Path,
		store.WithBackend(cfg.Store.Backend),
		store.WithBusyTimeout(cfg.Store.Timeout),
		store.WithLogger(logging.Component(log, "store")),
	)
}

func export(s *store.DocumentStore, w io.Writer) (int, error) {
	cur, err := s.ScanDocs(math.MaxInt, 0, false)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	n := 0
	for cur.Next() {
		if err := enc.Encode(cur.Entry()); err != nil {
			return n, err
		}
		n++
	}
	return n, cur.Err()
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	s, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: handler.New(s, handler.Options{
			AllowedOrigins: cfg.Server.Origins,
			Logger:         logging.Component(log, "http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":    srv.Addr,
			"backend": s.Backend(),
			"path":    s.Path(),
		}).Info("Quipubase starting")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
