package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stevemurr/json-doc-server/auditlog"
	"github.com/stevemurr/json-doc-server/config"
	"github.com/stevemurr/json-doc-server/db"
	"github.com/stevemurr/json-doc-server/handler"
	"github.com/stevemurr/json-doc-server/store"
)

var (
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

// corsMiddleware wraps an http.Handler with CORS headers.
func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	// Fast path: wildcard allows everything.
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, o := range allowedOrigins {
				if strings.TrimSpace(o) == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// openDB builds the document store described by the command's flags,
// config file and environment. The returned func releases the backend.
func openDB(cmd *cobra.Command) (*db.DB, config.Config, func(), error) {
	cfg, err := config.Resolve(cmd.Flags())
	if err != nil {
		return nil, config.Config{}, nil, errors.Wrap(err, "loading config")
	}
	s, err := store.New(cfg.Backend, cfg.DataDir)
	if err != nil {
		return nil, config.Config{}, nil, errors.Wrapf(err, "opening store (backend=%s)", cfg.Backend)
	}
	closeStore := func() {
		if c, ok := s.(interface{ Close() error }); ok {
			c.Close()
		}
	}
	l, err := auditlog.New(cfg.LogPath())
	if err != nil {
		closeStore()
		return nil, config.Config{}, nil, err
	}
	d := db.New(s, l, db.Options{StrictKeys: cfg.StrictKeys, PathLocks: cfg.PathLocks})
	return d, cfg, closeStore, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	d, cfg, closeStore, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	h := handler.New(d, handler.WithOwner(cfg.StatusOwner))
	wrapped := corsMiddleware(h, cfg.Origins())

	if !cfg.PathLocks {
		fmt.Fprintln(cmd.ErrOrStderr(), yellow("NOTE:"), "path locks disabled; concurrent writes to one document may be lost")
	}
	log.Printf("JSON document server starting on %s (store=%s, data=%s, log=%s)",
		cfg.Addr(), cfg.Backend, cfg.DataDir, cfg.LogPath())
	return http.ListenAndServe(cfg.Addr(), wrapped)
}

var rootCmd = &cobra.Command{
	Use:   "json-doc-server [subcommand]",
	Short: "Serve and edit JSON documents stored as files",
	Long: `json-doc-server keeps one JSON document per file and exposes key edits,
file lifecycle, set operations over top-level keys and a merge of every
document, over HTTP or directly from the command line. Every operation is
recorded in an append-only audit log.

Without a subcommand the HTTP server is started.`,
	Args: cobra.NoArgs,
	// Silence errors because we will print the error ourselves in main.
	SilenceErrors: true,
	// Don't show usage for every error.
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	config.RegisterStoreFlags(rootCmd.PersistentFlags())
	config.RegisterServerFlags(rootCmd.Flags())
	config.RegisterServerFlags(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(operationCommands()...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("ERROR:"), err)
		os.Exit(1)
	}
}
