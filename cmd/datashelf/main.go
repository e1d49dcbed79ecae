package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vonshlovens/datashelf/internal/catalog"
	"github.com/vonshlovens/datashelf/internal/config"
	"github.com/vonshlovens/datashelf/internal/creds"
	"github.com/vonshlovens/datashelf/internal/index"
	"github.com/vonshlovens/datashelf/internal/outbox"
	"github.com/vonshlovens/datashelf/internal/remote"
	"github.com/vonshlovens/datashelf/internal/sync"
	"github.com/vonshlovens/datashelf/internal/watcher"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "datashelf",
		Short:   "Dataset catalog with a local search index and WebDAV sync",
		Long:    `A personal/team dataset catalog: structured YAML metadata stored in a WebDAV library, searchable through a low-latency local index that stays in sync in the background.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		daemonCmd(),
		syncCommand(),
		statusCmd(),
		initCmd(),
		searchCmd(),
		addCmd(),
		editCmd(),
		showCmd(),
		listCmd(),
		deleteCmd(),
		importCmd(),
		reindexCmd(),
		outboxCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the wired components a command needs.
type app struct {
	cfg     *config.Config
	index   *index.Index
	storage remote.Storage
	outbox  *outbox.Outbox
	manager *sync.Manager
}

func (a *app) Close() {
	if a.index != nil {
		a.index.Close()
	}
}

// openIndexOnly wires the local index without touching the remote; search
// and list never block on the network.
func openIndexOnly() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	ix, err := index.Open(cfg.IndexPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	return &app{cfg: cfg, index: ix}, nil
}

// openApp wires everything including the remote storage backend.
func openApp() (*app, error) {
	a, err := openIndexOnly()
	if err != nil {
		return nil, err
	}

	secret, err := loadSecret(a.cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	storage, err := remote.NewFromConfig(a.cfg, secret)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create storage backend: %w", err)
	}

	a.storage = storage
	a.outbox = outbox.New(a.index.DB(), a.cfg.Sync.OutboxRetryCap,
		time.Duration(a.cfg.Sync.RetryBaseDelayMs)*time.Millisecond)
	a.manager = sync.New(a.index, storage, a.outbox, sync.Options{
		IgnorePatterns: a.cfg.IgnorePatterns,
	})
	return a, nil
}

// loadSecret resolves the remote secret from the credential store. The
// filesystem backend needs none.
func loadSecret(cfg *config.Config) (string, error) {
	if cfg.Remote.Backend != "webdav" {
		return "", nil
	}

	keyID := remoteKeyID(cfg)
	store := creds.Open()
	secret, err := store.Get(keyID)
	if err != nil {
		if errors.Is(err, creds.ErrNotFound) {
			return "", &creds.CredentialError{KeyID: keyID,
				Reason: "no secret stored; run 'datashelf init' or export " + creds.EnvVar(keyID)}
		}
		return "", err
	}
	return secret, nil
}

func remoteKeyID(cfg *config.Config) string {
	host := cfg.Remote.Endpoint
	if u, err := url.Parse(cfg.Remote.Endpoint); err == nil && u.Host != "" {
		host = u.Host
	}
	return creds.KeyID(cfg.Remote.AuthMethod, cfg.Remote.Username, host)
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Start the background sync process",
		Long:  `Runs periodic sync cycles against the remote library and, when a catalog directory is configured, watches it for dataset file edits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			runner := sync.NewRunner(a.manager, time.Duration(a.cfg.Sync.IntervalMinutes)*time.Minute)
			runner.Start(ctx)

			var w *watcher.Watcher
			if a.cfg.CatalogDir != "" {
				w, err = watcher.NewWatcher(a.cfg.CatalogDir, a.cfg.Sync.DebounceMs, a.cfg.IgnorePatterns)
				if err != nil {
					return fmt.Errorf("failed to create watcher: %w", err)
				}
				if err := w.Start(ctx); err != nil {
					return fmt.Errorf("failed to start watcher: %w", err)
				}
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			slog.Info("daemon started",
				"library", a.cfg.Remote.Library,
				"interval_minutes", a.cfg.Sync.IntervalMinutes)
			fmt.Println("Syncing in the background. Press Ctrl+C to stop.")

			events := emptyEvents
			if w != nil {
				events = w.Events()
			}

			for {
				select {
				case <-sigCh:
					slog.Info("shutting down...")
					if w != nil {
						// Emit and apply whatever is still sitting in a
						// debounce window, so a just-saved record is not
						// lost.
						w.Flush()
					drain:
						for {
							select {
							case event, ok := <-w.Events():
								if !ok {
									break drain
								}
								a.handleCatalogEvent(ctx, event)
							default:
								break drain
							}
						}
						w.Stop()
					}
					cancel()
					<-runner.Done()
					return nil

				case event, ok := <-events:
					if !ok {
						events = emptyEvents
						continue
					}
					a.handleCatalogEvent(ctx, event)
					runner.Trigger(sync.TriggerPostSave)

				case sum := <-runner.Results():
					for _, ie := range sum.Errors {
						slog.Warn("sync item failed", "dataset", ie.ID, "op", ie.Op, "error", ie.Err)
					}
				}
			}
		},
	}
}

// emptyEvents stands in when no catalog directory is watched.
var emptyEvents = func() <-chan watcher.Event {
	ch := make(chan watcher.Event)
	return ch
}()

// handleCatalogEvent applies one debounced file event to the catalog.
func (a *app) handleCatalogEvent(ctx context.Context, event watcher.Event) {
	id := strings.TrimSuffix(filepath.Base(event.Path), filepath.Ext(event.Path))

	switch event.Kind {
	case watcher.KindRemove:
		if err := a.manager.Delete(ctx, id); err != nil {
			slog.Error("failed to delete dataset", "dataset", id, "error", err)
		}
	default:
		data, err := os.ReadFile(filepath.Join(a.cfg.CatalogDir, event.Path))
		if err != nil {
			slog.Error("failed to read dataset file", "path", event.Path, "error", err)
			return
		}
		ds, err := catalog.Decode(data)
		if err != nil {
			slog.Error("skipping malformed dataset file", "path", event.Path, "error", err)
			return
		}
		// Filename and record id must agree, or a later removal of the
		// file would delete the wrong dataset.
		if ds.ID != id {
			slog.Error("skipping dataset file whose id does not match its name",
				"path", event.Path, "id", ds.ID)
			return
		}
		if err := a.manager.Save(ctx, ds); err != nil {
			slog.Error("failed to save dataset", "dataset", ds.ID, "error", err)
		}
	}
}

func syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "One-time sync cycle, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.manager.SyncNow(context.Background(), sync.TriggerManual)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}

			printSummary(sum)
			return nil
		},
	}
}

func printSummary(sum *sync.Summary) {
	fmt.Printf("Sync completed: pulled=%d pushed=%d skipped=%d failed=%d (%.1fs)\n",
		sum.Pulled, sum.Pushed, sum.Skipped, sum.Failed, sum.Duration.Seconds())
	if sum.Delivered > 0 {
		fmt.Printf("Outbox: delivered %d deferred write(s)\n", sum.Delivered)
	}
	for _, ie := range sum.Errors {
		fmt.Printf("  %s %s: %v\n", ie.Op, ie.ID, ie.Err)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index health and pending sync work",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			a, err := openIndexOnly()
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Println("=== Datashelf Status ===")
			fmt.Printf("Remote: %s (%s, library %q)\n",
				a.cfg.Remote.Endpoint, a.cfg.Remote.Backend, a.cfg.Remote.Library)
			fmt.Printf("Index:  %s\n", a.cfg.IndexPath())

			health, err := a.index.CheckHealth(ctx)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			fmt.Printf("Datasets: %d\n", health.StoreCount)
			if herr := health.Err(); herr != nil {
				fmt.Printf("Index health: DEGRADED: %v\n", herr)
				fmt.Println("Run 'datashelf reindex' to rebuild from the remote library.")
			} else {
				fmt.Println("Index health: OK")
			}

			ob := outbox.New(a.index.DB(), a.cfg.Sync.OutboxRetryCap,
				time.Duration(a.cfg.Sync.RetryBaseDelayMs)*time.Millisecond)
			pending, terminal, err := ob.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Outbox: %d pending, %d exhausted\n", pending, terminal)
			if terminal > 0 {
				fmt.Println("Exhausted items need 'datashelf outbox retry' after fixing the cause, or 'datashelf outbox discard <id>'.")
			}

			return nil
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup to create config file and store credentials",
		Long:  `Interactively creates a configuration file, stores the remote secret in the OS credential store, and verifies write permission against the library.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(os.Stdin)

			fmt.Println("=== Datashelf Setup ===")
			fmt.Println()

			fmt.Print("WebDAV endpoint (https://...): ")
			endpoint, _ := reader.ReadString('\n')
			endpoint = strings.TrimSpace(endpoint)

			u, err := url.Parse(endpoint)
			if err != nil || u.Scheme != "https" || u.Host == "" {
				return fmt.Errorf("endpoint must be an https:// URL, got %q", endpoint)
			}

			fmt.Print("Library folder [datasets]: ")
			library, _ := reader.ReadString('\n')
			library = strings.TrimSpace(library)
			if library == "" {
				library = "datasets"
			}

			fmt.Print("Username: ")
			username, _ := reader.ReadString('\n')
			username = strings.TrimSpace(username)

			fmt.Print("Password: ")
			password, _ := reader.ReadString('\n')
			password = strings.TrimSpace(password)

			// Store the secret under the derived key so scripted setup
			// converges on the same entry.
			keyID := creds.KeyID("basic", username, u.Host)
			store := creds.Open()
			if err := store.Set(keyID, password); err != nil {
				return fmt.Errorf("failed to store secret: %w", err)
			}
			fmt.Printf("\nSecret stored under key %q.\n", keyID)

			configContent := fmt.Sprintf(`remote:
  backend: "webdav"
  endpoint: "%s"
  library: "%s"
  auth_method: "basic"
  username: "%s"

sync:
  interval_minutes: 5
  debounce_ms: 2000

ignore_patterns:
  - ".git/**"
  - "**/.DS_Store"
  - "**/*.tmp"
`, endpoint, library, username)

			configPath, err := config.GetConfigFilePath()
			if err != nil {
				return err
			}
			if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Printf("Config file written to: %s\n", configPath)

			// Verify credentials and write permission right away.
			ctx := context.Background()
			dav, err := remote.NewWebDAV(endpoint, library, username, password, remote.WebDAVOptions{})
			if err != nil {
				return err
			}
			if err := dav.EnsureLibrary(ctx); err != nil {
				return fmt.Errorf("failed to prepare library: %w", err)
			}
			if err := remote.CheckWrite(ctx, dav, ""); err != nil {
				return err
			}
			fmt.Println("Write permission verified.")

			fmt.Println("\nTo pull the library into the local index, run: datashelf reindex")
			fmt.Println("To start background sync, run: datashelf daemon")
			return nil
		},
	}
}
