// Command pluginhostctl is the operational CLI for the plugin host:
// discover candidate artifacts, validate a manifest file, or run a
// long-lived server that loads a plugin directory and serves until
// interrupted. Grounded on cmd/pluginctl's subcommand-per-verb shape
// from the example pack, rebuilt on cobra (the CLI library the
// teacher's go.mod carries but its own cmd/gk never adopts).
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/goatkit/pluginhost/internal/eventbus"
	"github.com/goatkit/pluginhost/internal/hostconfig"
	"github.com/goatkit/pluginhost/internal/manifest"
	"github.com/goatkit/pluginhost/internal/pluginmanager"
	"github.com/goatkit/pluginhost/internal/registry"
	"github.com/goatkit/pluginhost/internal/resolver"
	"github.com/goatkit/pluginhost/internal/verifier"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pluginhostctl",
		Short: "Operate the plugin host: discover, validate, and serve plugin artifacts.",
	}
	root.AddCommand(newDiscoverCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newServeCmd())
	return root
}

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover <plugin-dir>",
		Short: "Count shared-library artifacts in a directory.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.New()
			count, err := reg.Discover(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%d candidate artifact(s) in %s\n", count, args[0])
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest-file>",
		Short: "Parse and validate a plugin manifest against the host API version.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(args[0])
			if err != nil {
				return fmt.Errorf("load manifest: %w", err)
			}
			if err := m.Validate(hostAPIVersion); err != nil {
				return fmt.Errorf("invalid manifest: %w", err)
			}
			fmt.Printf("%s@%s: valid, capabilities=%s\n", m.ID, m.Version, m.Capabilities)
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load every plugin in the configured directory and run until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "pluginhost.yaml", "path to the host configuration file")
	return cmd
}

func runServe(configPath string) error {
	logger := slog.Default()

	cfg, secPolicy, err := hostconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := registry.New(registry.WithLogger(logger))
	v := verifier.New(verifier.WithLogger(logger))
	bus := eventbus.New(eventbus.WithLogger(logger))
	rslv := resolver.New(reg)

	mgr := pluginmanager.New(reg, v, bus, rslv,
		pluginmanager.WithPluginDir(cfg.PluginDir),
		pluginmanager.WithPolicy(secPolicy),
		pluginmanager.WithLogger(logger),
		pluginmanager.WithNotifiers(
			func(name string) { logger.Info("plugin loaded", "plugin", name) },
			func(name string) { logger.Info("plugin unloaded", "plugin", name) },
		),
	)

	count, err := mgr.LoadAllFromDirectory()
	if err != nil {
		return fmt.Errorf("load plugin directory: %w", err)
	}
	logger.Info("plugin host serving", "plugin_dir", cfg.PluginDir, "loaded", count)

	var watcher *registry.Watcher
	if cfg.HotReloadEnabled {
		debounce := time.Duration(cfg.HotReloadDebounceMS) * time.Millisecond
		watcher, err = registry.WatchDirectory(cfg.PluginDir, debounce, func(name string) {
			if _, ok := mgr.Get(name); ok {
				if err := mgr.Reload(name); err != nil {
					logger.Warn("hot reload failed", "plugin", name, "err", err)
				}
				return
			}
			if err := mgr.Load(name, nil); err != nil {
				logger.Warn("hot reload: load failed", "plugin", name, "err", err)
			}
		})
		if err != nil {
			return fmt.Errorf("start hot reload watcher: %w", err)
		}
		logger.Info("hot reload enabled", "plugin_dir", cfg.PluginDir, "debounce", debounce)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down plugin host")
	if watcher != nil {
		watcher.Close()
	}
	mgr.Close()
	return nil
}

const hostAPIVersion = 1
