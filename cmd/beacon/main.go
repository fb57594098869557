package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof" // Import pprof for profiling endpoints
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/beacon/pkg/client"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/router"
	"github.com/cuemby/beacon/pkg/server"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// initSentinel marks a completed first bootstrap; later starts recover
// instead of re-bootstrapping.
const initSentinel = "init.success"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Beacon - replicated service discovery and config registry",
	Long: `Beacon is a replicated service-discovery and configuration registry
for fleet deployments: servlets register under app/zone/servlet,
consumers resolve healthy instances by env and color, operators publish
versioned config blobs, and the cluster issues monotonic timestamps and
app-scoped auto-increment ids.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Beacon version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("server", "127.0.0.1:8700", "Comma-separated discovery server endpoints")
	rootCmd.PersistentFlags().String("router", "", "Router endpoint (used instead of --server when set)")
	rootCmd.PersistentFlags().Duration("timeout", client.DefaultTimeout, "Per-request timeout")
	rootCmd.PersistentFlags().Int("retry", client.DefaultMaxRetry, "Retries after NOT_LEADER or transport errors")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(routerCmd)
	rootCmd.AddCommand(appCmd)
	rootCmd.AddCommand(zoneCmd)
	rootCmd.AddCommand(servletCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(discoveryCmd)
	rootCmd.AddCommand(atomicCmd)
	rootCmd.AddCommand(tsoCmd)
	rootCmd.AddCommand(raftCmd)
}

func initLogging() {
	verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	log.Init(log.Config{
		Level:      level,
		JSONOutput: logJSON,
	})
}

// newSender builds the retrying client from the global flags.
func newSender(cmd *cobra.Command) (*client.Sender, error) {
	routerAddr, _ := cmd.Flags().GetString("router")
	serverList, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	retry, _ := cmd.Flags().GetInt("retry")

	servers := []string{routerAddr}
	if routerAddr == "" {
		servers = strings.Split(serverList, ",")
	}
	return client.New(servers,
		client.WithTimeout(timeout),
		client.WithMaxRetry(retry),
	)
}

// Server command

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run a discovery server replica",
	Long: `Run one replica of the discovery cluster: the registry, the
auto-increment generator and the timestamp oracle, each replicated in
its own raft group. The first replica bootstraps with --bootstrap;
later replicas start empty and are added with 'beacon raft add-peer'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadServerConfig(cmd)
		if err != nil {
			return err
		}

		sentinelPath := filepath.Join(cfg.DataDir, initSentinel)
		if _, err := os.Stat(sentinelPath); err == nil {
			// Already initialized once; recover instead of re-bootstrap.
			cfg.Bootstrap = false
		}

		fmt.Println("Starting Beacon discovery server...")
		fmt.Printf("  Node ID: %s\n", cfg.NodeID)
		fmt.Printf("  Client Address: %s\n", cfg.ClientAddr)
		fmt.Printf("  Raft Address: %s (+1, +2 for the other groups)\n", cfg.RaftAddr)
		fmt.Printf("  Data Directory: %s\n", cfg.DataDir)

		srv, err := server.NewServer(cfg)
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}

		if err := os.WriteFile(sentinelPath, []byte(time.Now().Format(time.RFC3339)+"\n"), 0644); err != nil {
			return fmt.Errorf("failed to write init sentinel: %w", err)
		}

		adminAddr, _ := cmd.Flags().GetString("admin-addr")
		if adminAddr != "" {
			go func() {
				http.Handle("/metrics", metrics.Handler())
				if err := http.ListenAndServe(adminAddr, nil); err != nil {
					log.Errorf("admin endpoint failed", err)
				}
			}()
			fmt.Printf("  Admin Address: %s (metrics, pprof)\n", adminAddr)
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			fmt.Printf("\nReceived %v, shutting down...\n", sig)
			return srv.Stop()
		}
	},
}

// loadServerConfig merges the optional YAML config file with flags;
// explicitly-set flags win.
func loadServerConfig(cmd *cobra.Command) (server.Config, error) {
	var cfg server.Config
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	flags := cmd.Flags()
	setString := func(name string, dst *string) {
		if v, _ := flags.GetString(name); flags.Changed(name) || *dst == "" {
			if v != "" {
				*dst = v
			}
		}
	}
	setString("node-id", &cfg.NodeID)
	setString("client-addr", &cfg.ClientAddr)
	setString("raft-addr", &cfg.RaftAddr)
	setString("data-dir", &cfg.DataDir)
	if cmd.Flags().Changed("bootstrap") {
		cfg.Bootstrap, _ = cmd.Flags().GetBool("bootstrap")
	}
	if cmd.Flags().Changed("liveness-window") {
		cfg.LivenessWindowS, _ = cmd.Flags().GetInt64("liveness-window")
	}
	if cmd.Flags().Changed("instance-ttl") {
		cfg.InstanceTTLS, _ = cmd.Flags().GetInt64("instance-ttl")
	}
	peers, err := parsePeers(flags)
	if err != nil {
		return cfg, err
	}
	if len(peers) > 0 {
		cfg.Peers = peers
	}

	if cfg.NodeID == "" || cfg.ClientAddr == "" || cfg.RaftAddr == "" || cfg.DataDir == "" {
		return cfg, fmt.Errorf("node-id, client-addr, raft-addr and data-dir are required")
	}
	return cfg, nil
}

// parsePeers reads repeated --peer id=client_addr flags.
func parsePeers(flags *pflag.FlagSet) ([]server.Peer, error) {
	specs, _ := flags.GetStringSlice("peer")
	var peers []server.Peer
	for _, spec := range specs {
		parts := strings.SplitN(spec, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("bad --peer %q, want id=client_addr", spec)
		}
		peers = append(peers, server.Peer{ID: parts[0], ClientAddr: parts[1]})
	}
	return peers, nil
}

// Router command

var routerCmd = &cobra.Command{
	Use:   "router",
	Short: "Run a stateless router peer",
	Long: `Run a router: a forwarder outside the raft groups that exposes the
same method surface, discovers the current leader from NOT_LEADER hints
and retries on behalf of clients.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listenAddr, _ := cmd.Flags().GetString("listen-addr")
		serverList, _ := cmd.Flags().GetString("server")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		retry, _ := cmd.Flags().GetInt("retry")

		rt, err := router.New(strings.Split(serverList, ","),
			client.WithTimeout(timeout),
			client.WithMaxRetry(retry),
		)
		if err != nil {
			return err
		}

		fmt.Printf("Starting Beacon router on %s (backends: %s)\n", listenAddr, serverList)

		errCh := make(chan error, 1)
		go func() { errCh <- rt.Start(listenAddr) }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			fmt.Printf("\nReceived %v, shutting down...\n", sig)
			return rt.Stop()
		}
	},
}

func init() {
	serverCmd.Flags().String("config", "", "YAML config file (flags override)")
	serverCmd.Flags().String("node-id", "", "Unique node ID")
	serverCmd.Flags().String("client-addr", "127.0.0.1:8700", "Client RPC bind address")
	serverCmd.Flags().String("raft-addr", "127.0.0.1:8800", "Base raft bind address (three consecutive ports)")
	serverCmd.Flags().String("data-dir", "/var/lib/beacon", "Data directory")
	serverCmd.Flags().Bool("bootstrap", false, "Bootstrap a new single-node cluster")
	serverCmd.Flags().StringSlice("peer", nil, "Known peer as id=client_addr (repeatable)")
	serverCmd.Flags().Int64("liveness-window", 50, "Naming liveness window in seconds")
	serverCmd.Flags().Int64("instance-ttl", 0, "Stale-instance eviction TTL in seconds (0 disables)")
	serverCmd.Flags().String("admin-addr", "", "Admin HTTP address for metrics and pprof")

	routerCmd.Flags().String("listen-addr", "127.0.0.1:8600", "Router bind address")
}
