package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/twinsync/internal/config"
	"github.com/steveyegge/twinsync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage twinsync configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file",
	Long: `Write a config file, asking for the main settings when run in a terminal.

Use --yes to accept the defaults without prompting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = filepath.Join(config.DefaultDir(), "config.toml")
		}
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		cfg := config.Default()
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && ui.IsTerminal(os.Stdin) {
			if err := promptConfig(cfg); err != nil {
				return err
			}
		}

		if err := config.WriteTOML(path, cfg); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

// promptConfig asks for the settings most installs change.
func promptConfig(cfg *config.Config) error {
	port := strconv.Itoa(cfg.DashboardPort)
	debounce := cfg.DebounceInterval.String()
	remote := cfg.RemoteFeed

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Sync directory").
				Value(&cfg.SyncDir).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("sync directory cannot be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Remote feed").
				Description("ws:// URL or path of a JSON-lines feed file; empty for the default").
				Value(&remote),
			huh.NewInput().
				Title("Debounce interval").
				Value(&debounce).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
			huh.NewInput().
				Title("Dashboard port").
				Description("0 disables the dashboard").
				Value(&port).
				Validate(func(s string) error {
					_, err := strconv.Atoi(s)
					return err
				}),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("config prompt: %w", err)
	}

	cfg.RemoteFeed = remote
	cfg.DebounceInterval, _ = time.ParseDuration(debounce)
	cfg.DashboardPort, _ = strconv.Atoi(port)
	return nil
}

// displayConfig is the shape printed by config show.
type displayConfig struct {
	SyncDir          string   `yaml:"sync_dir"`
	DataDir          string   `yaml:"data_dir"`
	DBPath           string   `yaml:"db_path"`
	DebounceInterval string   `yaml:"debounce_interval"`
	PollInterval     string   `yaml:"poll_interval"`
	RemoteFeed       string   `yaml:"remote_feed"`
	LogFile          string   `yaml:"log_file,omitempty"`
	LogMaxSizeMB     int      `yaml:"log_max_size_mb"`
	LogMaxBackups    int      `yaml:"log_max_backups"`
	DashboardPort    int      `yaml:"dashboard_port"`
	Ignore           []string `yaml:"ignore,flow"`
}

func showConfig(cfg *config.Config) ([]byte, error) {
	return yaml.Marshal(displayConfig{
		SyncDir:          cfg.SyncDir,
		DataDir:          cfg.DataDir,
		DBPath:           cfg.DBPath,
		DebounceInterval: cfg.DebounceInterval.String(),
		PollInterval:     cfg.PollInterval.String(),
		RemoteFeed:       cfg.RemoteFeed,
		LogFile:          cfg.LogFile,
		LogMaxSizeMB:     cfg.LogMaxSizeMB,
		LogMaxBackups:    cfg.LogMaxBackups,
		DashboardPort:    cfg.DashboardPort,
		Ignore:           cfg.Ignore,
	})
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := showConfig(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

func init() {
	configInitCmd.Flags().BoolP("yes", "y", false, "accept defaults without prompting")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing config file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
