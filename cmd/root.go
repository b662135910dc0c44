package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/syscore/internal/config"
	"github.com/zjrosen/syscore/internal/log"
)

const defaultConfigPath = ".syscore/config.yaml"

var (
	version   = "dev"
	cfgFile   string
	cfg       config.Config
	debugFlag bool
	noColor   bool

	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "syscore",
	Short: "Run a graph of dependent units with an in-process event bus",
	Long: `syscore runs named units of work concurrently while honoring the
precedence constraints declared between them. Units talk to each other
through a synchronous event bus, and any unit can ask the run to shut down.

Without a manifest, run executes the built-in demo graph: an event system
followed by render, input, and window systems.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	cobra.OnInitialize(initConfig)
	cobra.OnFinalize(teardown)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .syscore/config.yaml or ~/.config/syscore/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write a debug log (also enabled by SYSCORE_DEBUG)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"disable colored output")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("scheduler.max_workers", defaults.Scheduler.MaxWorkers)
	viper.SetDefault("scheduler.max_delay", defaults.Scheduler.MaxDelay)
	viper.SetDefault("scheduler.manifest", defaults.Scheduler.Manifest)
	viper.SetDefault("scheduler.graph_cache_ttl", defaults.Scheduler.GraphCacheTTL)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.path", defaults.Log.Path)
	viper.SetDefault("watch.debounce", defaults.Watch.Debounce)

	// e.g. SYSCORE_SCHEDULER_MAX_WORKERS for scheduler.max_workers
	viper.SetEnvPrefix("SYSCORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .syscore/config.yaml (current directory)
		// 2. ~/.config/syscore/config.yaml (user config)
		if _, err := os.Stat(defaultConfigPath); err == nil {
			viper.SetConfigFile(defaultConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "syscore"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "warning: reading config: %v\n", err)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// setup runs before every command: debug logging, color profile, and
// config validation.
func setup(cmd *cobra.Command, _ []string) error {
	debug := os.Getenv("SYSCORE_DEBUG") != "" || debugFlag
	if debug && logCleanup == nil {
		logPath := os.Getenv("SYSCORE_LOG")
		if logPath == "" {
			logPath = cfg.Log.Path
		}
		if logPath == "" {
			logPath = "debug.log"
		}

		cleanup, err := log.InitWithTeaLog(logPath, "syscore")
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		logCleanup = cleanup
		log.SetMinLevel(log.ParseLevel(cfg.Log.Level))
		log.Info(log.CatConfig, "syscore starting", "command", cmd.Name(), "version", version, "config", viper.ConfigFileUsed())
	}

	if noColor || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func teardown() {
	if logCleanup != nil {
		logCleanup()
		logCleanup = nil
		log.Reset()
	}
}

// configPath returns the file config writes go to.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return defaultConfigPath
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
