package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/jdbcx/jdbcx/internal/log"
	"github.com/jdbcx/jdbcx/internal/model"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "JDBCX"

var (
	userConfigPath string // /default/config/path/jdbcx on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	// settings overlays JDBCX_* environment variables on the flags
	settings = viper.New()

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		d = "."
	}
	userConfigPath = filepath.Join(d, "jdbcx")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is jdbcx.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse the config, setup logging
	rootCmd.PersistentPreRunE = initJdbcx

	configCmd.Flags().Bool("default", false, "print the built-in defaults instead of the loaded config")

	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("jdbcx failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "jdbcx",
	Short:        "Runs command line tools and SQL batches on behalf of database clients",
	SilenceUsage: true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "config prints the configuration in use as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config
		if def, _ := cmd.Flags().GetBool("default"); def {
			cfg = model.DefaultConfig()
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encoding configuration: %w", err)
		}
		return enc.Close()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a jdbcx",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("jdbcx: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("jdbcx:  %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initJdbcx(cmd *cobra.Command, _ []string) error {
	// flags win over JDBCX_* variables, which win over the config file
	if err := settings.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	settings.AutomaticEnv()

	if p := settings.GetString("config"); p != "" {
		configPath = p
	} else {
		for _, d := range []string{".", userConfigPath} {
			path := filepath.Join(d, "jdbcx.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	if configPath == "" {
		config = model.DefaultConfig()
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error(d.Message, d.Attr("detail"))
			}
			return fmt.Errorf("parsing config %s: %w", configPath, err)
		}
		if config.Query == nil {
			config.Query = model.DefaultConfig().Query
		}
	}

	// --verbose has a precedence over config file
	if settings.GetBool("verbose") {
		config.Service.Verbose = true
	}

	w, err := logWriter(config.Service.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(log.New(w, config.Service.Verbose))

	slog.Debug("jdbcx run", "configPath", configPath)
	slog.Debug("jdbcx run", "config", config)
	return nil
}

func logWriter(dest string) (io.Writer, error) {
	switch dest {
	case "", model.LogStderr:
		return os.Stderr, nil
	case model.LogStdout:
		return os.Stdout, nil
	case model.LogDiscard:
		return io.Discard, nil
	default:
		// stays open for the lifetime of the process
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		return f, nil
	}
}

// properties parses the repeated -o flag.
func properties(cmd *cobra.Command) (model.Properties, error) {
	pairs, err := cmd.Flags().GetStringArray("option")
	if err != nil {
		return nil, err
	}
	return model.ParseProperties(pairs)
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
