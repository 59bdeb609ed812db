package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/SiriusScan/host-diff/sirius/config"
	"github.com/SiriusScan/host-diff/sirius/slogger"
)

var (
	cfg config.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "YAML config file to load (HOSTDIFF_CONFIG is used when unset)")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initHostDiff

	uploadCmd.Flags().Bool("queue", false, "publish the upload to the ingest queue instead of storing it directly")
	compareCmd.Flags().Bool("summary", false, "print only the summary line")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("hostdiff failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "hostdiff",
	Short:        "Stores host scan snapshots and reports what changed between them",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the hostdiff version",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("hostdiff: version info not available")
			return
		}
		fmt.Printf("hostdiff: %s\n", info.Main.Version)
		fmt.Printf("go:       %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:   %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:     %s\n", s.Value)
			}
		}
	},
}

func initHostDiff(cmd *cobra.Command, _ []string) error {
	path := flagConfigFilePath
	if path == "" {
		path = os.Getenv("HOSTDIFF_CONFIG")
	}

	var err error
	cfg, err = config.Load(path)
	if err != nil {
		return err
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		cfg.Log.Level = "debug"
	}
	slogger.InitWith(slogger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	slog.Debug("Configuration loaded", "path", path, "backend", cfg.Backend())
	return nil
}
