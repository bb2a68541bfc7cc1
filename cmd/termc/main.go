package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/srg/termc/internal/engine"
	"github.com/srg/termc/internal/logx"
	"github.com/srg/termc/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "termc",
	Short: "Share an interactive shell with remote viewers over TCP",
	Long: `termc runs an interactive shell under a pseudoterminal and mirrors
its output both to your own screen and to any number of read-only
viewers that connect over TCP. Locally typed keystrokes drive the
shell; remote viewers only watch.

termc takes no arguments; all tuning is via ` + "`" + config.EnvConfigPath + "`" + ` (a YAML
file path) or environment variables.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := logx.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log := logx.New(level)

	eng, err := engine.New(cfg, log)
	if err != nil {
		return err
	}

	os.Exit(eng.Run())
	return nil
}

func main() {
	rootCmd.SilenceErrors = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "(termc) UNEXPECTED ERROR: %s\n", err)
		os.Exit(1)
	}
}
