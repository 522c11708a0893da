package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corvusec/magpie/pkg/config"
	"github.com/corvusec/magpie/pkg/log"
	"github.com/corvusec/magpie/pkg/metrics"
	"github.com/corvusec/magpie/pkg/supervisor"
	"github.com/corvusec/magpie/pkg/telegram"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, telegram.ErrAuthFailed) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "magpie",
	Short: "Magpie - Telegram channel document ingestor",
	Long: `Magpie subscribes to Telegram channels, archives every posted
document into a content-addressed store and mines text members of
zip and rar archives for indicators of compromise.

Configuration comes from the environment or a .env file in the
working directory; an optional YAML file fills the gaps.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"magpie version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the ingestion service",
	Long: `Start the long-running ingestion service: subscribe to the
configured channels, archive every posted document and scan zip and
rar archives for indicators.

The first run asks for the Telegram login code on the terminal; the
authorized session is persisted under STORAGE_PATH and reused on
later runs without a prompt.`,
	RunE: runService,
}

func init() {
	runCmd.Flags().String("config", "", "Optional YAML config file (environment wins)")
}

func runService(cmd *cobra.Command, args []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	metrics.SetVersion(Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := supervisor.New(supervisor.Options{
		Config:     cfg,
		CodePrompt: promptLoginCode,
	})
	return s.Run(ctx)
}

// promptLoginCode reads the login code Telegram sends on first
// authentication. The prompt goes to stderr so piped stdout stays clean.
func promptLoginCode(ctx context.Context) (string, error) {
	fmt.Fprint(os.Stderr, "Telegram login code: ")
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read login code: %v", err)
	}
	return strings.TrimSpace(code), nil
}
