// Command meterctl talks to a meterhub: it requests captures and relay runs
// and waits for their outcome, and can act as the polling device itself.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	nuts "github.com/vaudience/go-nuts"
)

var (
	cfg     = viper.New()
	rootCtx context.Context
)

var rootCmd = &cobra.Command{
	Use:           "meterctl",
	Short:         "Operate a meterhub and its camera",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		nuts.InitVersion()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("hub", "http://localhost:5000", "hub base URL")
	flags.Duration("interval", 300*time.Millisecond, "state poll interval")
	flags.Duration("timeout", 20*time.Second, "give up waiting after this long")
	flags.Bool("json", false, "print machine-readable JSON")

	for _, name := range []string{"hub", "interval", "timeout", "json"} {
		_ = cfg.BindPFlag(name, flags.Lookup(name))
	}
	cfg.SetEnvPrefix("METERCTL")
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	cfg.AutomaticEnv()

	rootCmd.AddCommand(captureCmd, relayCmd, latestCmd, deviceCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCtx = ctx

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// printResult writes v as indented JSON when --json is set, otherwise the
// human summary.
func printResult(v any, human string) {
	if cfg.GetBool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	fmt.Println(human)
}
