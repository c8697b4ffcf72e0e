package main

import (
	"context"
	"errors"
	"time"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/device"
	"github.com/spf13/cobra"
	nuts "github.com/vaudience/go-nuts"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Run a simulated camera that polls the hub for work",
	RunE: func(cmd *cobra.Command, args []string) error {
		agent := device.NewAgent(device.Config{
			BaseURL:              cfg.GetString("hub"),
			PollInterval:         cfg.GetDuration("device.poll"),
			DefaultRelayDuration: cfg.GetDuration("device.relay-default"),
		}, device.FileCamera{Path: cfg.GetString("device.image")}, device.SleepRelay{})

		nuts.L.Infof("[Device] Serving %s", cfg.GetString("device.image"))
		if err := agent.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	flags := deviceCmd.Flags()
	flags.String("image", "sample.jpg", "image file served for every capture")
	flags.Duration("poll", time.Second, "poll interval")
	flags.Duration("relay-default", 2*time.Second, "relay duration when the hub sends none")
	_ = cfg.BindPFlag("device.image", flags.Lookup("image"))
	_ = cfg.BindPFlag("device.poll", flags.Lookup("poll"))
	_ = cfg.BindPFlag("device.relay-default", flags.Lookup("relay-default"))
}
