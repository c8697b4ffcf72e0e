package main

import (
	"fmt"
	"os"
	"time"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/waitloop"
	"github.com/spf13/cobra"
)

var captureOut string

func newController() *waitloop.Controller {
	return waitloop.New(waitloop.Config{
		BaseURL:  cfg.GetString("hub"),
		Interval: cfg.GetDuration("interval"),
		Timeout:  cfg.GetDuration("timeout"),
	})
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Request a photo and wait until a newer image is published",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl := newController()
		res, err := ctl.Capture(rootCtx)
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		if captureOut != "" {
			image, err := ctl.FetchArtifact(rootCtx, res.ArtifactURL)
			if err != nil {
				return fmt.Errorf("download image: %w", err)
			}
			if err := os.WriteFile(captureOut, image, 0644); err != nil {
				return err
			}
		}
		printResult(res, fmt.Sprintf("captured seq=%d ts=%d in %v\n%s",
			res.State.Seq, res.State.ImageTS, res.Elapsed.Round(time.Millisecond), res.ArtifactURL))
		return nil
	},
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Activate the relay and wait until the device reports it done",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newController().Relay(rootCtx)
		if err != nil {
			return fmt.Errorf("relay: %w", err)
		}
		printResult(res, fmt.Sprintf("relay seq=%d ran for %dms (%v)",
			res.State.Seq, res.State.DurationMs, res.Elapsed.Round(time.Millisecond)))
		return nil
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the newest published image",
	RunE: func(cmd *cobra.Command, args []string) error {
		latest, err := newController().Latest(rootCtx)
		if err != nil {
			return err
		}
		if !latest.HasImage {
			printResult(latest, "no image yet")
			return nil
		}
		human := fmt.Sprintf("ts=%d %s", latest.Result.TS, *latest.ImageURL)
		if latest.Result.Reading != "" {
			human += fmt.Sprintf("\nreading=%s confidence=%.2f", latest.Result.Reading, latest.Result.Confidence)
		}
		printResult(latest, human)
		return nil
	},
}

func init() {
	captureCmd.Flags().StringVarP(&captureOut, "out", "o", "", "save the captured image to this file")
}
