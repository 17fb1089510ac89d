package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/signals"
)

var signalCmd = &cobra.Command{
	Use:       "signal <pause|resume|stop>",
	Short:     "Control a running foreman",
	Long:      `Write a control signal into the state directory. A running foreman pauses dispatch, resumes it, or shuts down.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"pause", "resume", "stop"},
	RunE:      runSignal,
}

func runSignal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := cfg.SignalsDir()

	switch args[0] {
	case "pause":
		err = signals.SendPause(dir)
	case "resume":
		err = signals.SendResume(dir)
	case "stop":
		err = signals.SendStop(dir)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to %s\n", args[0], dir)
	return nil
}
