package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream orchestrator events from the serve process",
	Long: `Connects to the running serve process and prints every event it
publishes: process output and exits, inbox changes, pending requests,
and backlog updates. Ctrl-C stops watching without touching the
orchestrator.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, err := dialOperator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events, err := c.Watch(ctx)
	if err != nil {
		return err
	}
	fmt.Println(style(colorDim, "watching (Ctrl-C to stop)"))

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("connection to serve process lost")
			}
			ts := style(colorDim, ev.Time.Local().Format("15:04:05"))
			if payload := renderWirePayload(ev.Payload); payload != "" {
				fmt.Printf("%s %s %s\n", ts, style(styleBoldCyan, ev.Topic), style(colorDim, payload))
			} else {
				fmt.Printf("%s %s\n", ts, style(styleBoldCyan, ev.Topic))
			}
		}
	}
}
