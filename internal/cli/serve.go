package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crewctl/crewctl/internal/broker"
	"github.com/crewctl/crewctl/internal/bus"
	"github.com/crewctl/crewctl/internal/control"
	"github.com/crewctl/crewctl/internal/debug"
	"github.com/crewctl/crewctl/internal/supervisor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator: broker, control socket, and supervisor",
	Long: `Starts the long-lived orchestrator process. Agent processes reach the
coordination broker through a Unix control socket; other crewctl
commands (pending, resolve, inbox, backlog, watch, session cancel)
talk to this process over the same socket.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("agent-binary", "claude", "Agent CLI binary to supervise")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	mgr, err := newAuthManager(cmd)
	if err != nil {
		return err
	}

	eventBus := bus.New()
	b := broker.New(eventBus)

	binary, _ := cmd.Flags().GetString("agent-binary")
	sup := supervisor.New(supervisor.Config{
		Binary: binary,
		Auth:   mgr,
		Bus:    eventBus,
	})

	srv := control.NewServer(b, eventBus, control.SocketPath(s.Root()))
	srv.SetCanceler(sup.Cancel)
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Close()

	fmt.Printf("%s crewctl serving on %s\n", style(styleBoldGreen, "▶"), control.SocketPath(s.Root()))

	sub := eventBus.Subscribe()
	defer sub.Cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigCh:
			fmt.Printf("\n%s received %s, shutting down\n", style(styleBoldYellow, "■"), sig)
			debug.LogKV("cli", "serve shutdown", "signal", sig.String())
			sup.CancelAll()
			return nil
		case n := <-sub.C:
			printNotification(n)
		}
	}
}
