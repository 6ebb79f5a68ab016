package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/crewctl/crewctl/internal/bus"
	"github.com/crewctl/crewctl/internal/hexid"
	"github.com/crewctl/crewctl/internal/store"
	"github.com/crewctl/crewctl/internal/supervisor"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage agent sessions and their workspaces",
}

var sessionNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new agent session and record its workspace",
	Args:  cobra.NoArgs,
	RunE:  runSessionNew,
}

var sessionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recorded workspaces",
	Args:    cobra.NoArgs,
	RunE:    runSessionList,
}

var sessionCancelCmd = &cobra.Command{
	Use:   "cancel [session-id]",
	Short: "Gracefully interrupt a running session in the serve process",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionCancel,
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm [workspace-id]",
	Short: "Delete a recorded workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionRm,
}

func init() {
	sessionNewCmd.Flags().String("folder", "", "Working folder for the agent (default: current directory)")
	sessionNewCmd.Flags().String("name", "", "Display name for the workspace")
	sessionNewCmd.Flags().String("mcp", "", "MCP server config recorded for this workspace")
	sessionNewCmd.Flags().String("agent-binary", "claude", "Agent CLI binary to run")

	sessionCmd.AddCommand(sessionNewCmd, sessionListCmd, sessionCancelCmd, sessionRmCmd)
	rootCmd.AddCommand(sessionCmd)
}

func runSessionNew(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	mgr, err := newAuthManager(cmd)
	if err != nil {
		return err
	}

	folder, _ := cmd.Flags().GetString("folder")
	if folder == "" {
		folder, err = os.Getwd()
		if err != nil {
			return err
		}
	}
	folder, err = filepath.Abs(folder)
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("name")
	mcp, _ := cmd.Flags().GetString("mcp")
	binary, _ := cmd.Flags().GetString("agent-binary")

	sup := supervisor.New(supervisor.Config{Binary: binary, Auth: mgr, Bus: bus.New()})

	fmt.Printf("%s starting session in %s\n", style(styleBoldCyan, "▶"), folder)
	agentSessionID, err := sup.NewSession(cmd.Context(), folder)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	ws := &store.Workspace{
		ID:             hexid.New(),
		Name:           name,
		Folder:         folder,
		AgentSessionID: agentSessionID,
		MCPEndpoint:    mcp,
		Created:        now,
		Updated:        now,
	}
	if err := s.SaveWorkspace(ws); err != nil {
		return err
	}

	fmt.Printf("%s workspace %s (session %s)\n", style(styleBoldGreen, "✓"), ws.ID, agentSessionID)
	fmt.Printf("  continue with: %s\n", style(styleBoldWhite, "crewctl send "+ws.ID+" \"...\""))
	return nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	wss, err := s.ListWorkspaces()
	if err != nil {
		return err
	}
	if len(wss) == 0 {
		fmt.Println("No workspaces recorded. Start one with `crewctl session new`.")
		return nil
	}
	for _, ws := range wss {
		name := ws.Name
		if name == "" {
			name = style(colorDim, "(unnamed)")
		}
		fmt.Printf("%s  %-20s %s\n", style(styleBoldCyan, ws.ID), name, ws.Folder)
		if ws.AgentSessionID != "" {
			fmt.Printf("  %s session %s\n", style(colorDim, "↳"), ws.AgentSessionID)
		}
	}
	return nil
}

func runSessionCancel(cmd *cobra.Command, args []string) error {
	c, err := dialOperator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.CancelSession(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("%s interrupt delivered to %s\n", style(styleBoldYellow, "■"), args[0])
	return nil
}

func runSessionRm(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	if err := s.DeleteWorkspace(args[0]); err != nil {
		return err
	}
	fmt.Printf("%s workspace %s removed\n", style(styleBoldGreen, "✓"), args[0])
	return nil
}
