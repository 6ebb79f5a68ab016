package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crewctl/crewctl/internal/bus"
	"github.com/crewctl/crewctl/internal/prompt"
	"github.com/crewctl/crewctl/internal/supervisor"
)

var sendCmd = &cobra.Command{
	Use:   "send [session-id] [message]",
	Short: "Send a message to an agent session and wait for the turn",
	Long: `Resumes the conversation of an existing session with a new message,
supervising the spawned agent process until it exits. Ctrl-C delivers
a graceful interrupt, letting the process flush before exiting.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().String("folder", "", "Working folder for the agent (defaults to the workspace's folder)")
	sendCmd.Flags().Bool("plan", false, "Run in plan permission mode")
	sendCmd.Flags().StringArray("attach", nil, "Attach a file to the message (repeatable)")
	sendCmd.Flags().String("mcp", "", "MCP server config passed through to the agent")
	sendCmd.Flags().String("agent-binary", "claude", "Agent CLI binary to run")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	message := ""
	if len(args) > 1 {
		message = args[1]
	}

	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	mgr, err := newAuthManager(cmd)
	if err != nil {
		return err
	}

	folder, _ := cmd.Flags().GetString("folder")
	planMode, _ := cmd.Flags().GetBool("plan")
	mcp, _ := cmd.Flags().GetString("mcp")
	attachPaths, _ := cmd.Flags().GetStringArray("attach")
	binary, _ := cmd.Flags().GetString("agent-binary")

	// Fall back to the stored workspace for folder and MCP config.
	if ws, err := s.LoadWorkspace(sessionID); err == nil && ws != nil {
		if folder == "" {
			folder = ws.Folder
		}
		if mcp == "" {
			mcp = ws.MCPEndpoint
		}
		if ws.AgentSessionID != "" {
			sessionID = ws.AgentSessionID
		}
	}
	if folder == "" {
		folder = "."
	}

	attachments, err := loadAttachments(attachPaths)
	if err != nil {
		return err
	}

	eventBus := bus.New()
	sup := supervisor.New(supervisor.Config{Binary: binary, Auth: mgr, Bus: eventBus})

	sub := eventBus.Subscribe(bus.TopicProcessOutput)
	defer sub.Cancel()
	go func() {
		for n := range sub.C {
			printNotification(n)
		}
	}()

	// Ctrl-C interrupts the session instead of killing crewctl outright.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintf(os.Stderr, "\n%s interrupting session\n", style(styleBoldYellow, "■"))
		sup.Cancel(sessionID)
	}()

	res, err := sup.Send(cmd.Context(), sessionID, supervisor.SendOptions{
		Folder:      folder,
		Message:     message,
		Attachments: attachments,
		PlanMode:    planMode,
		MCPEndpoint: mcp,
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n%s turn finished in %s\n", style(styleBoldGreen, "✓"), res.Duration.Round(time.Millisecond))
	if res.Output != "" {
		fmt.Println(res.Output)
	}
	return nil
}

// loadAttachments reads each path into a payload attachment, classifying
// images by extension and treating everything else as text.
func loadAttachments(paths []string) ([]prompt.Attachment, error) {
	var out []prompt.Attachment
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading attachment: %w", err)
		}
		out = append(out, prompt.Attachment{
			Name:      filepath.Base(p),
			MediaType: mediaTypeFor(p),
			Data:      data,
		})
	}
	return out, nil
}

func mediaTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "text/plain"
	}
}
