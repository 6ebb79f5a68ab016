package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var inboxCmd = &cobra.Command{
	Use:   "inbox [agent-id]",
	Short: "Show an agent's inbox",
	Args:  cobra.ExactArgs(1),
	RunE:  runInbox,
}

var inboxReadCmd = &cobra.Command{
	Use:   "read [agent-id] [message-id]",
	Short: "Mark a message read (or unread with --unread)",
	Args:  cobra.ExactArgs(2),
	RunE:  runInboxRead,
}

func init() {
	inboxReadCmd.Flags().Bool("unread", false, "Mark the message unread instead")
	inboxCmd.AddCommand(inboxReadCmd)
	rootCmd.AddCommand(inboxCmd)
}

func runInbox(cmd *cobra.Command, args []string) error {
	c, err := dialOperator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	msgs, err := c.InboxOf(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("Inbox is empty.")
		return nil
	}
	for _, m := range msgs {
		marker := style(styleBoldCyan, "●")
		if m.Read {
			marker = style(colorDim, "○")
		}
		from := m.FromName
		if from == "" {
			from = m.From
		}
		if from == "" {
			from = "system"
		}
		fmt.Printf("%s %s %s %s [%s]\n", marker, style(colorDim, m.CreatedAt.Local().Format("15:04")), style(colorBold, from), m.ID, m.Priority)
		fmt.Printf("  %s\n", m.Body)
	}
	return nil
}

func runInboxRead(cmd *cobra.Command, args []string) error {
	c, err := dialOperator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	unread, _ := cmd.Flags().GetBool("unread")
	if err := c.MarkReadFor(cmd.Context(), args[0], args[1], !unread); err != nil {
		return err
	}
	fmt.Printf("%s done\n", style(styleBoldGreen, "✓"))
	return nil
}
