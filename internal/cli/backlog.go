package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crewctl/crewctl/internal/broker"
)

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "Inspect and edit the shared backlog",
}

var backlogAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Create a backlog item",
	Args:  cobra.ExactArgs(1),
	RunE:  runBacklogAdd,
}

var backlogListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List backlog items",
	Args:    cobra.NoArgs,
	RunE:    runBacklogList,
}

var backlogUpdateCmd = &cobra.Command{
	Use:   "update [item-id]",
	Short: "Change an item's status or sort order",
	Args:  cobra.ExactArgs(1),
	RunE:  runBacklogUpdate,
}

func init() {
	backlogAddCmd.Flags().String("agent", "", "Owning agent (required)")
	backlogAddCmd.Flags().String("context", "", "Free-text context for the item")
	backlogAddCmd.Flags().String("parent", "", "Parent item id")
	backlogAddCmd.Flags().StringArray("tag", nil, "Tag the item (repeatable)")
	backlogAddCmd.MarkFlagRequired("agent")

	backlogListCmd.Flags().String("agent", "", "Filter by owning agent")
	backlogListCmd.Flags().String("parent", "", "Filter by parent item")
	backlogListCmd.Flags().String("status", "", "Filter by status")

	backlogUpdateCmd.Flags().String("status", "", "New status (open|in-progress|done|blocked)")
	backlogUpdateCmd.Flags().Int("sort-order", 0, "New sort order")

	backlogCmd.AddCommand(backlogAddCmd, backlogListCmd, backlogUpdateCmd)
	rootCmd.AddCommand(backlogCmd)
}

func runBacklogAdd(cmd *cobra.Command, args []string) error {
	c, err := dialOperator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	agent, _ := cmd.Flags().GetString("agent")
	itemContext, _ := cmd.Flags().GetString("context")
	parent, _ := cmd.Flags().GetString("parent")
	tags, _ := cmd.Flags().GetStringArray("tag")

	item, err := c.BacklogAdd(cmd.Context(), broker.BacklogItem{
		AgentID:  agent,
		ParentID: parent,
		Title:    args[0],
		Context:  itemContext,
		Tags:     tags,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s %s added for %s\n", style(styleBoldGreen, "✓"), item.ID, item.AgentID)
	return nil
}

func runBacklogList(cmd *cobra.Command, args []string) error {
	c, err := dialOperator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	agent, _ := cmd.Flags().GetString("agent")
	parent, _ := cmd.Flags().GetString("parent")
	status, _ := cmd.Flags().GetString("status")

	items, err := c.BacklogList(cmd.Context(), broker.BacklogFilter{
		AgentID:  agent,
		ParentID: parent,
		Status:   broker.BacklogStatus(status),
	})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("Backlog is empty.")
		return nil
	}
	for _, it := range items {
		statusStyle := colorDim
		switch it.Status {
		case broker.StatusInProgress:
			statusStyle = styleBoldYellow
		case broker.StatusDone:
			statusStyle = styleBoldGreen
		case broker.StatusBlocked:
			statusStyle = styleBoldRed
		}
		indent := ""
		if it.ParentID != "" {
			indent = "  "
		}
		fmt.Printf("%s%s %s %-12s %s\n", indent, style(styleBoldCyan, it.ID), style(statusStyle, string(it.Status)), it.AgentID, it.Title)
		if it.Context != "" {
			fmt.Printf("%s  %s\n", indent, style(colorDim, truncate(it.Context, 100)))
		}
	}
	return nil
}

func runBacklogUpdate(cmd *cobra.Command, args []string) error {
	c, err := dialOperator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	var upd broker.BacklogUpdate
	if cmd.Flags().Changed("status") {
		v, _ := cmd.Flags().GetString("status")
		status := broker.BacklogStatus(v)
		upd.Status = &status
	}
	if cmd.Flags().Changed("sort-order") {
		v, _ := cmd.Flags().GetInt("sort-order")
		upd.SortOrder = &v
	}
	if upd.Status == nil && upd.SortOrder == nil {
		return fmt.Errorf("nothing to update: pass --status or --sort-order")
	}

	item, err := c.BacklogUpdate(cmd.Context(), args[0], upd)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s is now %s\n", style(styleBoldGreen, "✓"), item.ID, item.Status)
	return nil
}
