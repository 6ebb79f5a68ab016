package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agents registered with the broker",
	Args:  cobra.NoArgs,
	RunE:  runAgents,
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	c, err := dialOperator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	agents, err := c.ListAgents(cmd.Context())
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println("No agents registered.")
		return nil
	}
	for _, a := range agents {
		name := a.Name
		if name == "" || name == a.ID {
			name = ""
		} else {
			name = "  " + style(colorDim, a.Name)
		}
		fmt.Printf("%s%s  registered %s\n", style(styleBoldCyan, a.ID), name, a.RegisteredAt.Local().Format("Jan 2 15:04"))
	}
	return nil
}
