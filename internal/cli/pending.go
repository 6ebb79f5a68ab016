package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crewctl/crewctl/internal/broker"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List outstanding agent requests waiting on a human",
	Args:  cobra.NoArgs,
	RunE:  runPending,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Settle a pending agent request",
}

var resolveAnswerCmd = &cobra.Command{
	Use:   "answer [request-id] [answer...]",
	Short: "Answer a pending question (one answer per question, in order)",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runResolveAnswer,
}

var resolveApproveCmd = &cobra.Command{
	Use:   "approve [request-id]",
	Short: "Grant a pending permission request",
	Args:  cobra.ExactArgs(1),
	RunE:  makePermissionResolver(true),
}

var resolveDenyCmd = &cobra.Command{
	Use:   "deny [request-id]",
	Short: "Deny a pending permission request",
	Args:  cobra.ExactArgs(1),
	RunE:  makePermissionResolver(false),
}

var resolvePlanCmd = &cobra.Command{
	Use:   "plan [request-id] [approved|rejected|edits]",
	Short: "Settle a pending plan review",
	Args:  cobra.ExactArgs(2),
	RunE:  runResolvePlan,
}

func init() {
	resolvePlanCmd.Flags().String("edits", "", "Requested changes when the decision is `edits`")
	resolveCmd.AddCommand(resolveAnswerCmd, resolveApproveCmd, resolveDenyCmd, resolvePlanCmd)
	rootCmd.AddCommand(pendingCmd, resolveCmd)
}

func runPending(cmd *cobra.Command, args []string) error {
	c, err := dialOperator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	reqs, err := c.ListPending(cmd.Context())
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		fmt.Println("Nothing pending.")
		return nil
	}
	for _, r := range reqs {
		age := style(colorDim, r.CreatedAt.Local().Format("15:04:05"))
		switch r.Kind {
		case broker.KindQuestion:
			fmt.Printf("%s %s %s %s\n", style(styleBoldYellow, "?"), r.ID, style(colorBold, r.AgentID), age)
			for i, q := range r.Questions {
				fmt.Printf("  %d. %s\n", i+1, q.Text)
				if len(q.Options) > 0 {
					fmt.Printf("     %s\n", style(colorDim, strings.Join(q.Options, " | ")))
				}
			}
			fmt.Printf("  %s\n", style(colorDim, "crewctl resolve answer "+r.ID+" \"...\""))
		case broker.KindPermission:
			fmt.Printf("%s %s %s wants %s %s\n", style(styleBoldYellow, "!"), r.ID, style(colorBold, r.AgentID), r.Permission, age)
			if r.Reason != "" {
				fmt.Printf("  %s\n", r.Reason)
			}
			fmt.Printf("  %s\n", style(colorDim, "crewctl resolve approve|deny "+r.ID))
		case broker.KindPlanReview:
			fmt.Printf("%s %s %s plan review %s\n", style(styleBoldYellow, "≡"), r.ID, style(colorBold, r.AgentID), age)
			fmt.Printf("  %s\n", style(colorDim, "crewctl resolve plan "+r.ID+" approved|rejected|edits"))
		}
	}
	return nil
}

func runResolveAnswer(cmd *cobra.Command, args []string) error {
	c, err := dialOperator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.ResolveQuestion(cmd.Context(), args[0], args[1:]); err != nil {
		return err
	}
	fmt.Printf("%s answered\n", style(styleBoldGreen, "✓"))
	return nil
}

func makePermissionResolver(granted bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := dialOperator(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.ResolvePermission(cmd.Context(), args[0], granted); err != nil {
			return err
		}
		verdict := style(styleBoldGreen, "granted")
		if !granted {
			verdict = style(styleBoldRed, "denied")
		}
		fmt.Printf("%s permission %s\n", style(styleBoldGreen, "✓"), verdict)
		return nil
	}
}

func runResolvePlan(cmd *cobra.Command, args []string) error {
	c, err := dialOperator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	edits, _ := cmd.Flags().GetString("edits")
	review := broker.PlanReview{Decision: broker.PlanDecision(args[1]), Edits: edits}
	if err := c.ResolvePlanReview(cmd.Context(), args[0], review); err != nil {
		return err
	}
	fmt.Printf("%s plan %s\n", style(styleBoldGreen, "✓"), args[1])
	return nil
}
