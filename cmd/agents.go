package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	specialistx "github.com/tanpawarit/multiagent-analyst/agent/agents/specialist"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the available agents and their capabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		descs, err := specialistx.LoadCapabilities()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		title := color.New(color.Bold).SprintFunc()
		for _, d := range descs {
			fmt.Fprintf(out, "%s  %s\n", title(d.Name), color.HiBlackString("(%s)", d.ID))
			fmt.Fprintf(out, "  %s\n", d.Description)
			for _, c := range d.Capabilities {
				fmt.Fprintf(out, "  • %s\n", c)
			}
			var needs []string
			if d.RequiresDataset {
				needs = append(needs, "a dataset")
			}
			if d.RequiresContext {
				needs = append(needs, "earlier results")
			}
			if len(needs) > 0 {
				fmt.Fprintf(out, "  %s\n", color.YellowString("requires %s", strings.Join(needs, " and ")))
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}
