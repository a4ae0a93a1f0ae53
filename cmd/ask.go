package cmd

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

var askDataset string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a single question",
	Long: `Run one turn and print the answer. Charts are written to CHART_DIR.

Use --session to continue an existing conversation; the session id is printed
with every answer.`,
	Args: cobra.ArbitraryArgs,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askDataset, "dataset", "d", "", "CSV file to analyze")
	askCmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (a new one is created when empty)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	question := strings.TrimSpace(strings.Join(args, " "))

	dataset, err := datasetFromPath(askDataset)
	if err != nil {
		return err
	}
	if question == "" && dataset == nil {
		return errors.New("a question or --dataset is required")
	}

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		sid = uuid.NewString()
	}

	res, err := a.orch.SubmitTurn(ctx, contractx.Query{SessionID: sid, Text: question, Dataset: dataset})
	p := newPrinter(cmd.OutOrStdout(), a.cfg.ChartDir)
	p.Result(res)
	cmd.Printf("session %s\n", sid)
	return err
}
