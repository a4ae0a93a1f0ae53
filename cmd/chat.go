package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

var chatDataset string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive analysis session",
	Long: `Start a conversation with the analyst.

Commands inside the session:
  /load <file.csv>  attach a dataset to the next question
  /dataset          show the dataset attached to the next question
  /session          print the session id
  /help             show this help
  /quit             leave`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatDataset, "dataset", "d", "", "CSV file to attach to the first question")
	chatCmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to resume (a new one is created when empty)")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	pending, err := datasetFromPath(chatDataset)
	if err != nil {
		return err
	}

	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		sid = uuid.NewString()
	}

	out := cmd.OutOrStdout()
	p := newPrinter(out, a.cfg.ChartDir)
	prompt := color.New(color.FgCyan, color.Bold).SprintFunc()

	fmt.Fprintf(out, "session %s, type /help for commands\n", sid)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, prompt("you> "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, next := handleChatCommand(out, line, sid, pending)
			if quit {
				return nil
			}
			pending = next
			continue
		}

		res, err := a.orch.SubmitTurn(ctx, contractx.Query{SessionID: sid, Text: line, Dataset: pending})
		if err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("turn failed")
		} else {
			pending = nil
		}
		p.Result(res)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// handleChatCommand runs a slash command and returns whether to quit and the
// dataset to attach to the next question.
func handleChatCommand(out io.Writer, line, sid string, pending *contractx.DatasetRef) (bool, *contractx.DatasetRef) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true, pending
	case "/help":
		fmt.Fprintln(out, "/load <file.csv>, /dataset, /session, /help, /quit")
	case "/session":
		fmt.Fprintln(out, sid)
	case "/dataset":
		if pending == nil {
			fmt.Fprintln(out, "no dataset attached; follow-ups use the session's last analyzed dataset")
		} else {
			fmt.Fprintf(out, "%s (%s)\n", pending.Name, pending.ID)
		}
	case "/load":
		if arg == "" {
			fmt.Fprintln(out, color.YellowString("usage: /load <file.csv>"))
			break
		}
		ref, err := datasetFromPath(arg)
		if err != nil {
			fmt.Fprintf(out, "%s %v\n", color.RedString("✗"), err)
			break
		}
		fmt.Fprintf(out, "%s loaded %s, ask a question about it\n", color.GreenString("✓"), ref.Name)
		return false, ref
	default:
		fmt.Fprintf(out, "%s unknown command %s\n", color.YellowString("?"), name)
	}
	return false, pending
}
