package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	statex "github.com/tanpawarit/multiagent-analyst/agent/state"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or delete stored conversations",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print the condensed history of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		sess, err := store.Load(cmd.Context(), args[0])
		if errors.Is(err, statex.ErrSessionNotFound) {
			return fmt.Errorf("session %s not found", args[0])
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "session %s, created %s, %d turn(s)\n",
			sess.ID, sess.CreatedAt.Local().Format(time.DateTime), len(sess.Turns))
		if sess.ActiveDataset != nil {
			fmt.Fprintf(out, "active dataset: %s (%s)\n", sess.ActiveDataset.Name, sess.ActiveDataset.ID)
		}
		for _, t := range sess.Turns {
			fmt.Fprintf(out, "\n%s %s\n", color.HiBlackString(t.At.Local().Format(time.DateTime)), statusBadge(t.Status))
			fmt.Fprintf(out, "  %s %s\n", color.CyanString("Q:"), t.Query)
			if len(t.Chain) > 0 {
				ids := make([]string, len(t.Chain))
				for i, id := range t.Chain {
					ids[i] = string(id)
				}
				fmt.Fprintf(out, "  %s %s\n", color.CyanString("chain:"), strings.Join(ids, " → "))
			}
			fmt.Fprintf(out, "  %s\n", t.Summary)
		}
		return nil
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s deleted session %s\n", color.GreenString("✓"), args[0])
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()
		return listSessions(cmd.Context(), cmd.OutOrStdout(), store)
	},
}

var clearConfirmed bool

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearConfirmed {
			return errors.New("refusing to delete every session without --yes")
		}
		store, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()
		return clearSessions(cmd.Context(), cmd.OutOrStdout(), store)
	},
}

func listSessions(ctx context.Context, out io.Writer, store statex.Store) error {
	infos, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintln(out, "no stored sessions")
		return nil
	}
	for _, info := range infos {
		fmt.Fprintf(out, "%s  %s  %d turn(s)\n",
			info.ID, color.HiBlackString(info.UpdatedAt.Local().Format(time.DateTime)), info.Turns)
	}
	return nil
}

func clearSessions(ctx context.Context, out io.Writer, store statex.Store) error {
	n, err := store.Clear(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s deleted %d session(s)\n", color.GreenString("✓"), n)
	return nil
}

func statusBadge(status contractx.ResultStatus) string {
	switch status {
	case contractx.StatusSuccess:
		return color.GreenString("[%s]", status)
	case contractx.StatusPartial:
		return color.YellowString("[%s]", status)
	default:
		return color.RedString("[%s]", status)
	}
}

func init() {
	sessionClearCmd.Flags().BoolVarP(&clearConfirmed, "yes", "y", false, "confirm deleting every session")

	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
	sessionCmd.AddCommand(sessionClearCmd)
}
