package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"whatsapp-relay/internal/domain"
)

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List known users and their message counts",
		RunE:  runUsers,
	}
	cmd.Flags().Bool("json", false, "print the listing as JSON")
	return cmd
}

func runUsers(cmd *cobra.Command, _ []string) error {
	relay, _, _, logCloser, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()
	defer func() { _ = relay.Close() }()

	stats, err := relay.Profiles.Stats(cmd.Context())
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	return printStats(cmd.OutOrStdout(), stats, asJSON)
}

func printStats(w io.Writer, stats domain.UserStats, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WA_ID\tNAME\tMESSAGES\tLAST ACTIVITY")
	for _, u := range stats.Users {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", u.WaID, u.Name, u.MessageCount, u.LastActivity.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "\ntotal: %d\n", stats.TotalUsers)
	return tw.Flush()
}
