package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"vpn-access-bot/internal/storage"
)

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Manage access requests from the terminal",
	Long:  `List, approve and decline access requests without going through the chat channel.`,
}

var requestsListCmd = &cobra.Command{
	Use:   "list [pending|approved]",
	Short: "List requests",
	Long:  `List requests by state. Defaults to pending.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		state := "pending"
		if len(args) > 0 {
			state = args[0]
		}

		if state != "pending" && state != "approved" {
			slog.Error("Invalid state", "state", state)
			fmt.Println("Valid states: pending, approved")
			os.Exit(1)
		}

		var rows []storage.Request
		err := provider.WithTx(ctx, func(tx storage.Tx) error {
			var err error
			if state == "approved" {
				rows, err = tx.ListApproved()
			} else {
				rows, err = tx.ListPending()
			}
			return err
		})
		if err != nil {
			slog.Error("Failed to list requests", "error", err)
			os.Exit(1)
		}

		if len(rows) == 0 {
			fmt.Printf("No %s requests found\n", state)
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tREQUESTER\tTARGETS\tIP\tPROVISION\tCREATED AT")
		for _, row := range rows {
			ip := ""
			if row.IPAddr != nil {
				ip = *row.IPAddr
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				row.ID,
				row.Requester,
				row.AccessTargets,
				ip,
				row.ProvisionState,
				row.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		w.Flush()
	},
}

var requestsApproveCmd = &cobra.Command{
	Use:   "approve <request_id>",
	Short: "Approve a pending request",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		requestID := parseID(args[0])
		operator := getActiveUser()

		_, engine := buildDispatcher(cfg, []string{operator})
		res, err := engine.Approve(context.Background(), operator, requestID)
		if err != nil {
			slog.Error("Failed to approve request", "request_id", requestID, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Request %d approved for %s (ip %s) by %s\n", res.RequestID, res.Requester, res.IP, operator)
	},
}

var requestsDeclineCmd = &cobra.Command{
	Use:   "decline <request_id> [reason...]",
	Short: "Decline a pending request",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		requestID := parseID(args[0])
		reason := strings.Join(args[1:], " ")
		operator := getActiveUser()

		_, engine := buildDispatcher(cfg, []string{operator})
		res, err := engine.Decline(context.Background(), operator, requestID, reason)
		if err != nil {
			slog.Error("Failed to decline request", "request_id", requestID, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Request %d declined by %s\n", res.RequestID, operator)
	},
}

func parseID(arg string) int64 {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 1 {
		slog.Error("Invalid request id", "id", arg)
		fmt.Println("request_id must be a positive integer")
		os.Exit(1)
	}
	return id
}

// getActiveUser returns a string identifying who is performing the action.
// Format: username@hostname
func getActiveUser() string {
	username := "unknown"
	if currentUser, err := user.Current(); err == nil {
		username = currentUser.Username
	}

	hostname := "unknown"
	// Check environment variable first for SSH sessions
	if h := os.Getenv("SSH_CLIENT"); h != "" {
		sshClient := strings.Split(h, " ")
		if len(sshClient) > 0 {
			hostname = sshClient[0]
		}
	} else if h, err := os.Hostname(); err == nil {
		hostname = h
	}

	return fmt.Sprintf("%s@%s", username, hostname)
}

func init() {
	requestsCmd.AddCommand(requestsListCmd)
	requestsCmd.AddCommand(requestsApproveCmd)
	requestsCmd.AddCommand(requestsDeclineCmd)
	rootCmd.AddCommand(requestsCmd)
}
