package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"vpn-access-bot/internal/app"
	"vpn-access-bot/internal/command"
	"vpn-access-bot/internal/config"
	"vpn-access-bot/internal/ippool"
	"vpn-access-bot/internal/notify"
	"vpn-access-bot/internal/provision"
	"vpn-access-bot/internal/workflow"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the access bot server",
	Run: func(cmd *cobra.Command, args []string) {
		dispatcher, engine := buildDispatcher(cfg, nil)

		server := app.HTTPServer(cfg, engine, dispatcher)
		slog.Info("Starting server", "listen", cfg.HTTP.Listen)
		if err := server.Run(cfg.HTTP.Listen); err != nil {
			slog.Error("Server stopped", "error", err)
			os.Exit(1)
		}
	},
}

// buildDispatcher assembles the workflow engine and command dispatcher from
// the loaded config. extraApprovers extends the approver set for the
// lifetime of this process (used by the local admin commands; shell access
// outranks chat identity).
func buildDispatcher(cfg *config.Config, extraApprovers []string) (*command.Dispatcher, *workflow.Engine) {
	pool, err := ippool.New(cfg.Pool.Start, cfg.Pool.Size)
	if err != nil {
		slog.Error("Invalid IP pool configuration", "error", err)
		os.Exit(1)
	}

	sender, err := notify.NewEmailSender(cfg.Notify)
	if err != nil {
		slog.Error("Failed to initialize notifier", "error", err)
		os.Exit(1)
	}

	approvers := append(append([]string{}, cfg.Approvers...), extraApprovers...)

	engine := workflow.New(workflow.Params{
		Store:         provider,
		Pool:          pool,
		Issuer:        &provision.ScriptIssuer{Script: cfg.Scripts.MakeKey},
		Enforcer:      &provision.ScriptEnforcer{Script: cfg.Scripts.UpdateAccess},
		Notifier:      command.NewNotices(sender, cfg.Approvers),
		Approvers:     approvers,
		Services:      cfg.Services,
		CredentialURL: cfg.Credential.DownloadURL,
	})

	return command.NewDispatcher(engine, cfg.Services, approvers), engine
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
