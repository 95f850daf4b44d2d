// Package cmd provides the CLI commands for the campaign mailer.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ignite/campaign-mailer/internal/app"
	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
)

var (
	// cfgFile holds the path to the config file
	cfgFile string
	// outputFormat specifies the output format (json, plain)
	outputFormat string
)

// NewRootCmd creates a fresh command tree. opts are applied after the
// configured runner options.
func NewRootCmd(opts ...campaign.Option) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mailer",
		Short: "Personalized email campaign sender",
		Long: `mailer renders a template per recipient, delivers through SMTP,
SendGrid, Mailgun or Amazon SES, and records every outcome in an
append-only store.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults plus environment when empty)")
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "plain", "output format (json|plain)")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newOutcomesCmd())
	cmd.AddCommand(newTemplatesCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newPresetsCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openApp(ctx context.Context, opts ...campaign.Option) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, opts...)
}
