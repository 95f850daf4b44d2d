package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ignite/campaign-mailer/internal/app"
	"github.com/ignite/campaign-mailer/internal/provider"
	"github.com/ignite/campaign-mailer/internal/templates"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the configured provider without sending mail",
		Long: `Check the configured provider. SMTP connects and authenticates; HTTP
providers validate their settings locally.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			p := cfg.Provider.ProviderConfig
			if err := app.VerifyProvider(cmd.Context(), p); err != nil {
				return fmt.Errorf("provider %s: %w", p.Type, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Provider %s: OK\n", p.Type)
			return nil
		},
	}
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List SMTP presets usable as provider.smtp_preset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(provider.SMTPPresets(), "\n"))
			return nil
		},
	}
}

func newTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List built-in templates usable with run --template-name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := templates.Default()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(reg.Names(), "\n"))
			return nil
		},
	}
}
