package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/export"
	"github.com/ignite/campaign-mailer/internal/recipients"
	"github.com/ignite/campaign-mailer/internal/render"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
	"github.com/ignite/campaign-mailer/internal/templates"
)

type runOptions struct {
	recipientsPath string
	templatePath   string
	templateName   string
	vars           map[string]string
	campaignID     string
	resume         bool
	onlySelected   bool
	saveLog        bool
	quiet          bool
}

func newRunCmd(runnerOpts []campaign.Option) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Send a campaign",
		Long: `Send one personalized email per recipient row.

Recipients come from a CSV file with a header row. The template is a YAML
file with subject, html_body and text_body, or a built-in template chosen
with --template-name (default business_intro). {name} placeholders are
replaced from the recipient's columns and --var values; built-in templates
supply defaults for variables --var leaves unset.`,
		Args: cobra.NoArgs,
		Example: `  mailer run --recipients leads.csv --template welcome.yaml --var company=Ignite
  mailer run --recipients leads.csv --template welcome.yaml --campaign spring --resume
  mailer run --recipients leads.csv --var your_company_name=Ignite --var sender_name=Asha`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCampaign(cmd, opts, runnerOpts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.recipientsPath, "recipients", "r", "", "recipient CSV file")
	f.StringVarP(&opts.templatePath, "template", "t", "", "template YAML file")
	f.StringVar(&opts.templateName, "template-name", "", "built-in template (see 'mailer templates'; default "+templates.DefaultName+")")
	f.StringToStringVar(&opts.vars, "var", nil, "base variable shared by every recipient (repeatable, key=value)")
	f.StringVar(&opts.campaignID, "campaign", "", "campaign id (generated when empty)")
	f.BoolVar(&opts.resume, "resume", false, "skip recipients already sent under --campaign")
	f.BoolVar(&opts.onlySelected, "only-selected", false, "send only rows selected for the campaign")
	f.BoolVar(&opts.saveLog, "save-log", false, "write a JSON outcome log to the export directory")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print per-recipient progress")
	_ = cmd.MarkFlagRequired("recipients")
	cmd.MarkFlagsMutuallyExclusive("template", "template-name")
	return cmd
}

// LoadTemplate reads a YAML template file.
func LoadTemplate(path string) (domain.Template, error) {
	var tpl domain.Template
	data, err := os.ReadFile(path)
	if err != nil {
		return tpl, err
	}
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return tpl, fmt.Errorf("parse template %s: %w", path, err)
	}
	if tpl.IsEmpty() {
		return tpl, fmt.Errorf("template %s: %w", path, render.ErrEmptyTemplate)
	}
	return tpl, nil
}

// resolveTemplate returns the template file's contents, or the named
// built-in template with its default variables under vars.
func resolveTemplate(opts *runOptions) (domain.Template, map[string]string, error) {
	if opts.templatePath != "" {
		tpl, err := LoadTemplate(opts.templatePath)
		return tpl, opts.vars, err
	}
	b, err := templates.Lookup(opts.templateName)
	if err != nil {
		return domain.Template{}, nil, err
	}
	return b.Template, b.Variables(opts.vars), nil
}

func runCampaign(cmd *cobra.Command, opts *runOptions, runnerOpts []campaign.Option) error {
	if opts.resume && opts.campaignID == "" {
		return errors.New("--resume requires --campaign")
	}
	tpl, vars, err := resolveTemplate(opts)
	if err != nil {
		return err
	}
	rows, err := recipients.Load(opts.recipientsPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := campaign.WithOutcomeHook(func(done, total int, o domain.DeliveryOutcome) {
		if opts.quiet {
			return
		}
		line := fmt.Sprintf("[%d/%d] %s %s", done, total, o.RecipientID, o.Status)
		if o.Reason != "" {
			line += ": " + o.Reason
		}
		fmt.Fprintln(cmd.ErrOrStderr(), line)
	})
	a, err := openApp(ctx, append(slices.Clip(runnerOpts), progress)...)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.onlySelected {
		rows = recipients.Selected(rows, a.Config.Campaign.EmailColumn)
	}
	if opts.resume {
		if rows, err = a.Runner.FilterUnsent(ctx, opts.campaignID, rows); err != nil {
			return err
		}
	}

	result, runErr := a.Runner.Run(ctx, campaign.Run{
		CampaignID:    opts.campaignID,
		Recipients:    rows,
		Template:      tpl,
		BaseVariables: vars,
		Provider:      a.ProviderConfig(),
	})
	if result == nil {
		return runErr
	}

	if opts.saveLog {
		path, err := a.Exporter.Save(result.CampaignID, export.FormatJSON, result.Outcomes)
		if err != nil {
			return fmt.Errorf("save log: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Log saved to %s\n", path)
	}

	if err := printResult(cmd, result); err != nil {
		return err
	}
	if ctx.Err() != nil && runErr == nil {
		return context.Canceled
	}
	return runErr
}

func printResult(cmd *cobra.Command, res *domain.CampaignResult) error {
	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(out, "Campaign: %s\n", res.CampaignID)
	fmt.Fprintf(out, "Provider: %s\n", res.Provider)
	fmt.Fprintf(out, "Sent: %d  Failed: %d  Skipped: %d\n", res.Sent, res.Failed, res.Skipped)
	fmt.Fprintf(out, "Success rate: %.1f%%\n", res.SuccessRate())
	return nil
}
