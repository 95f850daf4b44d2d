package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/export"
)

func newOutcomesCmd() *cobra.Command {
	var (
		format string
		latest bool
		save   bool
		upload bool
	)
	cmd := &cobra.Command{
		Use:   "outcomes <campaign-id>",
		Short: "Export recorded outcomes of a campaign",
		Args:  cobra.ExactArgs(1),
		Example: `  mailer outcomes spring --format csv > spring.csv
  mailer outcomes spring --latest --save --s3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			id := args[0]
			var outcomes []domain.DeliveryOutcome
			if latest {
				outcomes, err = a.Store.LatestByCampaign(ctx, id)
			} else {
				outcomes, err = a.Store.QueryByCampaign(ctx, id)
			}
			if err != nil {
				return err
			}
			if len(outcomes) == 0 {
				return fmt.Errorf("campaign %q has no recorded outcomes", id)
			}

			if !save && !upload {
				return export.Write(cmd.OutOrStdout(), f, id, outcomes, time.Now())
			}
			if save {
				path, err := a.Exporter.Save(id, f, outcomes)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %d outcomes to %s\n", len(outcomes), path)
			}
			if upload {
				key, err := a.Exporter.Upload(ctx, id, f, outcomes)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Uploaded to s3://%s/%s\n", a.Config.Export.S3Bucket, key)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "export format (csv|json)")
	cmd.Flags().BoolVar(&latest, "latest", false, "only the most recent outcome per recipient")
	cmd.Flags().BoolVar(&save, "save", false, "write a file to the export directory instead of stdout")
	cmd.Flags().BoolVar(&upload, "s3", false, "upload to the configured S3 bucket")
	return cmd
}
