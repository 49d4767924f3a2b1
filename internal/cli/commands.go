package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"viewbot/internal/app"
	"viewbot/internal/config"
	"viewbot/internal/pipeline"
)

type runOptions struct {
	dryRun bool
	dump   bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <view>",
		Short: "Deliver one view once",
		Example: `  viewbot run new_leads
  viewbot run weekly_digest --dry-run --dump`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var appOpts []app.Option
			if opts.dryRun {
				out := cmd.OutOrStdout()
				if !opts.dump {
					out = nil
				}
				appOpts = append(appOpts, app.WithDryRun(out))
			}
			a, err := app.New(root.configPath, appOpts...)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.RunView(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if res.AllSuccess {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: delivered %d item(s)\n", args[0], len(res.Outcomes))
				return nil
			}
			keys := make([]string, 0, len(res.Errors))
			for _, e := range res.Errors {
				keys = append(keys, e.Key+": "+e.Detail)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d of %d item(s) failed\n  %s\n",
				args[0], res.Failed(), len(res.Outcomes), strings.Join(keys, "\n  "))
			return ErrDeliveryFailed
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "log messages instead of sending them")
	cmd.Flags().BoolVar(&opts.dump, "dump", false, "with --dry-run, print each message as a JSON line")
	return cmd
}

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled views, answer interactions and reload config on change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(root.configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(cmd.Context())
		},
	}
}

type historyOptions struct {
	view  string
	limit int
	json  bool
}

func newHistoryCommand(root *rootOptions) *cobra.Command {
	opts := &historyOptions{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent deliveries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// no transport connection is needed to read history
			a, err := app.New(root.configPath, app.WithDryRun(nil))
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.History(cmd.Context(), opts.view, opts.limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				enc := json.NewEncoder(out)
				for _, r := range recs {
					if err := enc.Encode(r); err != nil {
						return err
					}
				}
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tVIEW\tITEM\tCHANNEL\tSTATUS")
			for _, r := range recs {
				status := "ok"
				if !r.Success {
					status = "failed: " + r.ErrorDetail
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.At.Local().Format(time.DateTime), r.View, r.ItemKey, r.ChannelID, status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&opts.view, "view", "", "only this view")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "max records")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print JSON lines")
	return cmd
}

func newValidateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and list its views",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(root.configPath).Load()
			if err != nil {
				return err
			}
			views := append([]config.ViewConfig(nil), cfg.Views...)
			sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VIEW\tCHANNEL\tSTRATEGY\tSCHEDULE")
			for _, v := range views {
				strategy, _ := pipeline.ParseStrategy(v.Strategy)
				schedule := v.Schedule
				switch {
				case v.Disabled:
					schedule = "(disabled)"
				case schedule == "":
					schedule = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Name, v.Channel, strategy, schedule)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d view(s)\n", len(views))
			return nil
		},
	}
}
