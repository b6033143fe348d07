package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/olivestudio/leadrecon/internal/app"
	"github.com/olivestudio/leadrecon/internal/config"
	"github.com/olivestudio/leadrecon/internal/datanorm"
	"github.com/olivestudio/leadrecon/internal/stats"
)

const noFilesMsg = "לא נבחרו קבצים לעיבוד."

type rootOptions struct {
	configPath string
	dataDir    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "leadrecon",
		Short:         "Reconcile gym lead and membership exports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config/config.yaml", "config file")
	root.PersistentFlags().StringVar(&opts.dataDir, "dir", "", "directory holding the report exports")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newRunCmd(opts),
		newReportCmd(opts),
		newWatchCmd(opts),
		newServeCmd(opts),
		newVersionCmd(),
	)
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.LoadFromEnv(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if o.dataDir != "" {
		cfg.Pipeline.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

func (o *rootOptions) build(ctx context.Context) (*app.App, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg)
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var noPublish bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile the exports, publish the sheet and print statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.Runner.Run(cmd.Context(), !noPublish)
			if errors.Is(err, datanorm.ErrNoReports) {
				return &exitError{code: 1, msg: noFilesMsg}
			}
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s (run %s)\n", out.Result.Describe(), out.Record.ID)
			if len(out.Record.Published) > 0 {
				fmt.Fprintf(w, "published: %v\n", out.Record.Published)
			}
			md, err := reportText(out.ReportHTML)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, md)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noPublish, "no-publish", false, "skip publishing, archive and e-mail")
	return cmd
}

func reportText(html string) (string, error) {
	rd, err := stats.NewRenderer()
	if err != nil {
		return "", err
	}
	return rd.Markdown(html)
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	var asHTML bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print statistics of the last reconciled snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var body string
			if asHTML {
				body, err = a.Runner.Report(cmd.Context())
			} else {
				body, err = a.Runner.ReportMarkdown(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asHTML, "html", false, "print the HTML fragment instead of Markdown")
	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the pipeline whenever exports in the data directory change",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Watcher().Watch(cmd.Context())
		},
	}
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload, run and report API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(cmd.Context(), watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "also watch the data directory")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "leadrecon %s (%s)\n", version, commit)
		},
	}
}
