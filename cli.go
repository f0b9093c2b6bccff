package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

// Applicator defines the interface for the core application logic.
// This allows the CLI to be tested independently of the main app implementation.
type Applicator interface {
	Sync(ctx context.Context, cfgPath string) error
	PullStatus(ctx context.Context, cfgPath string) error
	PushStatus(ctx context.Context, cfgPath string) error
	Summary(ctx context.Context, cfgPath string) error
	Serve(ctx context.Context, cfgPath string) error
	Import(ctx context.Context, cfgPath, file, sheet string) error
	Logs(ctx context.Context, cfgPath string, limit int) error
	ExportSQL(ctx context.Context, dir string) error
}

// BuildCLI creates the full CLI command structure for the application.
// It injects the core application logic (the Applicator) into the command actions.
func BuildCLI(app Applicator) *cli.Command {
	// Define flags that are common across multiple commands.
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "config.yaml",
		Usage:   "path to the configuration file",
	}

	// configCommand builds a command that only needs the configuration path.
	configCommand := func(name, usage string, action func(ctx context.Context, cfgPath string) error) *cli.Command {
		return &cli.Command{
			Name:  name,
			Usage: usage,
			Flags: []cli.Flag{configFlag},
			Action: func(ctx context.Context, c *cli.Command) error {
				return action(ctx, c.String("config"))
			},
		}
	}

	syncCmd := configCommand("sync", "Copy CRM contact details to the staging table and workspace pages", app.Sync)
	pullCmd := configCommand("pull-status", "Copy each workspace page status into the staging table", app.PullStatus)
	pushCmd := configCommand("push-status", "Write each staging table status back to its CRM contact", app.PushStatus)
	summaryCmd := configCommand("summary", "Post the weekly client summary to Slack now", app.Summary)
	serveCmd := configCommand("serve", "Run the webhook server with the daily sync and weekly summary schedule", app.Serve)

	importCmd := &cli.Command{
		Name:  "import",
		Usage: "Seed the staging table from a spreadsheet; existing clients are skipped",
		Flags: []cli.Flag{
			configFlag,
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "the .xlsx file to import", Required: true},
			&cli.StringFlag{Name: "sheet", Aliases: []string{"s"}, Usage: "the sheet name (default: the first sheet)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Import(ctx, c.String("config"), c.String("file"), c.String("sheet"))
		},
	}

	logsCmd := &cli.Command{
		Name:  "logs",
		Usage: "Print the most recent log entries",
		Flags: []cli.Flag{
			configFlag,
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 50, Usage: "the number of entries to print (0 for all)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Logs(ctx, c.String("config"), int(c.Int("limit")))
		},
	}

	exportCmd := &cli.Command{
		Name:  "export-sql",
		Usage: "Write the embedded sql files to a directory for use as sql_dir",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Value: ".", Usage: "the directory to write the sql directory into"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.ExportSQL(ctx, c.String("dir"))
		},
	}

	// Assemble the root command.
	rootCmd := &cli.Command{
		Name:     "clientsync",
		Usage:    "Keep the CRM, the workspace client database and the staging table in step",
		Commands: []*cli.Command{syncCmd, pullCmd, pushCmd, summaryCmd, serveCmd, importCmd, logsCmd, exportCmd},
	}

	return rootCmd
}
