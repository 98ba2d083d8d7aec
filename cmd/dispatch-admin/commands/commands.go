// Package commands implements the dispatch-admin command tree.
package commands

import (
	"github.com/urfave/cli/v3"
)

func idFlag(usage string) cli.Flag {
	return &cli.StringFlag{Name: "id", Usage: usage, Required: true}
}

// New builds the root command. open is called once per action.
func New(open Opener) *cli.Command {
	return &cli.Command{
		Name:  "dispatch-admin",
		Usage: "Operate the dispatch engine as an administrator",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to configuration file",
				Value:   "configs/dispatch-admin/config.yaml",
				Sources: cli.EnvVars("DISPATCH_ADMIN_CONFIG_PATH"),
			},
			&cli.StringFlag{
				Name:    "admin-id",
				Usage:   "admin identity recorded on actions",
				Value:   "dispatch-admin",
				Sources: cli.EnvVars("DISPATCH_ADMIN_ID"),
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "output format: table or json",
				Value: "table",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "jobs",
				Usage: "Inspect and re-match jobs",
				Commands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Show a job and its match attempts",
						Flags:  []cli.Flag{idFlag("job id")},
						Action: withApp(open, jobShow),
					},
					{
						Name:  "manual-queue",
						Usage: "List jobs awaiting manual matching",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "limit", Usage: "maximum jobs to list", Value: 50},
						},
						Action: withApp(open, jobManualQueue),
					},
					{
						Name:   "rematch",
						Usage:  "Open a fresh matching window for a job",
						Flags:  []cli.Flag{idFlag("job id")},
						Action: withApp(open, jobRematch),
					},
					{
						Name:  "no-show",
						Usage: "Cancel an assigned job whose provider never arrived",
						Flags: []cli.Flag{
							idFlag("job id"),
							&cli.StringFlag{Name: "note", Usage: "recorded as the cancellation reason"},
						},
						Action: withApp(open, jobNoShow),
					},
				},
			},
			{
				Name:  "penalties",
				Usage: "Resolve cancellation penalties",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "List penalties",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "provider", Usage: "filter by provider id"},
							&cli.StringFlag{Name: "job", Usage: "filter by job id"},
							&cli.StringFlag{Name: "status", Usage: "filter by status: assessed, charged or waived"},
						},
						Action: withApp(open, penaltyList),
					},
					{
						Name:  "waive",
						Usage: "Waive an assessed penalty",
						Flags: []cli.Flag{
							idFlag("penalty id"),
							&cli.StringFlag{Name: "reason", Usage: "why the penalty is waived", Required: true},
						},
						Action: withApp(open, penaltyWaive),
					},
					{
						Name:   "retry",
						Usage:  "Retry charging an assessed penalty",
						Flags:  []cli.Flag{idFlag("penalty id")},
						Action: withApp(open, penaltyRetry),
					},
				},
			},
			{
				Name:  "providers",
				Usage: "Inspect providers and edit compliance",
				Commands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Show a provider's compliance state",
						Flags:  []cli.Flag{idFlag("provider id")},
						Action: withApp(open, providerShow),
					},
					{
						Name:  "compliance",
						Usage: "Update compliance fields; only the flags given change",
						Flags: []cli.Flag{
							idFlag("provider id"),
							&cli.StringFlag{Name: "background-check", Usage: "pending, clear or rejected"},
							&cli.StringFlag{Name: "tier", Usage: "independent or verified_pro"},
							&cli.BoolFlag{Name: "nda", Usage: "NDA accepted"},
							&cli.BoolFlag{Name: "payment-method", Usage: "payment method on file"},
							&cli.BoolFlag{Name: "payout-onboarded", Usage: "payout onboarding finished"},
							&cli.BoolFlag{Name: "available", Usage: "accepting new offers"},
							&cli.StringFlag{Name: "incident-payment-method", Usage: "card reference for penalty charges"},
							&cli.StringFlag{Name: "payout-account", Usage: "payout account reference"},
						},
						Action: withApp(open, providerCompliance),
					},
				},
			},
		},
	}
}
