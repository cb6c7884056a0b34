package main

import "github.com/urfave/cli/v2"

// newApp creates the agent CLI
func newApp() *cli.App {
	app := cli.NewApp()
	app.Action = cli.ShowAppHelp
	app.Name = "boxbridge-agent"
	app.Usage = "Bridge deposits across chains through Coinbase Exchange"
	app.Commands = []*cli.Command{
		{
			Action:      runAgent,
			Name:        "run",
			Usage:       "Start the sweeper and the read API",
			Category:    "Agent",
			Description: `Applies migrations, then sweeps bridge transfers through all six steps while serving /estimate and /transfers.`,
		},
		{
			Action:      serveAPI,
			Name:        "serve",
			Usage:       "Start the read API only",
			Category:    "API",
			Description: `Serves /estimate and /transfers without sweeping. No signer key is needed.`,
		},
		{
			Action:   migrateDB,
			Name:     "migrate",
			Usage:    "Apply database migrations and exit",
			Category: "Database",
		},
		{
			Action:   printBalance,
			Name:     "balance",
			Usage:    "Print the exchange balance of a currency",
			Category: "Exchange",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "currency",
					Value: "USDC",
					Usage: "exchange currency code",
				},
				&cli.Uint64Flag{
					Name:  "chain-id",
					Usage: "also read an on-chain token balance on this chain",
				},
				&cli.StringFlag{
					Name:  "token",
					Usage: "token address for the on-chain balance",
				},
				&cli.StringFlag{
					Name:  "holder",
					Usage: "holder of the on-chain balance, defaults to the first allowed withdraw address",
				},
			},
		},
		{
			Action:   printEvents,
			Name:     "events",
			Usage:    "Print the event history of a bridge transfer",
			Category: "Database",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "proxy", Required: true, Usage: "deposit proxy contract address"},
				&cli.Uint64Flag{Name: "origin-chain-id", Required: true, Usage: "origin chain id"},
				&cli.StringFlag{Name: "deposit-id", Required: true, Usage: "deposit id"},
				&cli.BoolFlag{Name: "latest", Usage: "print only the latest event"},
			},
		},
	}
	return app
}
