// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

func jsonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print output",
			Value: true,
		},
	}
}

func accountFlags() []cli.Flag {
	return []cli.Flag{
		configFlag(),
		&cli.StringFlag{
			Name:  "jid",
			Usage: "Bare chat address of the account owner",
		},
		&cli.StringFlag{
			Name:    "service",
			Aliases: []string{"s"},
			Usage:   "Service tag",
		},
	}
}

// runCommand starts the relay.
func runCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Connect to the chat server and relay feeds until interrupted",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Run,
	}
}

// setupCommand handles setup operations for the configuration and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Create the config file if missing, initialize the database and run migrations",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupDatabase,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recent schema migration",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupRollback,
			},
		},
	}
}

// servicesCommand inspects and reconciles the declared feed services.
func servicesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "services",
		Usage: "Feed service operations",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List declared services and their stored rows",
				Flags:  append([]cli.Flag{configFlag()}, jsonFlags()...),
				Action: r.ServicesList,
			},
			{
				Name:   "reconcile",
				Usage:  "Bring stored services in line with the configuration",
				Flags:  append([]cli.Flag{configFlag()}, jsonFlags()...),
				Action: r.ServicesReconcile,
			},
		},
	}
}

// accountsCommand manages feed accounts.
func accountsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "accounts",
		Aliases: []string{"account"},
		Usage:   "Feed account operations",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List accounts, optionally filtered by owner or service",
				Flags: append(accountFlags(), append(jsonFlags(), &cli.BoolFlag{
					Name:  "csv",
					Usage: "Output CSV",
				})...),
				Action: r.AccountsList,
			},
			{
				Name:  "add",
				Usage: "Create an account and store its credential pair",
				Flags: append(accountFlags(),
					&cli.StringFlag{
						Name:  "key",
						Usage: "Username or access token",
					},
					&cli.StringFlag{
						Name:  "secret",
						Usage: "Password or refresh token",
					},
				),
				Action: r.AccountsAdd,
			},
			{
				Name:  "link",
				Usage: "Authorize an oauth2 account in the browser",
				Flags: append(accountFlags(), &cli.DurationFlag{
					Name:  "timeout",
					Usage: "How long to wait for the authorization callback",
					Value: defaultLinkTimeout,
				}),
				Action: r.AccountsLink,
			},
			{
				Name:   "remove",
				Usage:  "Delete an account",
				Flags:  accountFlags(),
				Action: r.AccountsRemove,
			},
			{
				Name:   "reset",
				Usage:  "Reset an account's cursor so the next join replays history",
				Flags:  accountFlags(),
				Action: r.AccountsReset,
			},
		},
	}
}

// usersCommand manages users.
func usersCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "User operations",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List users",
				Flags:  append([]cli.Flag{configFlag()}, jsonFlags()...),
				Action: r.UsersList,
			},
			{
				Name:  "remove",
				Usage: "Delete a user and all of their accounts",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "jid",
						Usage: "Bare chat address of the user",
					},
				},
				Action: r.UsersRemove,
			},
		},
	}
}
