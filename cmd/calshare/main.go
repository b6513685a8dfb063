package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "calshare",
		Usage: "Shared calendars with passwordless email sign-in.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", EnvVars: []string{"CALSHARE_SERVER"}, Usage: "calshared base URL"},
			&cli.StringFlag{Name: "state", EnvVars: []string{"CALSHARE_STATE"}, Usage: "path of the local state file"},
		},
		Commands: []*cli.Command{
			loginCommand(),
			completeCommand(),
			whoamiCommand(),
			logoutCommand(),
			calendarsCommand(),
			eventsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
