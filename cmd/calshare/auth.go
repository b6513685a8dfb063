package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:      "login",
		Usage:     "Email yourself a sign-in link.",
		ArgsUsage: "<email>",
		Action: withEnv(func(c *cli.Context, e *env) error {
			if err := argN(c, 1, "<email>"); err != nil {
				return err
			}
			if err := e.auth.RequestSignInLink(c.Context, c.Args().First()); err != nil {
				return fmt.Errorf("request sign-in link: %w", err)
			}
			fmt.Printf("A sign-in link was sent to %s.\nOpen it, then run: calshare complete '<link>'\n", c.Args().First())
			return nil
		}),
	}
}

func completeCommand() *cli.Command {
	return &cli.Command{
		Name:      "complete",
		Usage:     "Finish signing in with the link from your email.",
		ArgsUsage: "<link>",
		Action: withEnv(func(c *cli.Context, e *env) error {
			if err := argN(c, 1, "<link>"); err != nil {
				return err
			}
			user, err := e.auth.DetectAndCompleteSignIn(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("complete sign-in: %w", err)
			}
			if user == nil {
				return fmt.Errorf("that is not a sign-in link")
			}
			fmt.Printf("Signed in as %s\n", user.Email)
			return nil
		}),
	}
}

func whoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show who is signed in.",
		Action: withEnv(func(c *cli.Context, e *env) error {
			if err := e.auth.Init(c.Context); err != nil {
				return fmt.Errorf("check sign-in: %w", err)
			}
			user := e.auth.CurrentUser()
			switch {
			case user != nil:
				fmt.Printf("%s (%s)\n", user.Email, user.UID)
			default:
				fmt.Printf("Not signed in (%s)\n", e.auth.State())
			}
			return nil
		}),
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Sign out and forget the stored token.",
		Action: withEnv(func(c *cli.Context, e *env) error {
			if err := e.auth.SignOut(c.Context); err != nil {
				return fmt.Errorf("sign out: %w", err)
			}
			fmt.Println("Signed out")
			return nil
		}),
	}
}
