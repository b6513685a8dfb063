package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/dukerupert/calshare/internal/authflow"
	"github.com/dukerupert/calshare/internal/client"
	"github.com/dukerupert/calshare/internal/config"
	"github.com/dukerupert/calshare/internal/logging"
)

// env is what every command needs: a signed-in capable API client and the
// sign-in controller sharing its state file.
type env struct {
	client *client.Client
	auth   *authflow.Controller
	logger *slog.Logger
}

func newEnv(c *cli.Context) (*env, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	if s := c.String("server"); s != "" {
		cfg.Server = strings.TrimRight(s, "/")
	}
	if p := c.String("state"); p != "" {
		cfg.StatePath = p
	}

	logger := logging.New(os.Stderr, cfg.LogLevel)
	kv := authflow.NewFileStore(cfg.StatePath)
	api := client.New(cfg.Server, kv)
	prompter := &authflow.LinePrompter{In: os.Stdin, Out: os.Stderr}
	ctrl := authflow.NewController(api, kv, prompter, cfg.Server+"/", logger.With("component", "authflow"))

	return &env{client: api, auth: ctrl, logger: logger}, nil
}

// requireSignIn runs the initial check and fails when nobody is signed in.
func (e *env) requireSignIn(c *cli.Context) error {
	if err := e.auth.Init(c.Context); err != nil {
		return fmt.Errorf("check sign-in: %w", err)
	}
	if e.auth.CurrentUser() == nil {
		return fmt.Errorf("not signed in, run: calshare login <email>")
	}
	return nil
}

func withEnv(fn func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := newEnv(c)
		if err != nil {
			return err
		}
		return fn(c, e)
	}
}

func withSignIn(fn func(c *cli.Context, e *env) error) cli.ActionFunc {
	return withEnv(func(c *cli.Context, e *env) error {
		if err := e.requireSignIn(c); err != nil {
			return err
		}
		return fn(c, e)
	})
}

func argN(c *cli.Context, n int, names ...string) error {
	if c.NArg() != n {
		return fmt.Errorf("usage: %s %s", c.Command.FullName(), strings.Join(names, " "))
	}
	return nil
}
