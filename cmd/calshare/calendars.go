package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dukerupert/calshare/internal/identity"
	"github.com/dukerupert/calshare/internal/model"
)

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:    "calendars",
		Aliases: []string{"cal"},
		Usage:   "List and manage calendars.",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List calendars you can see.",
				Action: withSignIn(func(c *cli.Context, e *env) error {
					list, err := e.client.ListCalendars(c.Context)
					if err != nil {
						return err
					}
					printCalendars(os.Stdout, list, e.auth.CurrentUser().UID)
					return nil
				}),
			},
			{
				Name:      "show",
				Usage:     "Show a calendar with its events and members.",
				ArgsUsage: "<id>",
				Action: withSignIn(func(c *cli.Context, e *env) error {
					if err := argN(c, 1, "<id>"); err != nil {
						return err
					}
					cal, err := e.client.GetCalendar(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					printCalendar(os.Stdout, cal)
					return nil
				}),
			},
			{
				Name:      "create",
				Usage:     "Create a calendar.",
				ArgsUsage: "<name>",
				Action: withSignIn(func(c *cli.Context, e *env) error {
					name := strings.Join(c.Args().Slice(), " ")
					cal, err := e.client.CreateCalendar(c.Context, name)
					if err != nil {
						return err
					}
					if cal == nil {
						return fmt.Errorf("a calendar name is required")
					}
					fmt.Printf("Created %s (%s)\n", cal.Name, cal.ID)
					return nil
				}),
			},
			{
				Name:      "rename",
				Usage:     "Rename a calendar.",
				ArgsUsage: "<id> <name>",
				Action: withSignIn(func(c *cli.Context, e *env) error {
					if c.NArg() < 2 {
						return argN(c, 2, "<id>", "<name>")
					}
					cal, err := e.client.RenameCalendar(c.Context, c.Args().First(), strings.Join(c.Args().Tail(), " "))
					if err != nil {
						return err
					}
					if cal == nil {
						return fmt.Errorf("a calendar name is required")
					}
					fmt.Printf("Renamed to %s\n", cal.Name)
					return nil
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete a calendar.",
				ArgsUsage: "<id>",
				Action: withSignIn(func(c *cli.Context, e *env) error {
					if err := argN(c, 1, "<id>"); err != nil {
						return err
					}
					if err := e.client.DeleteCalendar(c.Context, c.Args().First()); err != nil {
						return err
					}
					fmt.Println("Deleted")
					return nil
				}),
			},
			{
				Name:      "share",
				Usage:     "Give someone access to a calendar.",
				ArgsUsage: "<id> <email>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "role", Value: string(model.RoleView), Usage: "VIEW, EDIT or ADMIN"},
				},
				Action: withSignIn(func(c *cli.Context, e *env) error {
					if err := argN(c, 2, "<id>", "<email>"); err != nil {
						return err
					}
					role, err := model.ParseRole(c.String("role"))
					if err != nil {
						return err
					}
					if _, err := e.client.Share(c.Context, c.Args().Get(0), c.Args().Get(1), role); err != nil {
						return err
					}
					fmt.Printf("Shared with %s as %s\n", c.Args().Get(1), role)
					return nil
				}),
			},
			{
				Name:      "unshare",
				Usage:     "Remove a member from a calendar. Use your own id to leave.",
				ArgsUsage: "<id> <user-id>",
				Action: withSignIn(func(c *cli.Context, e *env) error {
					if err := argN(c, 2, "<id>", "<user-id>"); err != nil {
						return err
					}
					if _, err := e.client.Unshare(c.Context, c.Args().Get(0), c.Args().Get(1)); err != nil {
						return err
					}
					fmt.Println("Member removed")
					return nil
				}),
			},
			{
				Name:      "export",
				Usage:     "Export a calendar as iCalendar.",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write to `FILE` instead of stdout"},
				},
				Action: withSignIn(func(c *cli.Context, e *env) error {
					if err := argN(c, 1, "<id>"); err != nil {
						return err
					}
					var w io.Writer = os.Stdout
					if path := c.String("out"); path != "" {
						f, err := os.Create(path)
						if err != nil {
							return fmt.Errorf("create %s: %w", path, err)
						}
						defer f.Close()
						w = f
					}
					return e.client.ExportICS(c.Context, c.Args().First(), w)
				}),
			},
			{
				Name:  "watch",
				Usage: "Print the calendar list every time it changes.",
				Action: withSignIn(func(c *cli.Context, e *env) error {
					ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
					defer stop()

					w, err := e.client.Watch(ctx)
					if err != nil {
						return err
					}
					defer w.Cancel()

					uid := e.auth.CurrentUser().UID
					for list := range w.C {
						fmt.Printf("--- %s\n", time.Now().Format(time.TimeOnly))
						printCalendars(os.Stdout, list, uid)
					}
					err = w.Err()
					if errors.Is(err, identity.ErrUnauthenticated) {
						return fmt.Errorf("signed out, run 'calshare login' again: %w", err)
					}
					return err
				}),
			},
		},
	}
}

func printCalendars(out io.Writer, list []model.Calendar, uid string) {
	if len(list) == 0 {
		fmt.Fprintln(out, "No calendars")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tROLE\tEVENTS\tUPDATED")
	for _, cal := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", cal.ID, cal.Name, cal.RoleOf(uid), len(cal.Events),
			cal.UpdatedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}

func printCalendar(out io.Writer, cal *model.Calendar) {
	fmt.Fprintf(out, "%s (%s)\n\n", cal.Name, cal.ID)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tEVENT\tSTART\tEND\tID")
	for i, ev := range cal.Events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i, ev.Name,
			ev.StartTime.Local().Format(time.DateTime), ev.EndTime.Local().Format(time.DateTime), ev.ID)
	}
	tw.Flush()

	members := make([]string, 0, len(cal.Roles))
	for uid := range cal.Roles {
		members = append(members, uid)
	}
	sort.Strings(members)
	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MEMBER\tROLE")
	for _, uid := range members {
		fmt.Fprintf(tw, "%s\t%s\n", uid, cal.Roles[uid])
	}
	tw.Flush()
}
