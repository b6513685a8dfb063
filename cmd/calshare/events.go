package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dukerupert/calshare/internal/calendar"
)

// parseTime accepts RFC 3339 or a local "YYYY-MM-DD HH:MM".
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, use RFC 3339 or \"YYYY-MM-DD HH:MM\"", s)
	}
	return t, nil
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Add and remove events.",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add an event to a calendar.",
				ArgsUsage: "<calendar-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "start", Required: true, Usage: "start time"},
					&cli.StringFlag{Name: "end", Usage: "end time (default: start + duration)"},
					&cli.DurationFlag{Name: "duration", Value: time.Hour},
				},
				Action: withSignIn(func(c *cli.Context, e *env) error {
					if err := argN(c, 1, "<calendar-id>"); err != nil {
						return err
					}
					start, err := parseTime(c.String("start"))
					if err != nil {
						return err
					}
					end := start.Add(c.Duration("duration"))
					if c.IsSet("end") {
						if end, err = parseTime(c.String("end")); err != nil {
							return err
						}
					}

					cal, err := e.client.AddEvent(c.Context, c.Args().First(), calendar.NewEvent{
						Name:      c.String("name"),
						StartTime: start,
						EndTime:   end,
					})
					if err != nil {
						return err
					}
					if cal == nil {
						return fmt.Errorf("event name, start and end are required")
					}
					fmt.Printf("Added %s (%s)\n", cal.Events[0].Name, cal.Events[0].ID)
					return nil
				}),
			},
			{
				Name:      "remove",
				Usage:     "Remove an event by position or id.",
				ArgsUsage: "<calendar-id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "index", Usage: "position as shown by 'calendars show'"},
					&cli.StringFlag{Name: "id", Usage: "event id"},
				},
				Action: withSignIn(func(c *cli.Context, e *env) error {
					if err := argN(c, 1, "<calendar-id>"); err != nil {
						return err
					}
					calID := c.Args().First()
					switch {
					case c.IsSet("id"):
						_, err := e.client.RemoveEventByID(c.Context, calID, c.String("id"))
						if err != nil {
							return err
						}
					case c.IsSet("index"):
						_, err := e.client.RemoveEvent(c.Context, calID, c.Int("index"))
						if err != nil {
							return err
						}
					default:
						return fmt.Errorf("one of --index or --id is required")
					}
					fmt.Println("Event removed")
					return nil
				}),
			},
		},
	}
}
