package commands

import (
	"fmt"

	"github.com/greeddj/go-plugctl/internal/plugctl/registry"
	"github.com/urfave/cli/v2"
)

// List returns the CLI command that prints installed plugins.
func List() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List installed plugins",
		Flags: flags(commonFlags(), []cli.Flag{
			&cli.StringFlag{Name: "state", Usage: "Only records in this state (INSTALLED, FAILED, DISABLED)"},
			&cli.BoolFlag{Name: "pinned", Usage: "Only pinned plugins"},
			&cli.BoolFlag{Name: "unpinned", Usage: "Only unpinned plugins"},
		}),
		Action: func(c *cli.Context) error {
			return withSession(c, func(s *session) error {
				q := registry.Query{State: registry.InstallState(c.String("state"))}
				switch {
				case c.Bool("pinned"):
					q.Pinned = new(bool)
					*q.Pinned = true
				case c.Bool("unpinned"):
					q.Pinned = new(bool)
				}
				plugins, err := s.rt.Registry.Query(q)
				if err != nil {
					s.p.Errorf("%v", err)
					return err
				}
				rows := make([]string, 0, len(plugins)+1)
				rows = append(rows, fmt.Sprintf("%-32s %-12s %-10s %-7s %s", "PLUGIN", "VERSION", "STATE", "PINNED", "INSTALLED"))
				for _, p := range plugins {
					rows = append(rows, fmt.Sprintf("%-32s %-12s %-10s %-7t %s",
						p.PluginID, p.Version, p.InstallState, p.Pinned, formatTime(p.InstalledAt)))
				}
				return s.table(plugins, rows)
			})
		},
	}
}
