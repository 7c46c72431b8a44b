package commands

import (
	"fmt"

	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/manifest"
	"github.com/urfave/cli/v2"
)

// Changelog returns the CLI command group for plugin changelogs.
func Changelog() *cli.Command {
	return &cli.Command{
		Name:  "changelog",
		Usage: "Show plugin changelogs and manage their cache",
		Subcommands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Fetch the changelog of an installed plugin",
				ArgsUsage: "<plugin>",
				Flags:     engineFlags(),
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1, "<plugin>"); err != nil {
						return err
					}
					return withSession(c, func(s *session) error {
						id := c.Args().First()
						rec, ok, err := s.rt.Registry.Get(id)
						if err != nil {
							s.p.Errorf("%v", err)
							return err
						}
						if !ok {
							err := fmt.Errorf("%w: %s", helpers.ErrPluginNotFound, id)
							s.p.Errorf("%v", err)
							return err
						}
						m, err := manifest.Load(rec.CachePath)
						if err != nil {
							s.p.Errorf("%v", err)
							return err
						}
						res := s.rt.Changelog.Fetch(c.Context, id, m.ChangelogURL)
						if s.cfg.JSON {
							return s.printJSON(res)
						}
						if !res.Status.OK() {
							s.p.Warnf("%s", res.DisplayMessage)
							return nil
						}
						return s.table(res, []string{res.Content})
					})
				},
			},
			{
				Name:  "purge",
				Usage: "Drop every cached changelog",
				Flags: commonFlags(),
				Action: func(c *cli.Context) error {
					return withSession(c, func(s *session) error {
						n, err := s.rt.Changelog.Purge()
						if err != nil {
							s.p.Errorf("%v", err)
							return err
						}
						return s.emit(map[string]int{"purged": n}, true, fmt.Sprintf("🧹 Purged %s", formatCount(n, "changelog(s)")))
					})
				},
			},
		},
	}
}
