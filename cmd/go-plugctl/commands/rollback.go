package commands

import (
	"github.com/greeddj/go-plugctl/internal/plugctl/install"
	"github.com/urfave/cli/v2"
)

// Rollback returns the CLI command that re-activates an older cached version.
func Rollback() *cli.Command {
	return &cli.Command{
		Name:      "rollback",
		Aliases:   []string{"r"},
		Usage:     "Re-activate an older cached version of a plugin",
		ArgsUsage: "<plugin>",
		Flags: flags(engineFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:  "to",
				Usage: "Target version (default: highest cached version below the active one)",
			},
		}),
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<plugin>"); err != nil {
				return err
			}
			return withSession(c, func(s *session) error {
				res := s.rt.Installer.Rollback(c.Context, install.RollbackRequest{
					PluginID:      c.Args().First(),
					TargetVersion: c.String("to"),
				})
				return s.report(res, res.Result, "Rolled back", res)
			})
		},
	}
}
