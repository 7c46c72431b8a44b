package commands

import (
	"github.com/greeddj/go-plugctl/cmd/go-plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/uninstall"
	"github.com/urfave/cli/v2"
)

// Uninstall returns the CLI command that removes an installed plugin.
func Uninstall() *cli.Command {
	return &cli.Command{
		Name:      "uninstall",
		Aliases:   []string{"rm"},
		Usage:     "Remove a plugin; run with --dry-run first to get the confirmation token",
		ArgsUsage: "<plugin>",
		Flags:     flags(engineFlags(), helpers.UninstallFlags()),
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<plugin>"); err != nil {
				return err
			}
			retention, err := uninstall.ParseRetention(c.String("retention"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			return withSession(c, func(s *session) error {
				res := s.rt.Uninstaller.Uninstall(c.Context, uninstall.Request{
					PluginID:          c.Args().First(),
					ConfirmationToken: c.String("token"),
					ScriptDigest:      c.String("script-digest"),
					Force:             c.Bool("force"),
					DryRun:            s.cfg.DryRun,
					SkipScripts:       c.Bool("skip-scripts"),
					Retention:         retention,
					KeepVersions:      c.Int("keep"),
				})
				if res.Success && res.DryRun && !s.cfg.JSON && res.Script != nil {
					s.p.PersistentPrintf("📜 Uninstall script %s sha256 %s", res.Script.Path, res.Script.Digest)
				}
				return s.report(res, res.Result, "Uninstalled", res)
			})
		},
	}
}
