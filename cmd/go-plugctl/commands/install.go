package commands

import (
	"errors"

	"github.com/greeddj/go-plugctl/cmd/go-plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/install"
	"github.com/urfave/cli/v2"
)

// Install returns the CLI command that installs plugins from directories or tar.gz archives.
func Install() *cli.Command {
	return &cli.Command{
		Name:      "install",
		Aliases:   []string{"i"},
		Usage:     "Install plugins from directories or .tar.gz archives",
		ArgsUsage: "<source>...",
		Flags:     flags(engineFlags(), helpers.InstallFlags()),
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<source>..."); err != nil {
				return err
			}
			return withSession(c, func(s *session) error {
				var failed error
				for _, src := range c.Args().Slice() {
					s.p.Printf("Installing %s", src)
					res := s.rt.Installer.Install(c.Context, installRequest(c, src))
					if err := s.report(res, res.Result, "Installed", res); err != nil {
						failed = errors.Join(failed, err)
					}
				}
				return failed
			})
		},
	}
}

// Update returns the CLI command that replaces installed plugins with new versions.
func Update() *cli.Command {
	return &cli.Command{
		Name:      "update",
		Aliases:   []string{"u"},
		Usage:     "Update installed plugins from directories or .tar.gz archives",
		ArgsUsage: "<source>...",
		Flags: flags(engineFlags(), helpers.InstallFlags(), []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Update every source concurrently, skipping pinned and current plugins",
			},
		}),
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<source>..."); err != nil {
				return err
			}
			return withSession(c, func(s *session) error {
				if c.Bool("all") {
					return updateAll(c, s)
				}
				var failed error
				for _, src := range c.Args().Slice() {
					s.p.Printf("Updating %s", src)
					res := s.rt.Installer.Update(c.Context, installRequest(c, src))
					if err := s.report(res, res.Result, "Updated", res); err != nil {
						failed = errors.Join(failed, err)
					}
				}
				return failed
			})
		},
	}
}

func updateAll(c *cli.Context, s *session) error {
	reqs := make([]install.Request, 0, c.NArg())
	for _, src := range c.Args().Slice() {
		reqs = append(reqs, installRequest(c, src))
	}
	batch := s.rt.Installer.UpdateAll(c.Context, reqs)
	if !s.cfg.JSON {
		for _, skip := range batch.Skipped {
			s.p.PersistentPrintf("⏭️ Skipped: %s (%s)", skip.PluginID, skip.Reason)
		}
	}
	ok := len(batch.Failed) == 0
	line := formatCount(len(batch.Succeeded), "updated") + ", " +
		formatCount(len(batch.Failed), "failed") + ", " +
		formatCount(len(batch.Skipped), "skipped")
	return s.emit(batch, ok, line)
}

func installRequest(c *cli.Context, src string) install.Request {
	return install.Request{
		Source:       src,
		PluginID:     c.String("id"),
		Version:      c.String("plugin-version"),
		Force:        c.Bool("force"),
		Pin:          c.Bool("pin"),
		SkipEviction: c.Bool("skip-eviction"),
		SkipScripts:  c.Bool("skip-scripts"),
	}
}
