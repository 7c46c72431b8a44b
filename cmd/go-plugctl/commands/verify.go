package commands

import (
	"github.com/greeddj/go-plugctl/internal/plugctl/install"
	"github.com/urfave/cli/v2"
)

// Verify returns the CLI command that cross-checks registry records against the cache.
func Verify() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Verify installed plugins against the cache (all when no plugin is given)",
		ArgsUsage: "[plugin]...",
		Flags:     commonFlags(),
		Action: func(c *cli.Context) error {
			return withSession(c, func(s *session) error {
				var results []install.VerifyResult
				if c.NArg() == 0 {
					all, err := s.rt.Installer.VerifyAll(c.Context)
					if err != nil {
						s.p.Errorf("%v", err)
						return err
					}
					results = all
				} else {
					for _, id := range c.Args().Slice() {
						results = append(results, s.rt.Installer.Verify(c.Context, id))
					}
				}

				valid := true
				for _, r := range results {
					valid = valid && r.Valid
					if s.cfg.JSON {
						continue
					}
					for _, w := range r.Warnings {
						s.p.Warnf("%s: %s", r.PluginID, w)
					}
					if r.Valid {
						s.p.PersistentPrintf("✅ Verified: %s@%s", r.PluginID, r.Version)
						continue
					}
					problems := r.Errors
					if r.Error != nil {
						problems = append(problems, r.Error.Code+": "+r.Error.Message)
					}
					for _, problem := range problems {
						s.p.Errorf("%s: %s", r.PluginID, problem)
					}
				}
				if s.cfg.JSON {
					if results == nil {
						results = []install.VerifyResult{}
					}
					if err := s.printJSON(results); err != nil {
						return err
					}
				}
				if !valid {
					return errFailed
				}
				if !s.cfg.JSON {
					s.p.PersistentPrintf("🔎 %s checked", formatCount(len(results), "plugin(s)"))
				}
				return nil
			})
		},
	}
}
