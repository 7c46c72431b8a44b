package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/greeddj/go-plugctl/internal/plugctl/registry"
	"github.com/urfave/cli/v2"
)

// Registry returns the CLI command group for registry maintenance.
func Registry() *cli.Command {
	return &cli.Command{
		Name:  "registry",
		Usage: "Inspect, back up and restore the installation registry",
		Subcommands: []*cli.Command{
			registryStats(),
			registryValidate(),
			registryBackup(),
			registryBackups(),
			registryRestore(),
		},
	}
}

func registryStats() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Summarize the registry",
		Flags: commonFlags(),
		Action: func(c *cli.Context) error {
			return withSession(c, func(s *session) error {
				st, err := s.rt.Registry.Stats()
				if err != nil {
					s.p.Errorf("%v", err)
					return err
				}
				states := make([]string, 0, len(st.ByState))
				for state, n := range st.ByState {
					states = append(states, fmt.Sprintf("%s=%d", state, n))
				}
				sort.Strings(states)
				return s.table(st, []string{
					fmt.Sprintf("plugins:       %d (%d pinned)", st.TotalPlugins, st.PinnedCount),
					fmt.Sprintf("states:        %s", strings.Join(states, " ")),
					fmt.Sprintf("installations: %d", st.TotalInstallations),
					fmt.Sprintf("updated:       %s", formatTime(st.LastUpdated)),
					fmt.Sprintf("oldest:        %s", formatTime(st.OldestInstall)),
					fmt.Sprintf("newest:        %s", formatTime(st.NewestInstall)),
				})
			})
		},
	}
}

func registryValidate() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Check the registry document for problems",
		Flags: commonFlags(),
		Action: func(c *cli.Context) error {
			return withSession(c, func(s *session) error {
				rep, err := s.rt.Registry.Validate()
				if err != nil {
					s.p.Errorf("%v", err)
					return err
				}
				return emitValidation(s, rep, "Registry")
			})
		},
	}
}

func emitValidation(s *session, rep registry.ValidationReport, what string) error {
	if !s.cfg.JSON {
		for _, w := range rep.Warnings {
			s.p.Warnf("%s", w)
		}
	}
	if rep.Valid {
		return s.emit(rep, true, fmt.Sprintf("✅ %s valid", what))
	}
	return s.emit(rep, false, fmt.Sprintf("❌ %s invalid: %s", what, strings.Join(rep.Errors, "; ")))
}

func registryBackup() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Snapshot the registry",
		Flags: commonFlags(),
		Action: func(c *cli.Context) error {
			return withSession(c, func(s *session) error {
				b, err := s.rt.Registry.CreateBackup(c.Context)
				if err != nil {
					s.p.Errorf("%v", err)
					return err
				}
				return s.emit(b, true, fmt.Sprintf("💾 Backup: %s", b.Path))
			})
		},
	}
}

func registryBackups() *cli.Command {
	return &cli.Command{
		Name:  "backups",
		Usage: "List registry snapshots, newest first",
		Flags: commonFlags(),
		Action: func(c *cli.Context) error {
			return withSession(c, func(s *session) error {
				backups, err := s.rt.Registry.ListBackups()
				if err != nil {
					s.p.Errorf("%v", err)
					return err
				}
				rows := []string{fmt.Sprintf("%-48s %-19s %10s", "NAME", "CREATED", "SIZE")}
				for _, b := range backups {
					rows = append(rows, fmt.Sprintf("%-48s %-19s %10s", b.Name, formatTime(b.CreatedAt), formatBytes(b.SizeBytes)))
				}
				return s.table(backups, rows)
			})
		},
	}
}

func registryRestore() *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Replace the registry with a snapshot",
		ArgsUsage: "<backup-name>",
		Flags:     commonFlags(),
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<backup-name>"); err != nil {
				return err
			}
			return withSession(c, func(s *session) error {
				name := c.Args().First()
				rep, err := s.rt.Registry.RestoreFromBackup(c.Context, name)
				if err != nil {
					s.p.Errorf("%v", err)
					return err
				}
				return emitValidation(s, rep, "Restored "+name+":")
			})
		},
	}
}
