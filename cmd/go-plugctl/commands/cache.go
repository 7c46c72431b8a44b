package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/cache"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/urfave/cli/v2"
)

// Cache returns the CLI command group for cache maintenance.
func Cache() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect and maintain the plugin cache",
		Subcommands: []*cli.Command{
			cacheStats(),
			cacheList(),
			cacheEvict(),
			cacheClean(),
			cacheRebuild(),
			cacheValidate(),
			cacheLog(),
		},
	}
}

func cacheStats() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show cache usage",
		Flags: commonFlags(),
		Action: func(c *cli.Context) error {
			return withSession(c, func(s *session) error {
				st, err := s.rt.Cache.Stats()
				if err != nil {
					s.p.Errorf("%v", err)
					return err
				}
				return s.table(st, []string{
					fmt.Sprintf("size:    %s / %s (%.1f%%)", formatBytes(st.TotalSizeBytes), formatBytes(st.MaxSizeBytes), st.UsagePercent),
					fmt.Sprintf("entries: %d in %d plugin(s), %d pinned", st.EntryCount, st.PluginCount, st.PinnedCount),
					fmt.Sprintf("over:    %t", st.OverLimit),
				})
			})
		},
	}
}

func cacheList() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List cached versions (of one plugin, or all)",
		ArgsUsage: "[plugin]",
		Flags:     commonFlags(),
		Action: func(c *cli.Context) error {
			return withSession(c, func(s *session) error {
				ids := c.Args().Slice()
				if len(ids) == 0 {
					all, err := s.rt.Cache.ListPlugins()
					if err != nil {
						s.p.Errorf("%v", err)
						return err
					}
					ids = all
				}
				entries := []cache.Entry{}
				for _, id := range ids {
					list, err := s.rt.Cache.ListEntries(id)
					if err != nil {
						s.p.Errorf("%v", err)
						return err
					}
					entries = append(entries, list...)
				}
				rows := []string{fmt.Sprintf("%-40s %10s %-14s %s", "ENTRY", "SIZE", "FLAGS", "LAST ACCESS")}
				for _, e := range entries {
					rows = append(rows, fmt.Sprintf("%-40s %10s %-14s %s",
						helpers.EntryKey(e.PluginID, e.Version), formatBytes(e.SizeBytes),
						joinNonEmpty(flag(e.IsCurrentVersion, "current"), flag(e.Pinned, "pinned")),
						formatTime(e.LastAccessTime)))
				}
				return s.table(entries, rows)
			})
		},
	}
}

func cacheEvict() *cli.Command {
	return &cli.Command{
		Name:  "evict",
		Usage: "Evict least recently used versions until the cache fits its cap",
		Flags: commonFlags(),
		Action: func(c *cli.Context) error {
			return withSession(c, func(s *session) error {
				res, err := s.rt.Cache.Evict(c.Context)
				if err != nil {
					s.p.Errorf("%v", err)
					return err
				}
				if !res.EvictionTriggered {
					return s.emit(res, true, "✅ Cache within limit, nothing evicted")
				}
				for _, key := range res.PinProtected {
					if !s.cfg.JSON {
						s.p.Warnf("%s kept: pinned", key)
					}
				}
				line := fmt.Sprintf("🧹 Evicted %s, freed %s", formatCount(res.EntriesEvicted, "entries"), formatBytes(res.BytesFreed))
				if res.StillOverLimit {
					line += " (still over limit)"
				}
				return s.emit(res, true, line)
			})
		},
	}
}

func cacheClean() *cli.Command {
	return &cli.Command{
		Name:  "clean",
		Usage: "Remove orphaned staging directories",
		Flags: flags(commonFlags(), []cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "Only staging directories older than this",
				Value: helpers.TmpOrphanAge,
			},
		}),
		Action: func(c *cli.Context) error {
			return withSession(c, func(s *session) error {
				res, err := s.rt.Cache.CleanupOrphanedTemp(c.Context, c.Duration("older-than"))
				if err != nil {
					s.p.Errorf("%v", err)
					return err
				}
				return s.emit(res, true, fmt.Sprintf("🧹 Removed %s, freed %s", formatCount(len(res.Removed), "staging dir(s)"), formatBytes(res.BytesFreed)))
			})
		},
	}
}

func cacheRebuild() *cli.Command {
	return &cli.Command{
		Name:  "rebuild",
		Usage: "Rebuild the cache index from the cache tree",
		Flags: commonFlags(),
		Action: func(c *cli.Context) error {
			return withSession(c, func(s *session) error {
				start := time.Now()
				res, err := s.rt.Cache.RebuildIndex(c.Context)
				if err != nil {
					s.p.Errorf("%v", err)
					return err
				}
				s.p.DebugSincef(start, "index rebuilt")
				for _, skipped := range res.Skipped {
					if !s.cfg.JSON {
						s.p.Warnf("skipped %s", skipped)
					}
				}
				return s.emit(res, true, fmt.Sprintf("✅ Indexed %s of %s, %s",
					formatCount(res.Entries, "entries"), formatCount(res.Plugins, "plugin(s)"), formatBytes(res.TotalSizeBytes)))
			})
		},
	}
}

func cacheValidate() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Check cache entries against their recorded checksums",
		Flags: commonFlags(),
		Action: func(c *cli.Context) error {
			return withSession(c, func(s *session) error {
				rep, err := s.rt.Cache.ValidateIntegrity(c.Context)
				if err != nil {
					s.p.Errorf("%v", err)
					return err
				}
				if rep.Valid {
					return s.emit(rep, true, fmt.Sprintf("✅ %s valid", formatCount(rep.Checked, "entries")))
				}
				var problems []string
				for _, m := range rep.Missing {
					problems = append(problems, "missing "+m)
				}
				for _, d := range rep.Drifted {
					problems = append(problems, "drifted "+d)
				}
				problems = append(problems, rep.Errors...)
				return s.emit(rep, false, "❌ Cache invalid: "+strings.Join(problems, "; "))
			})
		},
	}
}

func cacheLog() *cli.Command {
	return &cli.Command{
		Name:  "log",
		Usage: "Show the eviction log, newest first",
		Flags: commonFlags(),
		Action: func(c *cli.Context) error {
			return withSession(c, func(s *session) error {
				entries, err := s.rt.Cache.EvictionLog()
				if err != nil {
					s.p.Errorf("%v", err)
					return err
				}
				rows := []string{fmt.Sprintf("%-19s %-40s %-14s %10s", "WHEN", "ENTRY", "REASON", "FREED")}
				for _, e := range entries {
					rows = append(rows, fmt.Sprintf("%-19s %-40s %-14s %10s",
						formatTime(e.EvictedAt), helpers.EntryKey(e.PluginID, e.Version), e.Reason, formatBytes(e.BytesFreed)))
				}
				return s.table(entries, rows)
			})
		},
	}
}
