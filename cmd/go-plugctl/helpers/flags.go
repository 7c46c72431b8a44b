package helpers

import (
	"runtime"

	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/urfave/cli/v2"
)

// CommonFlags defines shared CLI flags for all commands.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Usage:   "Verbose output",
			EnvVars: []string{"PLUGCTL_VERBOSE"},
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Quiet mode, not working with verbose",
			EnvVars: []string{"PLUGCTL_QUIET"},
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print results as JSON",
		},
		&cli.StringFlag{
			Name:    "plugin-dir",
			Aliases: []string{"d"},
			Usage:   "Plugin directory holding the cache, registry and activation links",
			Value:   defaultPluginDir(),
			EnvVars: []string{"PLUGCTL_DIR"},
		},
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Path to plugctl.toml (default <plugin-dir>/plugctl.toml)",
			EnvVars: []string{helpers.ConfigEnv},
		},
		&cli.DurationFlag{
			Name:    "lock-timeout",
			Usage:   "How long to wait for a lock held by another process",
			Value:   helpers.LockDefaultTimeout,
			EnvVars: []string{"PLUGCTL_LOCK_TIMEOUT"},
		},
		&cli.Int64Flag{
			Name:    "max-cache-mb",
			Usage:   "Cache size cap in MiB",
			Value:   helpers.CacheDefaultMaxSizeMB,
			EnvVars: []string{"PLUGCTL_MAX_CACHE_MB"},
		},
	}
}

// TransactionFlags defines CLI flags for commands that run lifecycle transactions.
func TransactionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:    "lifecycle-timeout",
			Usage:   "Timeout for a single lifecycle script",
			Value:   helpers.LifecycleDefaultTimeout,
			EnvVars: []string{"PLUGCTL_LIFECYCLE_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:    "host-version",
			Usage:   "Host application version checked against plugin constraints",
			EnvVars: []string{"PLUGCTL_HOST_VERSION"},
		},
		&cli.DurationFlag{
			Name:    "changelog-timeout",
			Usage:   "Timeout for a changelog request",
			Value:   helpers.ChangelogDefaultTimeout,
			EnvVars: []string{"PLUGCTL_CHANGELOG_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Number of concurrent updates",
			Value:   runtime.NumCPU(),
			EnvVars: []string{"PLUGCTL_WORKERS"},
		},
	}
}

// InstallFlags defines CLI flags for install and update.
func InstallFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "Replace an installed plugin",
		},
		&cli.BoolFlag{
			Name:  "pin",
			Usage: "Pin the installed version",
		},
		&cli.BoolFlag{
			Name:  "skip-scripts",
			Usage: "Do not run lifecycle scripts",
		},
		&cli.BoolFlag{
			Name:  "skip-eviction",
			Usage: "Do not evict cache entries after promotion",
		},
		&cli.StringFlag{
			Name:  "id",
			Usage: "Expected plugin id, checked against the manifest",
		},
		&cli.StringFlag{
			Name:  "plugin-version",
			Usage: "Expected plugin version, checked against the manifest",
		},
	}
}

// UninstallFlags defines CLI flags for uninstall.
func UninstallFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "token",
			Usage: "Confirmation token <plugin>@<version>, printed by --dry-run",
		},
		&cli.StringFlag{
			Name:  "script-digest",
			Usage: "sha256 of the uninstall script you consent to run, printed by --dry-run",
		},
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "Skip the confirmation token",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Report what would happen without changing anything",
		},
		&cli.BoolFlag{
			Name:  "skip-scripts",
			Usage: "Do not run the uninstall script",
		},
		&cli.StringFlag{
			Name:  "retention",
			Usage: "Cached version policy: keep-all or keep-last-n",
			Value: "keep-last-n",
		},
		&cli.IntFlag{
			Name:  "keep",
			Usage: "Versions kept by keep-last-n",
			Value: helpers.UninstallDefaultKeepVersions,
		},
	}
}
