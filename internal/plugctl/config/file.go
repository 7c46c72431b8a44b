package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
)

/*
--config, $PLUGCTL_CONFIG, <plugin-dir>/plugctl.toml

[cache]
max_size_mb = 512
retention_versions = 3
rollback_floor = 2

[registry]
backup_on_write = true
validate_on_write = true
max_backups = 20

[lifecycle]
timeout = "30s"

[changelog]
timeout = "5s"
ttl = "24h"

[host]
version = "1.0.0"
*/

// fileConfig is the subset of Config that plugctl.toml may set.
type fileConfig struct {
	Cache     *CacheConfig     `toml:"cache"`
	Registry  *RegistryConfig  `toml:"registry"`
	Lifecycle *LifecycleConfig `toml:"lifecycle"`
	Changelog *ChangelogConfig `toml:"changelog"`
	Host      *HostConfig      `toml:"host"`
}

// loadFile decodes path over cfg. Keys left out of the file keep their current values;
// unknown keys are rejected.
func loadFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	file := fileConfig{
		Cache:     &cfg.Cache,
		Registry:  &cfg.Registry,
		Lifecycle: &cfg.Lifecycle,
		Changelog: &cfg.Changelog,
		Host:      &cfg.Host,
	}
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return fmt.Errorf("failed parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return fmt.Errorf("%w: unknown keys in %s: %s", helpers.ErrConfigInvalid, path, strings.Join(keys, ", "))
	}
	return nil
}
