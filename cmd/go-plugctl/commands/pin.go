package commands

import (
	"errors"
	"fmt"

	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/urfave/cli/v2"
)

// pinReport is printed by pin and unpin.
type pinReport struct {
	PluginID      string `json:"pluginId"`
	Version       string `json:"version"`
	Pinned        bool   `json:"pinned"`
	RegistryNoOp  bool   `json:"registryNoOp"`
	CacheNoOp     bool   `json:"cacheNoOp"`
	CacheWarning  string `json:"cacheWarning,omitempty"`
	RegistryError string `json:"registryError,omitempty"`
}

// Pin returns the CLI command that protects the active version from updates and eviction.
func Pin() *cli.Command {
	return &cli.Command{
		Name:      "pin",
		Usage:     "Pin the active version of a plugin",
		ArgsUsage: "<plugin>",
		Flags:     commonFlags(),
		Action: func(c *cli.Context) error {
			return setPin(c, true)
		},
	}
}

// Unpin returns the CLI command that clears a pin.
func Unpin() *cli.Command {
	return &cli.Command{
		Name:      "unpin",
		Usage:     "Unpin the active version of a plugin",
		ArgsUsage: "<plugin>",
		Flags:     commonFlags(),
		Action: func(c *cli.Context) error {
			return setPin(c, false)
		},
	}
}

func setPin(c *cli.Context, pin bool) error {
	if err := requireArgs(c, 1, "<plugin>"); err != nil {
		return err
	}
	return withSession(c, func(s *session) error {
		id := c.Args().First()
		rec, ok, err := s.rt.Registry.Get(id)
		if err != nil {
			return s.emit(pinReport{PluginID: id, RegistryError: err.Error()}, false, fmt.Sprintf("❌ Failed: %v", err))
		}
		if !ok {
			err := fmt.Errorf("%w: %s", helpers.ErrPluginNotFound, id)
			return s.emit(pinReport{PluginID: id, RegistryError: err.Error()}, false, fmt.Sprintf("❌ Failed: %v", err))
		}
		rep := pinReport{PluginID: id, Version: rec.Version, Pinned: pin}

		if pin {
			res, err := s.rt.Registry.Pin(c.Context, id)
			if err != nil {
				rep.RegistryError = err.Error()
				return s.emit(rep, false, fmt.Sprintf("❌ Failed: %v", err))
			}
			rep.RegistryNoOp = res.WasNoOp
			cres, err := s.rt.Cache.Pin(c.Context, id, rec.Version)
			rep.CacheNoOp = cres.WasNoOp
			if err != nil {
				rep.CacheWarning = cacheWarning(err)
			}
		} else {
			res, err := s.rt.Registry.Unpin(c.Context, id)
			if err != nil {
				rep.RegistryError = err.Error()
				return s.emit(rep, false, fmt.Sprintf("❌ Failed: %v", err))
			}
			rep.RegistryNoOp = res.WasNoOp
			cres, err := s.rt.Cache.Unpin(c.Context, id, rec.Version)
			rep.CacheNoOp = cres.WasNoOp
			if err != nil {
				rep.CacheWarning = cacheWarning(err)
			}
		}

		if rep.CacheWarning != "" && !s.cfg.JSON {
			s.p.Warnf("%s", rep.CacheWarning)
		}
		verb := "Pinned"
		if !pin {
			verb = "Unpinned"
		}
		line := fmt.Sprintf("📌 %s: %s", verb, helpers.EntryKey(id, rec.Version))
		if rep.RegistryNoOp {
			line += " (unchanged)"
		}
		return s.emit(rep, true, line)
	})
}

func cacheWarning(err error) string {
	if errors.Is(err, helpers.ErrNotCached) {
		return fmt.Sprintf("registry updated but the cache entry is gone: %v", err)
	}
	return fmt.Sprintf("registry updated but the cache entry was not: %v", err)
}
