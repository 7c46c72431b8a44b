package registry

import (
	"fmt"
	"os"
	"slices"

	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/version"
)

// Validate checks the in-process view. The result is advisory.
func (s *Store) Validate() (ValidationReport, error) {
	reg, err := s.view()
	if err != nil {
		return ValidationReport{}, err
	}
	return s.validate(reg), nil
}

// validate runs structural checks and cross-checks cache paths of installed records.
func (s *Store) validate(reg *Registry) ValidationReport {
	var report ValidationReport
	addErr := func(format string, args ...any) {
		report.Errors = append(report.Errors, fmt.Sprintf(format, args...))
	}
	if reg.Metadata.RegistryVersion == "" {
		report.Warnings = append(report.Warnings, "metadata.registryVersion is empty")
	}
	seen := make(map[string]bool, len(reg.Plugins))
	for _, p := range reg.Plugins {
		if err := helpers.ValidatePluginID(p.PluginID); err != nil {
			addErr("%v", err)
			continue
		}
		if seen[p.PluginID] {
			addErr("duplicate record for %s", p.PluginID)
		}
		seen[p.PluginID] = true
		if !version.Valid(p.Version) {
			addErr("%s: invalid version %q", p.PluginID, p.Version)
		}
		if !p.InstallState.Valid() {
			addErr("%s: unknown install state %q", p.PluginID, p.InstallState)
		}
		if p.InstallState == StateInstalled {
			if p.CachePath == "" {
				addErr("%s: installed record has no cache path", p.PluginID)
			} else if _, err := os.Stat(p.CachePath); err != nil {
				addErr("%s: cache path %s is missing", p.PluginID, p.CachePath)
			}
		}
		if p.Pinned != slices.Contains(reg.ActivePins, p.PluginID) {
			addErr("%s: pinned flag disagrees with activePins", p.PluginID)
		}
	}
	for _, id := range reg.ActivePins {
		if !seen[id] {
			addErr("activePins references unknown plugin %s", id)
		}
	}
	if reg.Metadata.TotalInstallations != len(reg.Plugins) {
		report.Warnings = append(report.Warnings, fmt.Sprintf("metadata.totalInstallations is %d, expected %d", reg.Metadata.TotalInstallations, len(reg.Plugins)))
	}
	report.Valid = len(report.Errors) == 0
	return report
}
