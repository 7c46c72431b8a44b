package registry

import (
	"slices"
	"time"
)

// InstallState is the lifecycle state of a registry record.
type InstallState string

const (
	// StateInstalled marks an active, usable plugin.
	StateInstalled InstallState = "INSTALLED"
	// StateFailed marks a plugin whose last transaction failed after registration.
	StateFailed InstallState = "FAILED"
	// StateDisabled marks a plugin that is registered but deactivated.
	StateDisabled InstallState = "DISABLED"
)

// Valid reports whether s is a known state.
func (s InstallState) Valid() bool {
	switch s {
	case StateInstalled, StateFailed, StateDisabled:
		return true
	}
	return false
}

// Plugin is one registry record. The registry tracks only the activated version.
type Plugin struct {
	PluginID      string       `json:"pluginId"`
	Version       string       `json:"version"`
	Source        string       `json:"source"`
	InstallState  InstallState `json:"installState"`
	InstalledAt   time.Time    `json:"installedAt"`
	UpdatedAt     time.Time    `json:"updatedAt,omitzero"`
	CachePath     string       `json:"cachePath"`
	TransactionID string       `json:"transactionId"`
	Pinned        bool         `json:"pinned"`
	SymlinkTarget string       `json:"symlinkTarget,omitempty"`
}

// Metadata describes the registry document itself.
type Metadata struct {
	RegistryVersion    string    `json:"registryVersion"`
	LastUpdated        time.Time `json:"lastUpdated"`
	ModifiedBy         string    `json:"modifiedBy"`
	TotalInstallations int       `json:"totalInstallations"`
}

// Telemetry holds per-plugin operation counters.
type Telemetry struct {
	Installs        int       `json:"installs"`
	Updates         int       `json:"updates"`
	Rollbacks       int       `json:"rollbacks"`
	Uninstalls      int       `json:"uninstalls"`
	Failures        int       `json:"failures"`
	LastOperation   string    `json:"lastOperation,omitempty"`
	LastOperationAt time.Time `json:"lastOperationAt,omitzero"`
}

// Registry is the persisted installation registry.
type Registry struct {
	Metadata   Metadata             `json:"metadata"`
	Plugins    []Plugin             `json:"plugins"`
	ActivePins []string             `json:"activePins"`
	Telemetry  map[string]Telemetry `json:"telemetry"`
}

// Query filters records. Zero fields match everything.
type Query struct {
	PluginID        string
	State           InstallState
	Version         string
	Pinned          *bool
	InstalledAfter  time.Time
	InstalledBefore time.Time
}

// WriteOptions tunes a single mutation.
type WriteOptions struct {
	// Backup snapshots the previous document before writing.
	Backup bool
	// Validate re-checks the written document and reports problems without rolling back.
	Validate bool
}

// MutationReport describes side effects of a successful write.
type MutationReport struct {
	BackupPath string            `json:"backupPath,omitempty"`
	Validation *ValidationReport `json:"validation,omitempty"`
}

// ValidationFailed reports whether post-write validation found errors.
func (m MutationReport) ValidationFailed() bool {
	return m.Validation != nil && !m.Validation.Valid
}

// ValidationReport is the advisory outcome of Validate.
type ValidationReport struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// PinResult is returned by Pin and Unpin.
type PinResult struct {
	WasNoOp bool `json:"wasNoOp"`
}

// Backup describes a registry snapshot on disk.
type Backup struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"createdAt"`
	SizeBytes int64     `json:"sizeBytes"`
}

// Stats summarizes the registry.
type Stats struct {
	TotalPlugins       int                  `json:"totalPlugins"`
	PinnedCount        int                  `json:"pinnedCount"`
	ByState            map[InstallState]int `json:"byState"`
	TotalInstallations int                  `json:"totalInstallations"`
	LastUpdated        time.Time            `json:"lastUpdated,omitzero"`
	OldestInstall      time.Time            `json:"oldestInstall,omitzero"`
	NewestInstall      time.Time            `json:"newestInstall,omitzero"`
}

func newRegistry() *Registry {
	return &Registry{
		Plugins:    []Plugin{},
		ActivePins: []string{},
		Telemetry:  make(map[string]Telemetry),
	}
}

func (r *Registry) clone() *Registry {
	out := &Registry{
		Metadata:   r.Metadata,
		Plugins:    slices.Clone(r.Plugins),
		ActivePins: slices.Clone(r.ActivePins),
		Telemetry:  make(map[string]Telemetry, len(r.Telemetry)),
	}
	for k, v := range r.Telemetry {
		out.Telemetry[k] = v
	}
	if out.Plugins == nil {
		out.Plugins = []Plugin{}
	}
	if out.ActivePins == nil {
		out.ActivePins = []string{}
	}
	return out
}

func (r *Registry) find(pluginID string) int {
	return slices.IndexFunc(r.Plugins, func(p Plugin) bool { return p.PluginID == pluginID })
}

// syncPins makes activePins mirror the pinned flags and drops pins of missing records.
func (r *Registry) syncPins() {
	pins := make([]string, 0, len(r.Plugins))
	for _, p := range r.Plugins {
		if p.Pinned {
			pins = append(pins, p.PluginID)
		}
	}
	slices.Sort(pins)
	r.ActivePins = pins
}
