// Package manifest loads and validates plugin.yaml.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/greeddj/go-plugctl/internal/plugctl/fsutil"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/version"
	"gopkg.in/yaml.v3"
)

// Hook names a lifecycle stage that may run a script.
type Hook string

const (
	// HookPreinstall runs before promotion. Failure aborts the install.
	HookPreinstall Hook = "preinstall"
	// HookPostinstall runs after activation. Failure is reported as a warning.
	HookPostinstall Hook = "postinstall"
	// HookUninstall runs before deactivation, after the caller consents to its digest.
	HookUninstall Hook = "uninstall"
)

// Lifecycle lists script paths relative to the plugin root.
type Lifecycle struct {
	Preinstall  string `yaml:"preinstall,omitempty"  json:"preinstall,omitempty"`
	Postinstall string `yaml:"postinstall,omitempty" json:"postinstall,omitempty"`
	Uninstall   string `yaml:"uninstall,omitempty"   json:"uninstall,omitempty"`
}

// Manifest is the typed form of plugin.yaml.
type Manifest struct {
	ID           string            `yaml:"id"                      json:"id"`
	Version      string            `yaml:"version"                 json:"version"`
	Name         string            `yaml:"name,omitempty"          json:"name,omitempty"`
	Description  string            `yaml:"description,omitempty"   json:"description,omitempty"`
	Host         string            `yaml:"host,omitempty"          json:"host,omitempty"`
	Platforms    []string          `yaml:"platforms,omitempty"     json:"platforms,omitempty"`
	Dependencies map[string]string `yaml:"dependencies,omitempty"  json:"dependencies,omitempty"`
	ChangelogURL string            `yaml:"changelog_url,omitempty" json:"changelogUrl,omitempty"`
	Interpreter  string            `yaml:"interpreter,omitempty"   json:"interpreter,omitempty"`
	Lifecycle    Lifecycle         `yaml:"lifecycle,omitempty"     json:"lifecycle"`
	Metadata     map[string]string `yaml:"metadata,omitempty"      json:"metadata,omitempty"`
}

// Load reads plugin.yaml from the plugin root dir.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, helpers.ManifestFile)
	//nolint:gosec // path is the manifest inside a staged or cached plugin tree.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", helpers.ErrManifestMissing, path)
		}
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a manifest. Unknown keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", helpers.ErrManifestInvalid, err)
	}
	m.ID = strings.TrimSpace(m.ID)
	m.Version = strings.TrimSpace(m.Version)
	if m.Interpreter == "" {
		m.Interpreter = helpers.ManifestDefaultInterpreter
	}
	return &m, nil
}

// Validate reports every structural problem at once.
func (m *Manifest) Validate() error {
	var problems []string
	if err := helpers.ValidatePluginID(m.ID); err != nil {
		problems = append(problems, err.Error())
	}
	if !version.Valid(m.Version) {
		problems = append(problems, fmt.Sprintf("version %q is not major.minor.patch", m.Version))
	}
	if m.Host != "" {
		if _, err := version.Satisfies("0.0.0", m.Host); err != nil {
			problems = append(problems, "host: "+err.Error())
		}
	}
	for dep, constraint := range m.Dependencies {
		if err := helpers.ValidatePluginID(dep); err != nil {
			problems = append(problems, "dependency: "+err.Error())
			continue
		}
		if _, err := version.Satisfies("0.0.0", constraint); err != nil {
			problems = append(problems, fmt.Sprintf("dependency %s: %v", dep, err))
		}
	}
	for _, hook := range []Hook{HookPreinstall, HookPostinstall, HookUninstall} {
		script := m.Script(hook)
		if script == "" {
			continue
		}
		if _, err := cleanRelative(script); err != nil {
			problems = append(problems, fmt.Sprintf("lifecycle.%s: %v", hook, err))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", helpers.ErrManifestInvalid, strings.Join(problems, "; "))
}

// Script returns the declared script for hook, or "".
func (m *Manifest) Script(hook Hook) string {
	switch hook {
	case HookPreinstall:
		return strings.TrimSpace(m.Lifecycle.Preinstall)
	case HookPostinstall:
		return strings.TrimSpace(m.Lifecycle.Postinstall)
	case HookUninstall:
		return strings.TrimSpace(m.Lifecycle.Uninstall)
	}
	return ""
}

// ScriptPath resolves the script for hook inside the plugin root dir.
func (m *Manifest) ScriptPath(dir string, hook Hook) (string, error) {
	script := m.Script(hook)
	if script == "" {
		return "", fmt.Errorf("%w: %s", helpers.ErrScriptNotDeclared, hook)
	}
	rel, err := cleanRelative(script)
	if err != nil {
		return "", fmt.Errorf("%w: lifecycle.%s: %w", helpers.ErrManifestInvalid, hook, err)
	}
	return filepath.Join(dir, rel), nil
}

// ScriptDigest returns the sha256 of the script for hook inside dir.
func (m *Manifest) ScriptDigest(dir string, hook Hook) (string, error) {
	path, err := m.ScriptPath(dir, hook)
	if err != nil {
		return "", err
	}
	return fsutil.FileChecksum(path)
}

func cleanRelative(p string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(p))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("path %q is absolute", p)
	}
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the plugin root", p)
	}
	return cleaned, nil
}
