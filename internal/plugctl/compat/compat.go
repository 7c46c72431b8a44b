// Package compat decides whether a plugin manifest fits the running host.
package compat

import (
	"fmt"
	"runtime"
	"slices"
	"strings"

	"github.com/greeddj/go-plugctl/internal/plugctl/manifest"
	"github.com/greeddj/go-plugctl/internal/plugctl/version"
)

// Verdict is the outcome of a single check or a whole evaluation.
type Verdict string

const (
	// Compatible means nothing stands in the way.
	Compatible Verdict = "COMPATIBLE"
	// Warn means the install may proceed but something is off.
	Warn Verdict = "WARN"
	// Block means the install must stop.
	Block Verdict = "BLOCK"
)

func (v Verdict) rank() int {
	switch v {
	case Block:
		return 2
	case Warn:
		return 1
	}
	return 0
}

// Check is one evaluated constraint.
type Check struct {
	Name    string  `json:"name"`
	Verdict Verdict `json:"verdict"`
	Message string  `json:"message"`
}

// Report is the combined verdict with every check that produced it.
type Report struct {
	Verdict Verdict `json:"verdict"`
	Checks  []Check `json:"checks"`
}

// Environment is the live state a manifest is judged against.
type Environment struct {
	HostVersion string
	OS          string
	Arch        string
	// Installed maps plugin id to its active version.
	Installed map[string]string
}

// CurrentEnvironment returns the running platform with the given host version.
func CurrentEnvironment(hostVersion string, installed map[string]string) Environment {
	return Environment{HostVersion: hostVersion, OS: runtime.GOOS, Arch: runtime.GOARCH, Installed: installed}
}

// Evaluate runs the host, platform and dependency checks. Host and platform
// failures block; dependency problems only warn.
func Evaluate(m *manifest.Manifest, env Environment) Report {
	var checks []Check
	checks = append(checks, checkHost(m.Host, env.HostVersion))
	checks = append(checks, checkPlatform(m.Platforms, env))

	deps := make([]string, 0, len(m.Dependencies))
	for id := range m.Dependencies {
		deps = append(deps, id)
	}
	slices.Sort(deps)
	for _, id := range deps {
		checks = append(checks, checkDependency(id, m.Dependencies[id], env.Installed))
	}

	report := Report{Verdict: Compatible, Checks: checks}
	for _, c := range checks {
		if c.Verdict.rank() > report.Verdict.rank() {
			report.Verdict = c.Verdict
		}
	}
	return report
}

// Problems returns messages of checks that did not pass.
func (r Report) Problems() []string {
	var out []string
	for _, c := range r.Checks {
		if c.Verdict != Compatible {
			out = append(out, c.Message)
		}
	}
	return out
}

func checkHost(constraint, hostVersion string) Check {
	c := Check{Name: "host", Verdict: Compatible}
	switch {
	case strings.TrimSpace(constraint) == "":
		c.Message = "no host constraint declared"
	case hostVersion == "":
		c.Verdict = Warn
		c.Message = fmt.Sprintf("host version unknown, cannot check %q", constraint)
	default:
		ok, err := version.Satisfies(hostVersion, constraint)
		switch {
		case err != nil:
			c.Verdict = Block
			c.Message = fmt.Sprintf("host constraint %q: %v", constraint, err)
		case !ok:
			c.Verdict = Block
			c.Message = fmt.Sprintf("host %s does not satisfy %q", hostVersion, constraint)
		default:
			c.Message = fmt.Sprintf("host %s satisfies %q", hostVersion, constraint)
		}
	}
	return c
}

func checkPlatform(platforms []string, env Environment) Check {
	c := Check{Name: "platform", Verdict: Compatible}
	if len(platforms) == 0 {
		c.Message = "no platform restriction"
		return c
	}
	full := env.OS + "/" + env.Arch
	for _, p := range platforms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "any" || p == "*" || p == env.OS || p == full {
			c.Message = fmt.Sprintf("platform %s is supported", full)
			return c
		}
	}
	c.Verdict = Block
	c.Message = fmt.Sprintf("platform %s not in %v", full, platforms)
	return c
}

func checkDependency(id, constraint string, installed map[string]string) Check {
	c := Check{Name: "dependency:" + id, Verdict: Compatible}
	have, ok := installed[id]
	if !ok {
		c.Verdict = Warn
		c.Message = fmt.Sprintf("dependency %s is not installed", id)
		return c
	}
	satisfied, err := version.Satisfies(have, constraint)
	switch {
	case err != nil:
		c.Verdict = Warn
		c.Message = fmt.Sprintf("dependency %s: %v", id, err)
	case !satisfied:
		c.Verdict = Warn
		c.Message = fmt.Sprintf("dependency %s@%s does not satisfy %q", id, have, constraint)
	default:
		c.Message = fmt.Sprintf("dependency %s@%s satisfies %q", id, have, constraint)
	}
	return c
}
