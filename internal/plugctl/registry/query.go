package registry

import (
	"slices"
	"strings"
)

// Get returns the record for pluginID.
func (s *Store) Get(pluginID string) (Plugin, bool, error) {
	reg, err := s.view()
	if err != nil {
		return Plugin{}, false, err
	}
	i := reg.find(pluginID)
	if i < 0 {
		return Plugin{}, false, nil
	}
	return reg.Plugins[i], true, nil
}

// List returns every record ordered by plugin id.
func (s *Store) List() ([]Plugin, error) {
	return s.Query(Query{})
}

// Query returns records matching q, ordered by plugin id.
func (s *Store) Query(q Query) ([]Plugin, error) {
	reg, err := s.view()
	if err != nil {
		return nil, err
	}
	out := make([]Plugin, 0, len(reg.Plugins))
	for _, p := range reg.Plugins {
		if q.matches(p) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Plugin) int { return strings.Compare(a.PluginID, b.PluginID) })
	return out, nil
}

// Snapshot returns a copy of the whole document.
func (s *Store) Snapshot() (*Registry, error) {
	return s.view()
}

// Stats summarizes the in-process view.
func (s *Store) Stats() (Stats, error) {
	reg, err := s.view()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		TotalPlugins:       len(reg.Plugins),
		ByState:            make(map[InstallState]int),
		TotalInstallations: reg.Metadata.TotalInstallations,
		LastUpdated:        reg.Metadata.LastUpdated,
	}
	for _, p := range reg.Plugins {
		st.ByState[p.InstallState]++
		if p.Pinned {
			st.PinnedCount++
		}
		if st.OldestInstall.IsZero() || p.InstalledAt.Before(st.OldestInstall) {
			st.OldestInstall = p.InstalledAt
		}
		if p.InstalledAt.After(st.NewestInstall) {
			st.NewestInstall = p.InstalledAt
		}
	}
	return st, nil
}

func (q Query) matches(p Plugin) bool {
	if q.PluginID != "" && q.PluginID != p.PluginID {
		return false
	}
	if q.State != "" && q.State != p.InstallState {
		return false
	}
	if q.Version != "" && q.Version != p.Version {
		return false
	}
	if q.Pinned != nil && *q.Pinned != p.Pinned {
		return false
	}
	if !q.InstalledAfter.IsZero() && p.InstalledAt.Before(q.InstalledAfter) {
		return false
	}
	if !q.InstalledBefore.IsZero() && p.InstalledAt.After(q.InstalledBefore) {
		return false
	}
	return true
}
