package compat

import (
	"testing"

	"github.com/greeddj/go-plugctl/internal/plugctl/manifest"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()
	env := Environment{HostVersion: "1.4.0", OS: "linux", Arch: "amd64", Installed: map[string]string{"base": "1.2.0"}}
	tests := []struct {
		name string
		m    manifest.Manifest
		want Verdict
	}{
		{name: "no constraints", m: manifest.Manifest{}, want: Compatible},
		{name: "host ok", m: manifest.Manifest{Host: ">=1.0.0, <2.0.0"}, want: Compatible},
		{name: "host too old", m: manifest.Manifest{Host: ">=2.0.0"}, want: Block},
		{name: "platform match", m: manifest.Manifest{Platforms: []string{"darwin", "linux/amd64"}}, want: Compatible},
		{name: "platform mismatch", m: manifest.Manifest{Platforms: []string{"windows"}}, want: Block},
		{name: "dependency ok", m: manifest.Manifest{Dependencies: map[string]string{"base": "^1.0.0"}}, want: Compatible},
		{name: "dependency missing", m: manifest.Manifest{Dependencies: map[string]string{"extra": "*"}}, want: Warn},
		{name: "dependency mismatch", m: manifest.Manifest{Dependencies: map[string]string{"base": ">=2.0.0"}}, want: Warn},
		{
			name: "block wins over warn",
			m:    manifest.Manifest{Host: ">=9.0.0", Dependencies: map[string]string{"extra": "*"}},
			want: Block,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			report := Evaluate(&tt.m, env)
			if report.Verdict != tt.want {
				t.Fatalf("expected %s, got %s (%v)", tt.want, report.Verdict, report.Checks)
			}
		})
	}
}

func TestUnknownHostVersionWarns(t *testing.T) {
	t.Parallel()
	report := Evaluate(&manifest.Manifest{Host: ">=1.0.0"}, Environment{OS: "linux", Arch: "arm64"})
	if report.Verdict != Warn || len(report.Problems()) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}
