package version

import (
	"runtime/debug"
	"strings"
	"testing"
	"time"
)

func TestCurrentPrefersBuildVersion(t *testing.T) {
	old := buildVersion
	buildVersion = "v1.2.3+dirty"
	t.Cleanup(func() { buildVersion = old })

	if got := Current(); got != "v1.2.3" {
		t.Fatalf("expected build version without dirty suffix, got %q", got)
	}
	if got := CurrentWithDirty(); got != "v1.2.3+dirty" {
		t.Fatalf("expected dirty build version, got %q", got)
	}
}

func TestPseudoFromBuildInfo(t *testing.T) {
	ts := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)
	info := &debug.BuildInfo{
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "1234567890abcdef"},
			{Key: "vcs.time", Value: ts.Format(time.RFC3339)},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	got := pseudoFromBuildInfo(info, true)
	if got != "v0.0.0-20250102030405-1234567890ab+dirty" {
		t.Fatalf("unexpected pseudo version: %q", got)
	}
	if clean := pseudoFromBuildInfo(info, false); strings.HasSuffix(clean, "+dirty") {
		t.Fatalf("expected no dirty suffix, got %q", clean)
	}
	if pseudoFromBuildInfo(nil, true) != "" {
		t.Fatalf("expected empty version for nil build info")
	}
}

func TestInfoString(t *testing.T) {
	info := Info{Module: "pkt.systems/wobterm", Version: "v1.0.0", Revision: "abc", GoVersion: "go1.25"}
	if got := info.String(); got != "pkt.systems/wobterm v1.0.0 (abc) go1.25" {
		t.Fatalf("unexpected info string %q", got)
	}
}
