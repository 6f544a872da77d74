package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const defaultModule = "pkt.systems/wobterm"

// buildVersion is set via -ldflags "-X pkt.systems/wobterm/internal/version.buildVersion=...".
var buildVersion = ""

// Info describes the running binary.
type Info struct {
	Module    string
	Version   string
	Revision  string
	GoVersion string
}

// String renders the info on one line for `wobterm version`.
func (i Info) String() string {
	out := i.Module + " " + i.Version
	if i.Revision != "" {
		out += " (" + i.Revision + ")"
	}
	return fmt.Sprintf("%s %s", out, i.GoVersion)
}

// Current returns the best available version string (without dirty suffix).
func Current() string {
	return currentFromBuildInfo(readBuildInfo(), false)
}

// CurrentWithDirty returns the best available version string (including dirty suffix when available).
func CurrentWithDirty() string {
	return currentFromBuildInfo(readBuildInfo(), true)
}

// Module returns the module path from build info when available.
func Module() string {
	if info := readBuildInfo(); info != nil {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			return path
		}
	}
	return defaultModule
}

// Describe collects module, version and revision for display.
func Describe() Info {
	info := readBuildInfo()
	out := Info{
		Module:    Module(),
		Version:   currentFromBuildInfo(info, true),
		GoVersion: runtime.Version(),
	}
	if info != nil {
		out.Revision = shortRevision(buildSetting(info, "vcs.revision"))
	}
	return out
}

func readBuildInfo() *debug.BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	return info
}

func currentFromBuildInfo(info *debug.BuildInfo, includeDirty bool) string {
	if strings.TrimSpace(buildVersion) != "" {
		return normalizeVersion(buildVersion, includeDirty)
	}
	if info != nil {
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			return normalizeVersion(v, includeDirty)
		}
		if v := pseudoFromBuildInfo(info, includeDirty); v != "" {
			return v
		}
	}
	return "v0.0.0-unknown"
}

func normalizeVersion(v string, includeDirty bool) string {
	value := strings.TrimSpace(v)
	if includeDirty {
		return value
	}
	return strings.TrimSuffix(value, "+dirty")
}

func buildSetting(info *debug.BuildInfo, key string) string {
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

func pseudoFromBuildInfo(info *debug.BuildInfo, includeDirty bool) string {
	if info == nil {
		return ""
	}
	revision := buildSetting(info, "vcs.revision")
	vcsTime := buildSetting(info, "vcs.time")
	if revision == "" || vcsTime == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, vcsTime)
	if err != nil {
		return ""
	}
	ver := "v0.0.0-" + parsed.UTC().Format("20060102150405") + "-" + shortRevision(revision)
	if includeDirty && buildSetting(info, "vcs.modified") == "true" {
		ver += "+dirty"
	}
	return ver
}
