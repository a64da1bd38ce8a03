// SPDX-License-Identifier: MIT
//
// Package build exposes metadata embedded with -ldflags at link time:
//
//	go build -ldflags "-X pvrec/pkg/build.buildName=pvrec -X pvrec/pkg/build.buildVersion=0.3.0 ..."
//
// Development builds fall back to the module version recorded by the Go
// toolchain, or "unknown".
package build

import (
	"fmt"
	"runtime/debug"
)

// Info is the build metadata of the running binary.
type Info struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

// String formats the metadata for --version output.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

// Populated by -ldflags during compilation.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = Info{
		Name:    "unknown",
		Time:    "unknown",
		Commit:  "unknown",
		Version: "unknown",
	}
)

// Initialize validates and copies the ldflags variables. Release builds call
// it at startup and refuse to run when a flag is missing.
func Initialize() error {
	if buildName == "" {
		return fmt.Errorf("BuildName is required")
	}
	if buildTime == "" {
		return fmt.Errorf("BuildTime is required")
	}
	if buildCommit == "" {
		return fmt.Errorf("BuildCommit is required")
	}
	if buildVersion == "" {
		return fmt.Errorf("BuildVersion is required")
	}

	buildFlags = Info{
		Name:    buildName,
		Time:    buildTime,
		Commit:  buildCommit,
		Version: buildVersion,
	}
	return nil
}

// Current returns the build metadata. Before a successful Initialize it holds
// whatever the toolchain recorded, with "unknown" for the rest.
func Current() Info {
	info := buildFlags
	if info.Version != "unknown" {
		return info
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if bi.Main.Version != "" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info.Commit = s.Value
			case "vcs.time":
				info.Time = s.Value
			}
		}
	}
	return info
}
