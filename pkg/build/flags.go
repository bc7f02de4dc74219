// SPDX-License-Identifier: MIT
//
// Package build carries the build metadata embedded with -ldflags:
//
//	go build -ldflags "-X rosettas/pkg/build.buildName=rosettas \
//	    -X rosettas/pkg/build.buildVersion=0.3.0 \
//	    -X rosettas/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	    -X rosettas/pkg/build.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Values missing from the linker flags are taken from the module and VCS
// information the Go toolchain stamps into the binary, then default to
// "unknown".
package build

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// DefaultName is reported when the binary was built without a name flag.
const DefaultName = "rosettas"

const unknown = "unknown"

type ldFlags struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

// String formats the flags for --version output.
func (f ldFlags) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", f.Name, f.Version, f.Commit, f.Time)
}

// Package-level variables for build information, populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &ldFlags{
		Name:    DefaultName,
		Time:    unknown,
		Commit:  unknown,
		Version: unknown,
	}
)

var readBuildInfo = debug.ReadBuildInfo

// Initialize copies the ldflags values into the build information and fills
// the gaps from the embedded module information. The returned error names
// every flag that was not set at link time; the information is usable
// either way.
func Initialize() error {
	var errs []error
	missing := func(value, flag string) bool {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", flag))
			return true
		}
		return false
	}

	var revision, vcsTime, modVersion string
	if info, ok := readBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			modVersion = v
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				revision = s.Value
			case "vcs.time":
				vcsTime = s.Value
			}
		}
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}

	buildFlags.Name = pick(missing(buildName, "BuildName"), buildName, DefaultName)
	buildFlags.Time = pick(missing(buildTime, "BuildTime"), buildTime, vcsTime)
	buildFlags.Commit = pick(missing(buildCommit, "BuildCommit"), buildCommit, revision)
	buildFlags.Version = pick(missing(buildVersion, "BuildVersion"), buildVersion, modVersion)

	return errors.Join(errs...)
}

func pick(isMissing bool, value, fallback string) string {
	if !isMissing {
		return value
	}
	if fallback != "" {
		return fallback
	}
	return unknown
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
