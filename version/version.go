package version

import (
	"fmt"
	"strings"
)

var (
	// GitCommit is the git commit that was compiled. Filled in by the
	// compiler via -ldflags.
	GitCommit string

	// BuildNumber is the CI build number, if any. Filled in by the
	// compiler via -ldflags.
	BuildNumber string

	// Version is the main version number that is being run at the moment.
	Version = "0.9.1"

	// VersionPrerelease is a pre-release marker for the version. If this
	// is "" then it is a final release. Otherwise this is a pre-release
	// such as "dev", "beta", "rc1", etc.
	VersionPrerelease = "dev"
)

// VersionInfo describes the running build.
type VersionInfo struct {
	Revision          string
	Version           string
	VersionPrerelease string
	BuildNumber       string
}

func GetVersion() *VersionInfo {
	return &VersionInfo{
		Revision:          GitCommit,
		Version:           Version,
		VersionPrerelease: VersionPrerelease,
		BuildNumber:       BuildNumber,
	}
}

func (v *VersionInfo) Copy() *VersionInfo {
	if v == nil {
		return nil
	}
	nv := *v
	return &nv
}

// VersionNumber returns the bare semantic version with any pre-release
// suffix, without the product prefix.
func (v *VersionInfo) VersionNumber() string {
	version := v.Version
	if v.VersionPrerelease != "" {
		version = fmt.Sprintf("%s-%s", version, v.VersionPrerelease)
	}
	return version
}

func (v *VersionInfo) String() string {
	version := fmt.Sprintf("pixeld v%s", v.Version)
	if v.VersionPrerelease != "" {
		version = fmt.Sprintf("%s-%s", version, v.VersionPrerelease)
		if v.Revision != "" {
			version = fmt.Sprintf("%s (%s)", version, v.Revision)
		}
	}
	return strings.TrimSpace(version)
}
