package meta

import (
	"fmt"
	"runtime"
	"strings"
)

// Info is the build context of a beacon binary, most of it stamped in by
// the linker:
//
//   go build -ldflags "-X github.com/luma/beacon/internal/meta.Version=v0.3.0"
//
type Info struct {
	Version   string
	Build     string
	Branch    string
	BuildTime string
	Platform  string
	GoVersion string
	GoTag     string
}

// Filled in with the linker -X flag
var (
	Version string

	// Git sha of the build
	Build string

	// Git branch of the build
	Branch string

	// UTC, year/month/day hour:min:sec
	BuildTimeUTC string

	// Build tags, see https://golang.org/pkg/go/build/#hdr-Build_Constraints
	GoTag string

	platform = fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH)
)

func GetInfo() Info {
	version := Version
	if version == "" {
		version = "dev"
	}

	return Info{
		GoVersion: runtime.Version(),
		Version:   version,
		Build:     Build,
		Branch:    Branch,
		BuildTime: BuildTimeUTC,
		GoTag:     GoTag,
		Platform:  platform,
	}
}

// String renders the info the way `beacon version` prints it.
func (i Info) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "beacon %s", i.Version)
	if i.Build != "" {
		fmt.Fprintf(&b, " (%s", i.Build)
		if i.Branch != "" {
			fmt.Fprintf(&b, " on %s", i.Branch)
		}
		b.WriteString(")")
	}

	fmt.Fprintf(&b, "\n%s, %s", i.GoVersion, i.Platform)
	if i.BuildTime != "" {
		fmt.Fprintf(&b, ", built %s", i.BuildTime)
	}

	if i.GoTag != "" {
		fmt.Fprintf(&b, "\ntags: %s", i.GoTag)
	}

	return b.String()
}
