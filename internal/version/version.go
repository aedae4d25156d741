// Package version provides build information for the server and the OpenAPI
// document. Release builds set the variables with ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/genstudio-api/internal/version.Version=1.0.0 ..."
//
// Other builds fall back to the VCS stamp embedded by the Go toolchain.
package version

import (
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
)

const unknown = "unknown"

// Build-time variables set via ldflags
var (
	Version = "0.0.0-dev"
	Commit  = unknown
	Date    = unknown
	Dirty   = "false"
)

// Info holds all version information
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Dirty     bool   `json:"dirty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var (
	once sync.Once
	info Info
)

// Get returns the version info.
func Get() Info {
	once.Do(func() {
		info = resolve(Version, Commit, Date, Dirty, readVCS())
	})
	return info
}

// vcsStamp is the subset of debug.BuildInfo settings we read.
type vcsStamp struct {
	revision string
	time     string
	modified bool
}

func readVCS() *vcsStamp {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	var s vcsStamp
	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			s.revision = setting.Value
		case "vcs.time":
			s.time = setting.Value
		case "vcs.modified":
			s.modified, _ = strconv.ParseBool(setting.Value)
		}
	}
	if s.revision == "" {
		return nil
	}
	return &s
}

// resolve prefers ldflags values and fills the gaps from the VCS stamp.
func resolve(version, commit, date, dirty string, vcs *vcsStamp) Info {
	i := Info{
		Version:   version,
		Commit:    commit,
		Date:      date,
		Dirty:     dirty == "true",
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if vcs == nil || commit != unknown {
		return i
	}

	i.Commit = vcs.revision
	if len(i.Commit) > 12 {
		i.Commit = i.Commit[:12]
	}
	if date == unknown && vcs.time != "" {
		i.Date = vcs.time
	}
	i.Dirty = i.Dirty || vcs.modified
	return i
}

// Short returns the version, suffixed when the tree was dirty.
func (i Info) Short() string {
	if i.Dirty {
		return i.Version + "-dirty"
	}
	return i.Version
}

// UserAgent is sent on outbound provider and asset requests.
func UserAgent() string {
	return "genstudio-api/" + Get().Short()
}
