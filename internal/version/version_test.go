package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()

	if info.Version == "" || info.Commit == "" || info.Date == "" {
		t.Errorf("Get() = %+v, want build fields populated", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
	if want := runtime.GOOS + "/" + runtime.GOARCH; info.Platform != want {
		t.Errorf("Platform = %q, want %q", info.Platform, want)
	}
}

func TestResolve(t *testing.T) {
	stamp := &vcsStamp{revision: "0123456789abcdef0123", time: "2026-10-01T09:00:00Z", modified: true}

	tests := []struct {
		name       string
		commit     string
		date       string
		vcs        *vcsStamp
		wantCommit string
		wantDate   string
		wantDirty  bool
	}{
		{"ldflags win", "abc123", "2026-09-30", stamp, "abc123", "2026-09-30", false},
		{"vcs fallback", unknown, unknown, stamp, "0123456789ab", "2026-10-01T09:00:00Z", true},
		{"no stamp", unknown, unknown, nil, unknown, unknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolve("1.2.3", tt.commit, tt.date, "false", tt.vcs)
			if got.Commit != tt.wantCommit || got.Date != tt.wantDate || got.Dirty != tt.wantDirty {
				t.Errorf("resolve() = %+v, want commit %q date %q dirty %v", got, tt.wantCommit, tt.wantDate, tt.wantDirty)
			}
		})
	}
}

func TestShort(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{"clean", Info{Version: "1.2.3"}, "1.2.3"},
		{"dirty", Info{Version: "1.2.3", Dirty: true}, "1.2.3-dirty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.Short(); got != tt.want {
				t.Errorf("Short() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "genstudio-api/") {
		t.Errorf("UserAgent() = %q, want genstudio-api/ prefix", ua)
	}
}
