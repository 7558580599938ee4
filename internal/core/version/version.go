// Package version exposes the build stamp baked into the binary
package version

// Stamped at build time, e.g.
//
//	go build -ldflags "-X 'agpm/internal/core/version.version=v0.3.0' \
//	  -X 'agpm/internal/core/version.commit=1f2e3d' \
//	  -X 'agpm/internal/core/version.date=2026-08-26'"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// BuildInfo is the shape the status API serves for /version
type BuildInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Info returns the stamp for this binary
func Info() BuildInfo {
	return BuildInfo{
		Service: "agpm-poller",
		Version: version,
		Commit:  commit,
		Date:    date,
	}
}
