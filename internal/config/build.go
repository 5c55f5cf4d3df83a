package config

// Set with -ldflags at build time:
//
//	go build -ldflags "-X ticketing/internal/config.version=1.4.0 \
//	    -X ticketing/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X ticketing/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// NewBuildInfo returns the values linked into this binary.
func NewBuildInfo() BuildInfo {
	return BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
}

// UserAgent is sent on outbound calls to the payment and email providers.
func (b BuildInfo) UserAgent() string {
	return "ticketing/" + b.Version
}
