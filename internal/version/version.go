// Package version carries build metadata for the quotegate binaries.
// The variables are set with -ldflags at build time.
package version

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// Version is the release tag or short commit hash.
	// Set via: -ldflags "-X quotegate/internal/version.Version=..."
	Version = "unknown"

	// BuildDate is the UTC build time in RFC 3339 form.
	// Set via: -ldflags "-X quotegate/internal/version.BuildDate=..."
	BuildDate = "unknown"

	// GitCommit is the full commit SHA.
	// Set via: -ldflags "-X quotegate/internal/version.GitCommit=..."
	GitCommit = "unknown"
)

// Info describes the running binary and the process instance.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns build metadata. The instance ID and hostname are fixed on
// first call, so every health document and log record of one process agree.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.New().String(),
			Hostname:   getHostname(),
		}
	})
	return info
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

// String formats version info for CLI display.
func (i Info) String() string {
	return fmt.Sprintf("quotegate %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}

// UserAgent builds a User-Agent product token such as "quotectl/1.2.0".
// Unknown versions and the leading "v" of tags are dropped.
func UserAgent(product string) string {
	v := strings.TrimPrefix(Version, "v")
	if v == "" || v == "unknown" {
		return product
	}
	return product + "/" + v
}
