// Build metadata of the memo binary. Version, Commit, BuildTime and TestMode are filled in through -ldflags -X, e.g.
// `-X github.com/nobletooth/memo/pkg/utils.TestMode=true` for test builds that should panic on invariants.

package utils

import (
	"log/slog"
	"strconv"
	"time"
)

var (
	TestMode   string // "true" in test builds; read once into IsTestMode.
	IsTestMode bool
	Version    string
	Commit     string
	BuildTime  string
	StartTime  time.Time // When the process loaded this package.
)

// defaultBuildValue fills `value` if the linker left it empty.
func defaultBuildValue(value *string, fallback string) {
	if *value == "" {
		*value = fallback
	}
}

func init() {
	StartTime = time.Now()
	defaultBuildValue(&Version, "v0.0.0-dev") // Keeps unstamped builds semver-valid.
	defaultBuildValue(&Commit, "unknown")
	defaultBuildValue(&BuildTime, "unknown")
	if TestMode == "" {
		return
	}
	isTestMode, err := strconv.ParseBool(TestMode)
	if err != nil {
		slog.Warn("Ignoring unparsable TestMode build value.", "value", TestMode, "error", err)
		return
	}
	IsTestMode = isTestMode
}

// Uptime is how long the process has been running.
func Uptime() time.Duration { return time.Since(StartTime) }
