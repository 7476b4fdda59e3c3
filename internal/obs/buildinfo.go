package obs

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "userboard_build_info",
		Help: "Userboard build information; always 1.",
	}, []string{"version", "commit", "go_version"})
)

// InitBuildInfo publishes userboard_build_info for this binary. Repeated calls
// only add label sets.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() { prometheus.MustRegister(buildInfo) })
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}
