package metrics

import "runtime"

func init() { register(buildInfo) }

var buildInfo = gaugeVec("build_info",
	"Always 1; labels carry the running build.", "version", "commit", "go_version")

func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}
