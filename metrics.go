package deimos

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	restartCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deimos_client_restart_total",
			Help: "Total number of times the watchdog (re)launched the client.",
		},
		[]string{"reason"},
	)
	probeFailureCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deimos_probe_failure_total",
			Help: "Total number of failed health probes.",
		},
	)
	launchFailureCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deimos_launch_failure_total",
			Help: "Total number of client launches that failed to spawn.",
		},
	)
	pipelineCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deimos_pipeline_total",
			Help: "Download pipeline runs by outcome.",
		},
		[]string{"result"},
	)
	downloadProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deimos_download_progress_ratio",
			Help: "Progress of the current download, 0..1.",
		},
	)
	stateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deimos_supervisor_state",
			Help: "1 for the supervisor's current state, 0 otherwise.",
		},
		[]string{"state"},
	)
	uptimeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deimos_uptime_seconds",
			Help: "Watchdog uptime in seconds.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		restartCounter,
		probeFailureCounter,
		launchFailureCounter,
		pipelineCounter,
		downloadProgress,
		stateGauge,
		uptimeGauge,
	)
}

func recordState(s State) {
	for _, st := range []State{StateIdle, StateRestartPending, StateDownloading} {
		v := 0.0
		if st == s {
			v = 1
		}
		stateGauge.WithLabelValues(st.String()).Set(v)
	}
}

// pipelineResultLabel maps a pipeline error to a bounded label value.
func pipelineResultLabel(err error) string {
	switch {
	case err == nil:
		return "promoted"
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, ErrSanityCheckFailed):
		return "sanity_failed"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrDownload):
		return "download_error"
	case errors.Is(err, ErrInstall):
		return "install_error"
	default:
		return "error"
	}
}
