package metrics

// InitializeMetrics pre-populates the expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	operations := []string{"transcode", "probe", "thumbnail"}
	terminal := []string{"succeeded", "failed", "cancelled"}

	for _, op := range operations {
		JobsSubmittedTotal.WithLabelValues(op)
		JobDuration.WithLabelValues(op)
		for _, st := range terminal {
			JobsCompletedTotal.WithLabelValues(op, st)
		}
	}

	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		RunnerInvocationsTotal.WithLabelValues(bin, "success")
		RunnerInvocationsTotal.WithLabelValues(bin, "error")
	}

	LedgerWritesTotal.WithLabelValues("success")
	LedgerWritesTotal.WithLabelValues("error")
}
