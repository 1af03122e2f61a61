// prometheus.go - Prometheus metrics exporter
package server

import (
	"fmt"
	"net/http"
	"strings"
)

// metricsHandler serves the counters and registry-derived gauges in
// Prometheus text exposition format on GET /metrics.
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	snapshot := GetMetrics().Snapshot()

	var output strings.Builder

	writeCounter := func(name, help string, value int64) {
		output.WriteString("# HELP " + name + " " + help + "\n")
		output.WriteString("# TYPE " + name + " counter\n")
		fmt.Fprintf(&output, "%s %d\n\n", name, value)
	}
	writeGauge := func(name, help string, value int64) {
		output.WriteString("# HELP " + name + " " + help + "\n")
		output.WriteString("# TYPE " + name + " gauge\n")
		fmt.Fprintf(&output, "%s %d\n\n", name, value)
	}

	writeCounter("fp_requests_total", "Total number of HTTP requests", snapshot.RequestsTotal)
	writeCounter("fp_request_errors_4xx_total", "HTTP requests answered with a 4xx status", snapshot.RequestErrors4xx)
	writeCounter("fp_request_errors_5xx_total", "HTTP requests answered with a 5xx status", snapshot.RequestErrors5xx)

	writeCounter("fp_uploads_total", "Upload batches accepted", snapshot.UploadsTotal)
	writeCounter("fp_upload_bytes_total", "Bytes accepted across all upload batches", snapshot.UploadBytesTotal)
	writeCounter("fp_upload_errors_total", "Upload batches rejected or failed", snapshot.UploadErrorsTotal)

	writeCounter("fp_pickups_total", "Successful pickup code redemptions", snapshot.PickupsTotal)
	writeCounter("fp_pickup_failures_total", "Failed pickup code redemptions", snapshot.PickupFailuresTotal)

	writeCounter("fp_downloads_total", "Counted file downloads", snapshot.DownloadsTotal)
	writeCounter("fp_downloads_deduped_total", "Downloads served without counting (retries, ranged transfers)", snapshot.DownloadsDedupedTotal)
	writeCounter("fp_download_errors_total", "Failed download requests", snapshot.DownloadErrorsTotal)

	writeCounter("fp_groups_reaped_total", "File groups removed by the expiry reaper", snapshot.GroupsReapedTotal)

	writeGauge("fp_storage_bytes", "Bytes currently stored across live file groups", s.store.TotalBytes())
	writeGauge("fp_file_groups", "Number of live file groups", int64(s.store.Count()))

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(output.String()))
}
