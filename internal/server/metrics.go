package server

import (
	"sync"
)

// Metrics holds application counters. Gauges derived from the registry
// (storage bytes, live groups) are read from the Store at scrape time
// instead of being tracked here.
type Metrics struct {
	mu sync.RWMutex

	// Upload metrics
	uploadsTotal      int64
	uploadBytesTotal  int64
	uploadErrorsTotal int64

	// Pickup metrics
	pickupsTotal        int64
	pickupFailuresTotal int64

	// Download metrics
	downloadsTotal        int64
	downloadsDedupedTotal int64
	downloadErrorsTotal   int64

	// Lifecycle metrics
	groupsReapedTotal int64

	// System metrics
	requestsTotal    int64
	requestErrors4xx int64
	requestErrors5xx int64
}

var globalMetrics = &Metrics{}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordUpload records a successful upload batch
func (m *Metrics) RecordUpload(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadsTotal++
	m.uploadBytesTotal += bytes
}

// RecordUploadError records a rejected or failed upload batch
func (m *Metrics) RecordUploadError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadErrorsTotal++
}

// RecordPickup records a pickup code redemption attempt
func (m *Metrics) RecordPickup(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.pickupsTotal++
	} else {
		m.pickupFailuresTotal++
	}
}

// RecordDownload records a served download; deduped marks downloads that
// were served without being counted against the group's quota.
func (m *Metrics) RecordDownload(deduped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if deduped {
		m.downloadsDedupedTotal++
	} else {
		m.downloadsTotal++
	}
}

// RecordDownloadError records a failed download request
func (m *Metrics) RecordDownloadError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloadErrorsTotal++
}

// RecordReaped records groups removed by a reaper pass
func (m *Metrics) RecordReaped(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groupsReapedTotal += int64(n)
}

// RecordRequest records one HTTP request and its status class
func (m *Metrics) RecordRequest(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestsTotal++
	switch {
	case status >= 500:
		m.requestErrors5xx++
	case status >= 400:
		m.requestErrors4xx++
	}
}

// MetricsSnapshot is a point-in-time copy of all counters
type MetricsSnapshot struct {
	UploadsTotal          int64
	UploadBytesTotal      int64
	UploadErrorsTotal     int64
	PickupsTotal          int64
	PickupFailuresTotal   int64
	DownloadsTotal        int64
	DownloadsDedupedTotal int64
	DownloadErrorsTotal   int64
	GroupsReapedTotal     int64
	RequestsTotal         int64
	RequestErrors4xx      int64
	RequestErrors5xx      int64
}

// Snapshot returns a consistent copy of the current counters
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsSnapshot{
		UploadsTotal:          m.uploadsTotal,
		UploadBytesTotal:      m.uploadBytesTotal,
		UploadErrorsTotal:     m.uploadErrorsTotal,
		PickupsTotal:          m.pickupsTotal,
		PickupFailuresTotal:   m.pickupFailuresTotal,
		DownloadsTotal:        m.downloadsTotal,
		DownloadsDedupedTotal: m.downloadsDedupedTotal,
		DownloadErrorsTotal:   m.downloadErrorsTotal,
		GroupsReapedTotal:     m.groupsReapedTotal,
		RequestsTotal:         m.requestsTotal,
		RequestErrors4xx:      m.requestErrors4xx,
		RequestErrors5xx:      m.requestErrors5xx,
	}
}
