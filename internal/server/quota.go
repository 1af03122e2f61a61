// quota.go - Quota enforcement for upload batches.
//
// Limits are checked pre-flight (global ceiling, file count) and
// incrementally while a batch streams in (per-file and per-group bytes).
package server

import "fmt"

// Limit names reported inside QuotaError, matching the config keys that
// set them.
const (
	LimitFileBytes     = "max_file_bytes"
	LimitGroupBytes    = "max_group_bytes"
	LimitGlobalBytes   = "max_global_bytes"
	LimitFilesPerGroup = "max_files_per_group"
)

// QuotaError reports which configured ceiling a batch breached, with the
// observed value alongside the limit. A breach of the global ceiling maps
// to 507, everything else to 413.
type QuotaError struct {
	Limit    string
	Observed int64
	Allowed  int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s exceeded: %d > %d", e.Limit, e.Observed, e.Allowed)
}

// Global reports whether the breached ceiling is the global storage limit.
func (e *QuotaError) Global() bool { return e.Limit == LimitGlobalBytes }

// quotaChecker tracks a batch's running totals against the configured
// ceilings. A zero ceiling disables the corresponding check.
type quotaChecker struct {
	cfg        Config
	fileCount  int
	groupBytes int64
	usedBytes  int64
}

// checkGlobal verifies the global ceiling before any bytes are written and
// records current usage so the batch's own bytes count against it too.
func (q *quotaChecker) checkGlobal(usedBytes int64) error {
	q.usedBytes = usedBytes
	if q.cfg.MaxGlobalBytes > 0 && usedBytes >= q.cfg.MaxGlobalBytes {
		return &QuotaError{Limit: LimitGlobalBytes, Observed: usedBytes, Allowed: q.cfg.MaxGlobalBytes}
	}
	return nil
}

// admitFile counts one more file in the batch.
func (q *quotaChecker) admitFile() error {
	q.fileCount++
	if q.cfg.MaxFilesPerGroup > 0 && q.fileCount > q.cfg.MaxFilesPerGroup {
		return &QuotaError{
			Limit:    LimitFilesPerGroup,
			Observed: int64(q.fileCount),
			Allowed:  int64(q.cfg.MaxFilesPerGroup),
		}
	}
	return nil
}

// admitBytes accounts a file's size against the per-file and per-group
// ceilings once its size is known.
func (q *quotaChecker) admitBytes(fileBytes int64) error {
	if q.cfg.MaxFileBytes > 0 && fileBytes > q.cfg.MaxFileBytes {
		return &QuotaError{Limit: LimitFileBytes, Observed: fileBytes, Allowed: q.cfg.MaxFileBytes}
	}
	q.groupBytes += fileBytes
	if q.cfg.MaxGroupBytes > 0 && q.groupBytes > q.cfg.MaxGroupBytes {
		return &QuotaError{Limit: LimitGroupBytes, Observed: q.groupBytes, Allowed: q.cfg.MaxGroupBytes}
	}
	if q.cfg.MaxGlobalBytes > 0 && q.usedBytes+q.groupBytes > q.cfg.MaxGlobalBytes {
		return &QuotaError{
			Limit:    LimitGlobalBytes,
			Observed: q.usedBytes + q.groupBytes,
			Allowed:  q.cfg.MaxGlobalBytes,
		}
	}
	return nil
}
