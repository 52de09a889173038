// SPDX-License-Identifier: MIT

package telemetry

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans across the daemon.
const (
	// Recording attributes
	RecordingJobIDKey   = "recording.job_id"
	RecordingSourceKey  = "recording.source"
	RecordingAnchorKey  = "recording.anchor"
	RecordingPathKey    = "recording.path"
	RecordingFPSKey     = "recording.fps"
	RecordingPreKey     = "recording.pre_frames"
	RecordingPostKey    = "recording.post_frames"
	RecordingOutcomeKey = "recording.outcome"

	// Sync attributes
	SyncPathKey       = "sync.path"
	SyncRemotePathKey = "sync.remote_path"
	SyncScannedKey    = "sync.scanned"
	SyncCopiedKey     = "sync.copied"
	SyncFailedKey     = "sync.failed"
	SyncDaysBackKey   = "sync.days_back"

	// Auto-trigger attributes
	AutoTriggerRecordIDKey = "autotrigger.record_id"
	AutoTriggerStateKey    = "autotrigger.state"
	AutoTriggerReasonKey   = "autotrigger.fail_reason"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// RecordingAttributes describes a recording job.
func RecordingAttributes(jobID, source string, anchor time.Time, path string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(RecordingJobIDKey, jobID),
		attribute.String(RecordingSourceKey, source),
		attribute.String(RecordingAnchorKey, anchor.UTC().Format(time.RFC3339Nano)),
	}
	if path != "" {
		attrs = append(attrs, attribute.String(RecordingPathKey, path))
	}
	return attrs
}

// RecordingResultAttributes describes how a recording job ended.
func RecordingResultAttributes(outcome string, fps float64, preFrames, postFrames int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RecordingOutcomeKey, outcome),
		attribute.Float64(RecordingFPSKey, fps),
		attribute.Int(RecordingPreKey, preFrames),
		attribute.Int(RecordingPostKey, postFrames),
	}
}

// UploadAttributes describes a single artifact copy.
func UploadAttributes(path, remotePath string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if path != "" {
		attrs = append(attrs, attribute.String(SyncPathKey, path))
	}
	if remotePath != "" {
		attrs = append(attrs, attribute.String(SyncRemotePathKey, remotePath))
	}
	return attrs
}

// ReconcileAttributes summarizes a reconciliation pass.
func ReconcileAttributes(daysBack, scanned, copied, failed int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(SyncDaysBackKey, daysBack),
		attribute.Int(SyncScannedKey, scanned),
		attribute.Int(SyncCopiedKey, copied),
		attribute.Int(SyncFailedKey, failed),
	}
}

// AutoTriggerAttributes describes the status record behind a poll decision.
func AutoTriggerAttributes(recordID int, state string, failReason int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AutoTriggerRecordIDKey, recordID),
		attribute.String(AutoTriggerStateKey, state),
		attribute.Int(AutoTriggerReasonKey, failReason),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
