package tracker

import (
	"fmt"

	"github.com/nordvik/beacon/internal/notification"
)

// Closed set of work kinds the run engine reports. An unrecognized kind
// falls back to the generic template.
const (
	KindScanOverdue    = "scan_overdue"
	KindQueueDigest    = "queue_digest"
	KindPruneDelivered = "prune_delivered"
)

var completionTitles = map[string]string{
	KindScanOverdue:    "Checked overdue reminders",
	KindQueueDigest:    "Queued reminder digest",
	KindPruneDelivered: "Pruned delivered reminders",
}

func formatCompletion(rec *Record) *notification.Message {
	title, ok := completionTitles[rec.Kind]
	if !ok {
		title = fmt.Sprintf("Task completed: %s", rec.Kind)
	}
	body := rec.Result
	if body == "" {
		body = "Done."
	}
	return &notification.Message{
		Title: title,
		Body:  body,
		Metadata: map[string]string{
			"kind":   rec.Kind,
			"status": string(StatusCompleted),
		},
	}
}

func formatFailure(rec *Record) *notification.Message {
	return &notification.Message{
		Title: fmt.Sprintf("Task failed: %s", rec.Kind),
		Body:  rec.Error,
		Metadata: map[string]string{
			"kind":   rec.Kind,
			"status": string(StatusFailed),
		},
	}
}
