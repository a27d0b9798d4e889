package scheduler

import "github.com/hamed0406/watchdog/internal/domain"

// Job names registered on the dispatch queue.
const (
	JobCheckTarget    = "check_target"
	JobAlertHTTPError = "alert_http_error"
	JobAlertException = "alert_exception"
)

// CheckArgs is the probe job payload. It carries only the id; the handler
// reloads the target so pauses and deletions take effect.
type CheckArgs struct {
	TargetID domain.TargetID `json:"target_id"`
}
