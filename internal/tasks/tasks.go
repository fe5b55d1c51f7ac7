package tasks

// Deferred work exchanged between the API process and cmd/worker over
// rabbitmq. Every task re-derives its action from persisted job state
// when it fires, so a stale or duplicate delivery is a no-op rather than
// a fault.

type Type string

const (
	// TypeAssignCategorizers runs once per job after creation.
	TypeAssignCategorizers Type = "assign_categorizers"
	// TypeOnboardingReminder nags the assigned worker while the job is
	// matched; re-publishes itself with Attempt+1 until the cap.
	TypeOnboardingReminder Type = "onboarding_reminder"
	// TypeActivateJob performs the matched -> in_progress transition
	// after onboarding code validation.
	TypeActivateJob Type = "activate_job"
	// TypeCompleteJob performs the in_progress -> completed transition
	// after completion code validation.
	TypeCompleteJob Type = "complete_job"
	// TypeFinishCancel expires external broadcast bubbles and clears the
	// chat job reference, delayed behind the immediate expiry pass.
	TypeFinishCancel Type = "finish_cancel"
)

type Task struct {
	Type    Type   `json:"type"`
	JobID   string `json:"job_id"`
	Attempt int    `json:"attempt,omitempty"`
}
