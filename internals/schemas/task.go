package schemas

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusError      TaskStatus = "ERROR"
)

// Terminal reports whether the status is absorbing. A record in a terminal
// status never moves back to a non-terminal one.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusError:
		return true
	}
	return false
}

// ParseRemoteStatus maps a status string reported by the interactions service
// onto the local vocabulary. The service additionally reports CANCELLED for
// interactions it stopped on its own side; locally that is a failure.
func ParseRemoteStatus(raw string) TaskStatus {
	switch TaskStatus(raw) {
	case TaskStatusCompleted:
		return TaskStatusCompleted
	case TaskStatusFailed, "CANCELLED":
		return TaskStatusFailed
	case TaskStatusError:
		return TaskStatusError
	case TaskStatusPending:
		return TaskStatusPending
	default:
		return TaskStatusInProgress
	}
}

// TaskRecord is one row of local research history. ID is assigned by the
// store and monotonically increasing. InteractionID is empty only between
// local creation and a successful submission. Report is set only for
// COMPLETED records.
type TaskRecord struct {
	ID            int64      `json:"id"`
	InteractionID string     `json:"interaction_id,omitempty"`
	ParentID      string     `json:"parent_id,omitempty"`
	Query         string     `json:"query"`
	Model         string     `json:"model"`
	Status        TaskStatus `json:"status"`
	Report        string     `json:"report,omitempty"`
	ErrorDetail   string     `json:"error_detail,omitempty"`
	CreatedAt     string     `json:"created_at"`
}
