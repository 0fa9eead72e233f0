package workflow

import "github.com/hochfrequenz/factory-coordinator/internal/domain"

// NextActions returns the follow-up signals for a request that just entered
// status. The list is advisory; nothing here sends or schedules anything.
func NextActions(status domain.Status) []domain.Action {
	switch status {
	case domain.StatusSubmitted:
		return []domain.Action{
			{Type: domain.ActionNotification, Target: "factory", Message: "New production adjustment request received"},
		}
	case domain.StatusApproved:
		return []domain.Action{
			{Type: domain.ActionNotification, Target: "requester", Message: "Request approved - production will begin"},
			{Type: domain.ActionScheduleFollowup, Days: 7, Action: "check_progress"},
		}
	case domain.StatusRejected:
		return []domain.Action{
			{Type: domain.ActionNotification, Target: "requester", Message: "Request rejected - please review and resubmit if needed"},
		}
	case domain.StatusCompleted:
		return []domain.Action{
			{Type: domain.ActionNotification, Target: "all", Message: "Production adjustment completed successfully"},
			{Type: domain.ActionArchive, DelayDays: 30},
		}
	case domain.StatusOverdue:
		return []domain.Action{
			{Type: domain.ActionEscalation, Target: "manager", Message: "Request is overdue and requires attention"},
		}
	default:
		return []domain.Action{}
	}
}
