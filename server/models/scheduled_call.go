package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type ScheduledCall struct {
	BaseModel
	ScheduledAt  time.Time   `json:"scheduled_time" validate:"required"`
	UserID       uint        `json:"user_id" gorm:"not null"`
	CallStatusID uint        `json:"call_status_id"`
	CallStatus   *CallStatus `json:"status,omitempty"`
}

// ScheduleCall creates a pending check-in call for the user at the
// given time.
func (user *User) ScheduleCall(at time.Time) (*ScheduledCall, error) {
	pendingStatus, err := FindCallStatus(PENDING_CALL)
	if err != nil {
		return nil, err
	}

	call := ScheduledCall{
		ScheduledAt:  at,
		UserID:       user.ID,
		CallStatusID: pendingStatus.ID,
	}

	err = db.Create(&call).Error
	if err != nil {
		return nil, err
	}

	return &call, nil
}

// LogCompletedCall records an immediate check-in that has already been
// relayed to the call-automation webhook.
func (user *User) LogCompletedCall() (*ScheduledCall, error) {
	completedStatus, err := FindCallStatus(COMPLETED_CALL)
	if err != nil {
		return nil, err
	}

	call := ScheduledCall{
		ScheduledAt:  time.Now(),
		UserID:       user.ID,
		CallStatusID: completedStatus.ID,
	}

	err = db.Create(&call).Error
	if err != nil {
		return nil, err
	}

	return &call, nil
}

// CancelCall cancels the user's call with the given id. Only pending
// calls can transition to cancelled; the guard is part of the update
// statement, so a concurrent completion can't be clobbered.
func (user *User) CancelCall(callID interface{}) error {
	pendingStatus, err := FindCallStatus(PENDING_CALL)
	if err != nil {
		return err
	}

	cancelledStatus, err := FindCallStatus(CANCELLED_CALL)
	if err != nil {
		return err
	}

	res := db.Model(&ScheduledCall{}).
		Where("id = ? AND user_id = ? AND call_status_id = ?", callID, user.ID, pendingStatus.ID).
		Update("call_status_id", cancelledStatus.ID)
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

func (user *User) FetchCalls(status string, page int) ([]ScheduledCall, *Paging, error) {
	const JOIN_QUERY = "INNER JOIN call_statuses ON call_statuses.id = scheduled_calls.call_status_id AND call_statuses.name = ?"

	var total int64
	calls := []ScheduledCall{}

	err := db.Joins(JOIN_QUERY, status).Model(&ScheduledCall{}).
		Where("user_id = ?", user.ID).Count(&total).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	err = db.Scopes(paginate(page, MAX_PAGE_SIZE)).
		Preload("CallStatus").Order("scheduled_calls.scheduled_at asc").
		Joins(JOIN_QUERY, status).Where("user_id = ?", user.ID).Find(&calls).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	return calls, newPaging(int64(page), MAX_PAGE_SIZE, total), nil
}

func FindScheduledCall(id interface{}) (*ScheduledCall, error) {
	call := ScheduledCall{}
	err := db.Preload("CallStatus").First(&call, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return &call, nil
}

// DueCalls returns pending calls whose scheduled time has passed asOf.
func DueCalls(asOf time.Time) ([]ScheduledCall, error) {
	calls := []ScheduledCall{}

	err := db.Joins(
		"INNER JOIN call_statuses ON call_statuses.id = scheduled_calls.call_status_id AND call_statuses.name = ?",
		PENDING_CALL).
		Where("scheduled_at <= ?", asOf).Find(&calls).Error
	if err != nil {
		return nil, err
	}

	return calls, nil
}

// CompleteCall transitions the call from pending to completed & reports
// whether this invocation performed the transition.
func CompleteCall(callID interface{}) (bool, error) {
	pendingStatus, err := FindCallStatus(PENDING_CALL)
	if err != nil {
		return false, err
	}

	completedStatus, err := FindCallStatus(COMPLETED_CALL)
	if err != nil {
		return false, err
	}

	res := db.Model(&ScheduledCall{}).
		Where("id = ? AND call_status_id = ?", callID, pendingStatus.ID).
		Update("call_status_id", completedStatus.ID)
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

func CurrentCallStats(userID interface{}) (*CallStats, error) {
	const JOIN_QUERY = "INNER JOIN call_statuses ON call_statuses.id = scheduled_calls.call_status_id AND call_statuses.name = ?"
	stats := CallStats{}

	counts := []struct {
		status string
		count  *int64
	}{
		{PENDING_CALL, &stats.PendingCallCount},
		{COMPLETED_CALL, &stats.CompletedCallCount},
		{CANCELLED_CALL, &stats.CancelledCallCount},
	}

	for _, c := range counts {
		err := db.Joins(JOIN_QUERY, c.status).Model(&ScheduledCall{}).
			Where("user_id = ?", userID).Count(c.count).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	return &stats, nil
}
