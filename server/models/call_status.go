package models

const (
	PENDING_CALL   = "pending"
	COMPLETED_CALL = "completed"
	CANCELLED_CALL = "cancelled"
)

var CallStatusNameMap = map[string]bool{
	PENDING_CALL:   true,
	COMPLETED_CALL: true,
	CANCELLED_CALL: true,
}

type CallStats struct {
	PendingCallCount   int64 `json:"pending_call_count"`
	CompletedCallCount int64 `json:"completed_call_count"`
	CancelledCallCount int64 `json:"cancelled_call_count"`
}

type CallStatus struct {
	BaseModel
	Name  string          `json:"name"`
	Calls []ScheduledCall `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
}

func FindCallStatus(name string) (*CallStatus, error) {
	callStatus := CallStatus{}
	err := db.Select("id", "name").First(&callStatus, "name = ?", name).Error
	if err != nil {
		return nil, err
	}

	return &callStatus, nil
}
