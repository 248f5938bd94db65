// model/notification.go
package model

import "time"

type NotificationKind string

const (
	NotifyReservationReady   NotificationKind = "RESERVATION_READY"
	NotifyReservationExpired NotificationKind = "RESERVATION_EXPIRED"
	NotifyLoanOverdue        NotificationKind = "LOAN_OVERDUE"
)

type Notification struct {
	ID        int64            `json:"id"`
	UserID    int64            `json:"user_id"`
	Kind      NotificationKind `json:"kind"`
	Message   string           `json:"message"`
	EntityID  int64            `json:"entity_id"`
	CreatedAt time.Time        `json:"created_at"`
}
