package notify

import (
	"context"
	"fmt"
	"log/slog"

	"unilibrary/model"
	notifrepo "unilibrary/repository/notification"
	"unilibrary/repository/webhook"
	"unilibrary/service/circulation"
)

// Dispatcher persists a notification row and pushes the event to the
// relay. Both are best effort: the core transition already committed,
// so failures are only logged.
type Dispatcher struct {
	nr  notifrepo.Repo
	wh  webhook.Poster
	log *slog.Logger
}

var _ circulation.Events = (*Dispatcher)(nil)

func New(nr notifrepo.Repo, wh webhook.Poster, log *slog.Logger) *Dispatcher {
	return &Dispatcher{nr: nr, wh: wh, log: log}
}

func (d *Dispatcher) ReservationReady(ctx context.Context, r *model.Reservation) {
	msg := fmt.Sprintf("Your reserved book is ready for pickup until %s.",
		r.PickupDeadline.Format("2006-01-02"))
	d.deliver(ctx, model.Notification{
		UserID:   r.UserID,
		Kind:     model.NotifyReservationReady,
		Message:  msg,
		EntityID: r.ID,
	}, webhook.Event{
		Kind:           model.NotifyReservationReady,
		UserID:         r.UserID,
		EntityID:       r.ID,
		PickupDeadline: r.PickupDeadline,
	})
}

func (d *Dispatcher) ReservationExpired(ctx context.Context, r *model.Reservation) {
	d.deliver(ctx, model.Notification{
		UserID:   r.UserID,
		Kind:     model.NotifyReservationExpired,
		Message:  "Your reservation expired because the book was not picked up in time.",
		EntityID: r.ID,
	}, webhook.Event{
		Kind:     model.NotifyReservationExpired,
		UserID:   r.UserID,
		EntityID: r.ID,
	})
}

func (d *Dispatcher) LoanOverdue(ctx context.Context, l *model.Loan) {
	msg := fmt.Sprintf("Your loan is overdue since %s, please return the book.",
		l.DueAt.Format("2006-01-02"))
	d.deliver(ctx, model.Notification{
		UserID:   l.UserID,
		Kind:     model.NotifyLoanOverdue,
		Message:  msg,
		EntityID: l.ID,
	}, webhook.Event{
		Kind:     model.NotifyLoanOverdue,
		UserID:   l.UserID,
		EntityID: l.ID,
	})
}

func (d *Dispatcher) deliver(ctx context.Context, n model.Notification, ev webhook.Event) {
	if err := d.nr.Insert(ctx, &n); err != nil {
		d.log.Error("notification insert failed", "kind", n.Kind, "user_id", n.UserID, "err", err)
	}
	ev.OccurredAt = n.CreatedAt
	go func() {
		// Detached from the request context: the relay call may outlive it.
		if err := d.wh.Post(context.Background(), ev); err != nil {
			d.log.Warn("notification relay failed", "kind", ev.Kind, "user_id", ev.UserID, "err", err)
		}
	}()
}
