package loan

import (
	"context"
	"database/sql"
	"sort"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"unilibrary/model"
	bookrepo "unilibrary/repository/book"
	"unilibrary/service/circulation"
)

// fakeStore is an in-memory stand-in for the Postgres repositories.
// Transaction handles are ignored; sqlmock supplies the Begin/Commit
// boundary.
type fakeStore struct {
	books  map[int64]*model.Book
	res    map[int64]*model.Reservation
	loans  map[int64]*model.Loan
	nextID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		books: map[int64]*model.Book{},
		res:   map[int64]*model.Reservation{},
		loans: map[int64]*model.Loan{},
	}
}

func (f *fakeStore) id() int64 { f.nextID++; return f.nextID }

// --- Books ---

func (f *fakeStore) LockForUpdate(ctx context.Context, tx *sql.Tx, bookID int64) (int64, int64, error) {
	b, ok := f.books[bookID]
	if !ok {
		return 0, 0, sql.ErrNoRows
	}
	return b.TotalCopies, b.AvailableCopies, nil
}

func (f *fakeStore) AdjustAvailable(ctx context.Context, tx *sql.Tx, bookID, delta int64) error {
	b := f.books[bookID]
	next := b.AvailableCopies + delta
	if next < 0 || next > b.TotalCopies {
		return bookrepo.ErrStockInvariant
	}
	b.AvailableCopies = next
	return nil
}

// --- Loans ---

func (f *fakeStore) Insert(ctx context.Context, tx *sql.Tx, userID, bookID int64, reservationID *int64, start, due time.Time) (*model.Loan, error) {
	l := &model.Loan{
		ID: f.id(), BookID: bookID, UserID: userID,
		ReservationID: reservationID, Status: model.LoanActive,
		StartedAt: start, DueAt: due,
	}
	f.loans[l.ID] = l
	cp := *l
	return &cp, nil
}

func (f *fakeStore) Get(ctx context.Context, id int64) (*model.Loan, error) {
	l, ok := f.loans[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *l
	return &cp, nil
}

func (f *fakeStore) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Loan, error) {
	return f.Get(ctx, id)
}

func (f *fakeStore) CountActiveByUser(ctx context.Context, tx *sql.Tx, userID int64) (int64, error) {
	var n int64
	for _, l := range f.loans {
		if l.UserID == userID && l.Status == model.LoanActive {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) LockUser(ctx context.Context, tx *sql.Tx, userID int64) error { return nil }

func (f *fakeStore) MarkReturned(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error {
	l := f.loans[id]
	l.Status = model.LoanReturned
	l.ReturnedAt = &now
	return nil
}

func (f *fakeStore) ListMine(ctx context.Context, userID int64) ([]Row, error) {
	var out []Row
	for _, l := range f.loans {
		if l.UserID != userID {
			continue
		}
		out = append(out, Row{
			LoanID: l.ID, BookID: l.BookID,
			Status: l.Status, StartedAt: l.StartedAt, DueAt: l.DueAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoanID < out[j].LoanID })
	return out, nil
}

// --- Reservations (loan service slice + advancer queue) ---

func (f *fakeStore) resGet(id int64) (*model.Reservation, error) {
	r, ok := f.res[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

type fakeReservations struct{ *fakeStore }

func (f fakeReservations) Get(ctx context.Context, id int64) (*model.Reservation, error) {
	return f.resGet(id)
}

func (f fakeReservations) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Reservation, error) {
	return f.resGet(id)
}

func (f fakeReservations) BlockedForUser(ctx context.Context, tx *sql.Tx, bookID, userID int64) (bool, error) {
	for _, r := range f.res {
		if r.BookID == bookID && r.UserID != userID &&
			(r.Status == model.ReservationWaiting || r.Status == model.ReservationReady) {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeReservations) LiveClaimForUpdate(ctx context.Context, tx *sql.Tx, userID, bookID int64) (*model.Reservation, error) {
	for _, r := range f.res {
		if r.UserID == userID && r.BookID == bookID &&
			(r.Status == model.ReservationWaiting || r.Status == model.ReservationReady) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f fakeReservations) MarkFulfilled(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error {
	r := f.res[id]
	r.Status = model.ReservationFulfilled
	r.FulfilledAt = &now
	return nil
}

func (f *fakeStore) NextWaitingForUpdate(ctx context.Context, tx *sql.Tx, bookID int64) (*model.Reservation, error) {
	var head *model.Reservation
	for _, r := range f.res {
		if r.BookID != bookID || r.Status != model.ReservationWaiting {
			continue
		}
		if head == nil || r.CreatedAt.Before(head.CreatedAt) ||
			(r.CreatedAt.Equal(head.CreatedAt) && r.ID < head.ID) {
			head = r
		}
	}
	if head == nil {
		return nil, sql.ErrNoRows
	}
	cp := *head
	return &cp, nil
}

func (f *fakeStore) MarkReady(ctx context.Context, tx *sql.Tx, id int64, deadline time.Time) error {
	r := f.res[id]
	r.Status = model.ReservationReady
	r.PickupDeadline = &deadline
	return nil
}

func (f *fakeStore) addBook(copies int64) int64 {
	id := f.id()
	f.books[id] = &model.Book{ID: id, Title: "t", Author: "a", TotalCopies: copies, AvailableCopies: copies}
	return id
}

func (f *fakeStore) addWaiting(bookID, userID int64, at time.Time) int64 {
	id := f.id()
	f.res[id] = &model.Reservation{ID: id, BookID: bookID, UserID: userID, Status: model.ReservationWaiting, CreatedAt: at}
	return id
}

func (f *fakeStore) addReady(bookID, userID int64, deadline time.Time) int64 {
	id := f.id()
	f.res[id] = &model.Reservation{ID: id, BookID: bookID, UserID: userID, Status: model.ReservationReady, PickupDeadline: &deadline}
	return id
}

// recorder collects post-commit events.
type recorder struct {
	ready   []int64
	expired []int64
	overdue []int64
}

func (r *recorder) ReservationReady(ctx context.Context, res *model.Reservation) {
	r.ready = append(r.ready, res.ID)
}
func (r *recorder) ReservationExpired(ctx context.Context, res *model.Reservation) {
	r.expired = append(r.expired, res.ID)
}
func (r *recorder) LoanOverdue(ctx context.Context, l *model.Loan) {
	r.overdue = append(r.overdue, l.ID)
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, f *fakeStore, now *time.Time) (Service, sqlmock.Sqlmock, *recorder) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rec := &recorder{}
	adv := circulation.NewAdvancer(f)
	adv.Now = func() time.Time { return *now }
	svc := NewWithClock(db, f, fakeReservations{f}, f, adv, rec, func() time.Time { return *now })
	return svc, mock, rec
}

func expectCommit(m sqlmock.Sqlmock)   { m.ExpectBegin(); m.ExpectCommit() }
func expectRollback(m sqlmock.Sqlmock) { m.ExpectBegin(); m.ExpectRollback() }

// Scenario: single copy, first borrower wins, second is turned away
// and the count never goes negative.
func TestBorrow_LastCopy(t *testing.T) {
	ctx := context.Background()
	now := base
	f := newFakeStore()
	bookID := f.addBook(1)
	svc, mock, _ := newService(t, f, &now)

	expectCommit(mock)
	l, err := svc.Borrow(ctx, 1, bookID)
	require.NoError(t, err)
	require.Equal(t, model.LoanActive, l.Status)
	require.Equal(t, now.Add(circulation.LoanPeriod), l.DueAt)
	require.Nil(t, l.ReservationID)
	require.EqualValues(t, 0, f.books[bookID].AvailableCopies)

	expectRollback(mock)
	_, err = svc.Borrow(ctx, 2, bookID)
	require.Equal(t, circulation.ErrBookUnavailable, circulation.Code(err))
	require.EqualValues(t, 0, f.books[bookID].AvailableCopies)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrow_BookMissing(t *testing.T) {
	ctx := context.Background()
	now := base
	f := newFakeStore()
	svc, mock, _ := newService(t, f, &now)

	expectRollback(mock)
	_, err := svc.Borrow(ctx, 1, 999)
	require.Equal(t, circulation.ErrNotFound, circulation.Code(err))
}

// A queue formed by someone else blocks a walk-in even with copies on
// the shelf.
func TestBorrow_BlockedByQueue(t *testing.T) {
	ctx := context.Background()
	now := base
	f := newFakeStore()
	bookID := f.addBook(2)
	f.addWaiting(bookID, 7, now)
	svc, mock, _ := newService(t, f, &now)

	expectRollback(mock)
	_, err := svc.Borrow(ctx, 1, bookID)
	require.Equal(t, circulation.ErrBookUnavailable, circulation.Code(err))

	// The queued user themselves may still borrow directly.
	expectCommit(mock)
	_, err = svc.Borrow(ctx, 7, bookID)
	require.NoError(t, err)
}

// Scenario: the holder of a ready claim walks in and borrows. The
// claim is consumed as the loan's fulfillment so it cannot linger
// with no copy behind it.
func TestBorrow_ConsumesOwnReadyClaim(t *testing.T) {
	ctx := context.Background()
	now := base
	f := newFakeStore()
	bookID := f.addBook(1)
	resID := f.addReady(bookID, 4, now.Add(circulation.PickupWindow))
	svc, mock, _ := newService(t, f, &now)

	expectCommit(mock)
	l, err := svc.Borrow(ctx, 4, bookID)
	require.NoError(t, err)
	require.NotNil(t, l.ReservationID)
	require.Equal(t, resID, *l.ReservationID)
	require.Equal(t, model.ReservationFulfilled, f.res[resID].Status)
	require.EqualValues(t, 0, f.books[bookID].AvailableCopies)

	// The consumed claim cannot back a second loan.
	expectRollback(mock)
	_, err = svc.Fulfill(ctx, 4, resID)
	require.Equal(t, circulation.ErrInvalidState, circulation.Code(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

// Scenario: user with five active loans is refused a sixth.
func TestBorrow_LoanLimit(t *testing.T) {
	ctx := context.Background()
	now := base
	f := newFakeStore()
	for i := 0; i < 5; i++ {
		id := f.addBook(1)
		f.loans[f.id()] = &model.Loan{ID: f.nextID, BookID: id, UserID: 3, Status: model.LoanActive}
	}
	sixth := f.addBook(1)
	svc, mock, _ := newService(t, f, &now)

	expectRollback(mock)
	_, err := svc.Borrow(ctx, 3, sixth)
	require.Equal(t, circulation.ErrLoanLimit, circulation.Code(err))
	require.EqualValues(t, 1, f.books[sixth].AvailableCopies)
}

// Scenario: returning the last copy promotes the next waiting
// reservation with a seven day pickup window.
func TestReturn_AdvancesQueue(t *testing.T) {
	ctx := context.Background()
	now := base
	f := newFakeStore()
	bookID := f.addBook(1)
	svc, mock, rec := newService(t, f, &now)

	expectCommit(mock)
	l, err := svc.Borrow(ctx, 1, bookID)
	require.NoError(t, err)

	resID := f.addWaiting(bookID, 2, now)

	expectCommit(mock)
	require.NoError(t, svc.Return(ctx, 1, false, l.ID))

	require.Equal(t, model.LoanReturned, f.loans[l.ID].Status)
	require.EqualValues(t, 1, f.books[bookID].AvailableCopies)

	promoted := f.res[resID]
	require.Equal(t, model.ReservationReady, promoted.Status)
	require.NotNil(t, promoted.PickupDeadline)
	require.Equal(t, now.Add(circulation.PickupWindow), *promoted.PickupDeadline)
	require.Equal(t, []int64{resID}, rec.ready)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReturn_Authorization(t *testing.T) {
	ctx := context.Background()
	now := base
	f := newFakeStore()
	bookID := f.addBook(1)
	svc, mock, _ := newService(t, f, &now)

	expectCommit(mock)
	l, err := svc.Borrow(ctx, 1, bookID)
	require.NoError(t, err)

	err = svc.Return(ctx, 2, false, l.ID)
	require.Equal(t, circulation.ErrForbidden, circulation.Code(err))

	// Admin returns on the holder's behalf.
	expectCommit(mock)
	require.NoError(t, svc.Return(ctx, 2, true, l.ID))

	// Second return is rejected.
	expectRollback(mock)
	err = svc.Return(ctx, 1, false, l.ID)
	require.Equal(t, circulation.ErrInvalidState, circulation.Code(err))
}

func TestReturn_NotFound(t *testing.T) {
	ctx := context.Background()
	now := base
	f := newFakeStore()
	svc, _, _ := newService(t, f, &now)

	err := svc.Return(ctx, 1, false, 404)
	require.Equal(t, circulation.ErrNotFound, circulation.Code(err))
}

func TestFulfill_Success(t *testing.T) {
	ctx := context.Background()
	now := base
	f := newFakeStore()
	bookID := f.addBook(1)
	resID := f.addReady(bookID, 4, now.Add(circulation.PickupWindow))
	svc, mock, _ := newService(t, f, &now)

	expectCommit(mock)
	l, err := svc.Fulfill(ctx, 4, resID)
	require.NoError(t, err)
	require.NotNil(t, l.ReservationID)
	require.Equal(t, resID, *l.ReservationID)
	require.Equal(t, now.Add(circulation.LoanPeriod), l.DueAt)
	require.Equal(t, model.ReservationFulfilled, f.res[resID].Status)
	require.EqualValues(t, 0, f.books[bookID].AvailableCopies)
}

func TestFulfill_DeadlinePassed(t *testing.T) {
	ctx := context.Background()
	now := base
	f := newFakeStore()
	bookID := f.addBook(1)
	resID := f.addReady(bookID, 4, now.Add(-time.Hour))
	svc, mock, _ := newService(t, f, &now)

	expectRollback(mock)
	_, err := svc.Fulfill(ctx, 4, resID)
	require.Equal(t, circulation.ErrInvalidState, circulation.Code(err))
	require.EqualValues(t, 1, f.books[bookID].AvailableCopies)
}

func TestFulfill_WrongUserAndWrongState(t *testing.T) {
	ctx := context.Background()
	now := base
	f := newFakeStore()
	bookID := f.addBook(1)
	resID := f.addReady(bookID, 4, now.Add(time.Hour))
	waitingID := f.addWaiting(bookID, 5, now)
	svc, mock, _ := newService(t, f, &now)

	_, err := svc.Fulfill(ctx, 9, resID)
	require.Equal(t, circulation.ErrForbidden, circulation.Code(err))

	// A waiting reservation cannot be fulfilled directly.
	expectRollback(mock)
	_, err = svc.Fulfill(ctx, 5, waitingID)
	require.Equal(t, circulation.ErrInvalidState, circulation.Code(err))
}

func TestFulfill_LoanLimit(t *testing.T) {
	ctx := context.Background()
	now := base
	f := newFakeStore()
	bookID := f.addBook(1)
	resID := f.addReady(bookID, 3, now.Add(time.Hour))
	for i := 0; i < 5; i++ {
		id := f.addBook(1)
		f.loans[f.id()] = &model.Loan{ID: f.nextID, BookID: id, UserID: 3, Status: model.LoanActive}
	}
	svc, mock, _ := newService(t, f, &now)

	expectRollback(mock)
	_, err := svc.Fulfill(ctx, 3, resID)
	require.Equal(t, circulation.ErrLoanLimit, circulation.Code(err))
	require.EqualValues(t, 1, f.books[bookID].AvailableCopies)
}

// Listing derives overdue from the due date at read time.
func TestMine_DerivesOverdue(t *testing.T) {
	ctx := context.Background()
	now := base
	f := newFakeStore()
	b1 := f.addBook(1)
	b2 := f.addBook(1)
	svc, mock, _ := newService(t, f, &now)

	expectCommit(mock)
	l1, err := svc.Borrow(ctx, 1, b1)
	require.NoError(t, err)

	now = now.Add(10 * 24 * time.Hour)
	expectCommit(mock)
	l2, err := svc.Borrow(ctx, 1, b2)
	require.NoError(t, err)

	// Fifteen days in: the first loan is past due, the second is not.
	now = now.Add(5 * 24 * time.Hour)
	rows, err := svc.Mine(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, l1.ID, rows[0].LoanID)
	require.Equal(t, model.LoanOverdue, rows[0].Status)
	require.Equal(t, l2.ID, rows[1].LoanID)
	require.Equal(t, model.LoanActive, rows[1].Status)

	// The stored row never flips; only the listing derives.
	require.Equal(t, model.LoanActive, f.loans[l1.ID].Status)
}

// Copies are conserved across a borrow/return cycle.
func TestCopyConservation(t *testing.T) {
	ctx := context.Background()
	now := base
	f := newFakeStore()
	bookID := f.addBook(3)
	svc, mock, _ := newService(t, f, &now)

	var loans []*model.Loan
	for i := int64(1); i <= 3; i++ {
		expectCommit(mock)
		l, err := svc.Borrow(ctx, i, bookID)
		require.NoError(t, err)
		loans = append(loans, l)
	}
	require.EqualValues(t, 0, f.books[bookID].AvailableCopies)

	expectRollback(mock)
	_, err := svc.Borrow(ctx, 9, bookID)
	require.Equal(t, circulation.ErrBookUnavailable, circulation.Code(err))

	for _, l := range loans {
		expectCommit(mock)
		require.NoError(t, svc.Return(ctx, l.UserID, false, l.ID))
	}
	require.EqualValues(t, 3, f.books[bookID].AvailableCopies)
}
