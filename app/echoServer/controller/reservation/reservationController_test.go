package reservation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"unilibrary/model"
	"unilibrary/service/circulation"
	ressvc "unilibrary/service/reservation"
)

type mockSvc struct {
	reserveFn func(ctx context.Context, userID, bookID int64) (*model.Reservation, int64, error)
	cancelFn  func(ctx context.Context, userID int64, admin bool, id int64) error
	mineFn    func(ctx context.Context, userID int64) ([]ressvc.Row, error)
}

func (m *mockSvc) Reserve(ctx context.Context, userID, bookID int64) (*model.Reservation, int64, error) {
	return m.reserveFn(ctx, userID, bookID)
}
func (m *mockSvc) Cancel(ctx context.Context, userID int64, admin bool, id int64) error {
	return m.cancelFn(ctx, userID, admin, id)
}
func (m *mockSvc) Position(ctx context.Context, id int64) (int64, error) { return 0, nil }
func (m *mockSvc) Mine(ctx context.Context, userID int64) ([]ressvc.Row, error) {
	return m.mineFn(ctx, userID)
}

func newCtx(t *testing.T, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", int64(7))
	c.Set("role", "user")
	return c, rec
}

func newController(svc ressvc.Service) *Controller {
	return &Controller{
		Svc: svc,
		V:   validator.New(),
		Log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestCreate_Created(t *testing.T) {
	svc := &mockSvc{
		reserveFn: func(ctx context.Context, userID, bookID int64) (*model.Reservation, int64, error) {
			require.EqualValues(t, 7, userID)
			require.EqualValues(t, 3, bookID)
			return &model.Reservation{ID: 42, BookID: 3, UserID: 7, Status: model.ReservationWaiting}, 2, nil
		},
	}
	c, rec := newCtx(t, http.MethodPost, "/v1/reservations", `{"book_id":3}`)

	require.NoError(t, newController(svc).Create(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var got struct {
		QueuePosition int64 `json:"queue_position"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.EqualValues(t, 2, got.QueuePosition)
}

func TestCreate_BadPayload(t *testing.T) {
	c, rec := newCtx(t, http.MethodPost, "/v1/reservations", `{"book_id":0}`)
	require.NoError(t, newController(&mockSvc{}).Create(c))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreate_ErrorMapping(t *testing.T) {
	cases := []struct {
		code circulation.ErrCode
		want int
	}{
		{circulation.ErrNotFound, http.StatusNotFound},
		{circulation.ErrDuplicateReservation, http.StatusConflict},
		{circulation.ErrReservationLimit, http.StatusConflict},
	}
	for _, tc := range cases {
		svc := &mockSvc{
			reserveFn: func(ctx context.Context, userID, bookID int64) (*model.Reservation, int64, error) {
				return nil, 0, circulation.Err(tc.code)
			},
		}
		c, rec := newCtx(t, http.MethodPost, "/v1/reservations", `{"book_id":3}`)
		require.NoError(t, newController(svc).Create(c))
		require.Equal(t, tc.want, rec.Code, string(tc.code))
	}
}

func TestCreate_BusyRetriesThenSucceeds(t *testing.T) {
	calls := 0
	svc := &mockSvc{
		reserveFn: func(ctx context.Context, userID, bookID int64) (*model.Reservation, int64, error) {
			calls++
			if calls < 3 {
				return nil, 0, circulation.Err(circulation.ErrBusy)
			}
			return &model.Reservation{ID: 1, Status: model.ReservationWaiting}, 1, nil
		},
	}
	c, rec := newCtx(t, http.MethodPost, "/v1/reservations", `{"book_id":3}`)
	require.NoError(t, newController(svc).Create(c))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 3, calls)
}

func TestCancel_ErrorMapping(t *testing.T) {
	cases := []struct {
		code circulation.ErrCode
		want int
	}{
		{circulation.ErrNotFound, http.StatusNotFound},
		{circulation.ErrForbidden, http.StatusForbidden},
		{circulation.ErrInvalidState, http.StatusConflict},
	}
	for _, tc := range cases {
		svc := &mockSvc{
			cancelFn: func(ctx context.Context, userID int64, admin bool, id int64) error {
				return circulation.Err(tc.code)
			},
		}
		c, rec := newCtx(t, http.MethodDelete, "/v1/reservations/9", "")
		c.SetParamNames("id")
		c.SetParamValues("9")
		require.NoError(t, newController(svc).Cancel(c))
		require.Equal(t, tc.want, rec.Code, string(tc.code))
	}
}

func TestCancel_OK(t *testing.T) {
	svc := &mockSvc{
		cancelFn: func(ctx context.Context, userID int64, admin bool, id int64) error {
			require.EqualValues(t, 7, userID)
			require.False(t, admin)
			require.EqualValues(t, 9, id)
			return nil
		},
	}
	c, rec := newCtx(t, http.MethodDelete, "/v1/reservations/9", "")
	c.SetParamNames("id")
	c.SetParamValues("9")
	require.NoError(t, newController(svc).Cancel(c))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMine(t *testing.T) {
	svc := &mockSvc{
		mineFn: func(ctx context.Context, userID int64) ([]ressvc.Row, error) {
			return []ressvc.Row{{ReservationID: 1, BookID: 3, Status: model.ReservationWaiting}}, nil
		},
	}
	c, rec := newCtx(t, http.MethodGet, "/v1/reservations/mine", "")
	require.NoError(t, newController(svc).Mine(c))
	require.Equal(t, http.StatusOK, rec.Code)
}
