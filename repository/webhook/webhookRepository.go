// repository/webhook/repo.go
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"unilibrary/model"
	"unilibrary/util/httpx"
)

// Event is the fire-and-forget payload pushed to the campus
// notification relay.
type Event struct {
	Kind           model.NotificationKind `json:"kind"`
	UserID         int64                  `json:"user_id"`
	EntityID       int64                  `json:"entity_id"`
	PickupDeadline *time.Time             `json:"pickup_deadline,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
}

type Poster interface {
	Post(ctx context.Context, ev Event) error
}

type httpPoster struct {
	url    string
	client *http.Client
}

// NewHTTP returns a poster for the relay URL; with an empty URL every
// post is a no-op so dev setups need no relay running.
func NewHTTP(url string) Poster {
	return &httpPoster{url: url, client: httpx.Outbound()}
}

func (p *httpPoster) Post(ctx context.Context, ev Event) error {
	if p.url == "" {
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification relay: %s", resp.Status)
	}
	return nil
}
