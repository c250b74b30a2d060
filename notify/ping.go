// Package notify delivers CIBA ping and push callbacks to client
// notification endpoints.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// poster POSTs JSON bodies authenticated with the client notification token.
type poster struct {
	client   *http.Client
	log      *zap.Logger
	maxTries uint
}

func newPoster(client *http.Client, log *zap.Logger) poster {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return poster{client: client, log: log.Named("notify"), maxTries: 3}
}

// post sends payload to endpoint. Server errors are retried with backoff;
// client errors are not.
func (p poster) post(ctx context.Context, kind, endpoint, notificationToken string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	op := func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+notificationToken)
		resp, err := p.client.Do(req)
		if err != nil {
			return 0, err
		}
		_ = resp.Body.Close()
		switch {
		case resp.StatusCode < 300:
			return resp.StatusCode, nil
		case resp.StatusCode >= 500:
			return resp.StatusCode, fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
		default:
			return resp.StatusCode, backoff.Permanent(fmt.Errorf("notification endpoint returned %d", resp.StatusCode))
		}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	status, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(p.maxTries))
	if err != nil {
		p.log.Warn(kind+" notification failed", zap.String("endpoint", endpoint), zap.Error(err))
		return err
	}
	p.log.Debug(kind+" notification delivered", zap.String("endpoint", endpoint), zap.Int("status", status))
	return nil
}

// PingNotifier posts {"auth_req_id": ...} to the client notification
// endpoint, authenticated with the client notification token.
type PingNotifier struct {
	poster
}

// NewPingNotifier returns a notifier using client, or a client with a 10s
// timeout when nil.
func NewPingNotifier(client *http.Client, log *zap.Logger) *PingNotifier {
	return &PingNotifier{poster: newPoster(client, log)}
}

// Ping notifies endpoint that auth_req_id can be redeemed.
func (n *PingNotifier) Ping(ctx context.Context, endpoint, notificationToken, authReqID string) error {
	return n.post(ctx, "ping", endpoint, notificationToken, map[string]string{"auth_req_id": authReqID})
}
