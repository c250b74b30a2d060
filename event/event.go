// Package event publishes security events emitted by token issuance and the
// CIBA flow.
package event

import (
	"context"
	"encoding/json"
	"time"

	valkey "github.com/valkey-io/valkey-go"
	"go.uber.org/zap"
)

// Type names a security event.
type Type string

const (
	TokenIssued             Type = "token_issued"
	TokenRequestFailed      Type = "token_request_failed"
	TokenRevoked            Type = "token_revoked"
	AuthorizationCodeIssued Type = "authorization_code_issued"
	BackchannelRequested    Type = "backchannel_authentication_requested"
	BackchannelAuthorized   Type = "backchannel_authentication_authorized"
	BackchannelDenied       Type = "backchannel_authentication_denied"
)

// SecurityEvent is one auditable occurrence.
type SecurityEvent struct {
	Type       Type              `json:"type"`
	TenantID   string            `json:"tenant_id"`
	ClientID   string            `json:"client_id,omitempty"`
	UserSub    string            `json:"user_sub,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Publisher delivers security events. Delivery failures are the publisher's
// concern and never fail the operation that emitted the event.
type Publisher interface {
	Publish(ctx context.Context, e SecurityEvent)
}

// Publishers fans an event out to every publisher.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, e SecurityEvent) {
	for _, p := range ps {
		p.Publish(ctx, e)
	}
}

type nop struct{}

func (nop) Publish(context.Context, SecurityEvent) {}

// Nop discards every event.
func Nop() Publisher { return nop{} }

// LogPublisher writes events to a zap logger.
type LogPublisher struct {
	log *zap.Logger
}

// NewLogPublisher returns a publisher logging at info level.
func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("event")}
}

func (p *LogPublisher) Publish(_ context.Context, e SecurityEvent) {
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.String("tenant_id", e.TenantID),
		zap.Time("occurred_at", e.OccurredAt),
	}
	if e.ClientID != "" {
		fields = append(fields, zap.String("client_id", e.ClientID))
	}
	if e.UserSub != "" {
		fields = append(fields, zap.String("user_sub", e.UserSub))
	}
	for k, v := range e.Detail {
		fields = append(fields, zap.String(k, v))
	}
	p.log.Info("security event", fields...)
}

// DefaultStream is the Valkey stream events are appended to.
const DefaultStream = "idp:security_events"

// StreamPublisher appends events to a Valkey stream for downstream consumers.
type StreamPublisher struct {
	client valkey.Client
	stream string
	log    *zap.Logger
}

// NewStreamPublisher returns a publisher writing to stream.
func NewStreamPublisher(client valkey.Client, stream string, log *zap.Logger) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamPublisher{client: client, stream: stream, log: log.Named("event")}
}

func (p *StreamPublisher) Publish(ctx context.Context, e SecurityEvent) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.Warn("encode security event", zap.String("event", string(e.Type)), zap.Error(err))
		return
	}
	cmd := p.client.B().Xadd().Key(p.stream).Id("*").FieldValue().
		FieldValue("type", string(e.Type)).
		FieldValue("tenant_id", e.TenantID).
		FieldValue("payload", string(payload)).
		Build()
	if err := p.client.Do(ctx, cmd).Error(); err != nil {
		p.log.Warn("publish security event", zap.String("event", string(e.Type)), zap.Error(err))
	}
}
