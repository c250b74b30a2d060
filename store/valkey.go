package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	valkey "github.com/valkey-io/valkey-go"
)

// DefaultKeyPrefix namespaces every key this package writes to Valkey.
const DefaultKeyPrefix = "idp:"

// NewValkeyClient connects to a Valkey (Redis-compatible) server.
func NewValkeyClient(addr, password string, db int) (valkey.Client, error) {
	return valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
		Password:    password,
		SelectDB:    db,
	})
}

type valkeyKV struct {
	client valkey.Client
	prefix string
}

func newValkeyKV(client valkey.Client, prefix string) valkeyKV {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return valkeyKV{client: client, prefix: prefix}
}

// keyPartEscaper keeps ':' a pure separator and glob characters literal,
// so tenant "a:b" + client "c" and tenant "a" + client "b:c" never share a key.
var keyPartEscaper = strings.NewReplacer("%", "%25", ":", "%3A", "*", "%2A", "?", "%3F", "[", "%5B", "\\", "%5C")

// keyPart escapes one caller-supplied key segment.
func keyPart(s string) string { return keyPartEscaper.Replace(s) }

func (kv valkeyKV) key(kind string, parts ...string) string {
	var b strings.Builder
	b.WriteString(kv.prefix)
	b.WriteString(kind)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(keyPart(p))
	}
	return b.String()
}

func (kv valkeyKV) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if ttl <= 0 {
		return errors.New("value is already expired")
	}
	return kv.client.Do(ctx, kv.client.B().Set().Key(key).Value(string(data)).Px(ttl).Build()).Error()
}

func (kv valkeyKV) getJSON(ctx context.Context, key string, v interface{}) error {
	val, err := kv.client.Do(ctx, kv.client.B().Get().Key(key).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return errors.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// del removes key and reports ErrNotFound when nothing was removed.
func (kv valkeyKV) del(ctx context.Context, key string) error {
	n, err := kv.client.Do(ctx, kv.client.B().Del().Key(key).Build()).AsInt64()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// BackchannelRequestStore keeps accepted CIBA requests until they expire.
type BackchannelRequestStore struct {
	kv  valkeyKV
	now func() time.Time
}

// NewBackchannelRequestStore returns a Valkey-backed backchannel request store.
func NewBackchannelRequestStore(client valkey.Client, prefix string) *BackchannelRequestStore {
	return &BackchannelRequestStore{kv: newValkeyKV(client, prefix), now: time.Now}
}

// Save stores req until expiresAt.
func (s *BackchannelRequestStore) Save(ctx context.Context, req models.BackchannelAuthenticationRequest, expiresAt time.Time) error {
	return s.kv.setJSON(ctx, s.kv.key("ciba_request", req.TenantID, req.ID), req, expiresAt.Sub(s.now()))
}

// Find loads a request by identifier.
func (s *BackchannelRequestStore) Find(ctx context.Context, tenantID, id string) (models.BackchannelAuthenticationRequest, error) {
	var req models.BackchannelAuthenticationRequest
	err := s.kv.getJSON(ctx, s.kv.key("ciba_request", tenantID, id), &req)
	return req, err
}

// Delete removes a request.
func (s *BackchannelRequestStore) Delete(ctx context.Context, tenantID, id string) error {
	return s.kv.del(ctx, s.kv.key("ciba_request", tenantID, id))
}

// AuthorizationCodeStore keeps authorization codes keyed by their hash.
type AuthorizationCodeStore struct {
	kv  valkeyKV
	now func() time.Time
}

// NewAuthorizationCodeStore returns a Valkey-backed authorization code store.
func NewAuthorizationCodeStore(client valkey.Client, prefix string) *AuthorizationCodeStore {
	return &AuthorizationCodeStore{kv: newValkeyKV(client, prefix), now: time.Now}
}

// Save stores code until it expires. The plaintext code is not persisted.
func (s *AuthorizationCodeStore) Save(ctx context.Context, code models.AuthorizationCodeGrant) error {
	key := s.kv.key("authz_code", code.TenantID, tokenHash(code.Code))
	code.Code = ""
	return s.kv.setJSON(ctx, key, code, code.ExpiresAt.Sub(s.now()))
}

// Find loads the state bound to code.
func (s *AuthorizationCodeStore) Find(ctx context.Context, tenantID, code string) (models.AuthorizationCodeGrant, error) {
	var g models.AuthorizationCodeGrant
	if err := s.kv.getJSON(ctx, s.kv.key("authz_code", tenantID, tokenHash(code)), &g); err != nil {
		return models.AuthorizationCodeGrant{}, err
	}
	g.Code = code
	return g, nil
}

// Delete consumes code. Only one caller observes success.
func (s *AuthorizationCodeStore) Delete(ctx context.Context, tenantID, code string) error {
	return s.kv.del(ctx, s.kv.key("authz_code", tenantID, tokenHash(code)))
}

// AssertionReplayStore records client assertion jti values until the
// assertion expires.
type AssertionReplayStore struct {
	kv  valkeyKV
	now func() time.Time
}

// NewAssertionReplayStore returns a Valkey-backed replay store.
func NewAssertionReplayStore(client valkey.Client, prefix string) *AssertionReplayStore {
	return &AssertionReplayStore{kv: newValkeyKV(client, prefix), now: time.Now}
}

// MarkUsed records jti with SET NX and reports false when it was already seen.
func (s *AssertionReplayStore) MarkUsed(ctx context.Context, tenantID, clientID, jti string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	key := s.kv.key("assertion_jti", tenantID, clientID, tokenHash(jti))
	err := s.kv.client.Do(ctx, s.kv.client.B().Set().Key(key).Value("1").Nx().Px(ttl).Build()).Error()
	if valkey.IsValkeyNil(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
