package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/utils/cipher"
	"github.com/tidwall/buntdb"
)

// MemoryTokenStore keeps token bundles in buntdb. Bundles expire with their
// longest lived token.
type MemoryTokenStore struct {
	db    *buntdb.DB
	codec tokenCodec
	now   func() time.Time
}

// NewMemoryTokenStore opens an in-memory buntdb token store.
func NewMemoryTokenStore(protector *cipher.Protector) (*MemoryTokenStore, error) {
	return NewFileTokenStore(":memory:", protector)
}

// NewFileTokenStore opens a buntdb token store backed by filename.
func NewFileTokenStore(filename string, protector *cipher.Protector) (*MemoryTokenStore, error) {
	db, err := buntdb.Open(filename)
	if err != nil {
		return nil, err
	}
	return &MemoryTokenStore{db: db, codec: tokenCodec{protector: protector}, now: time.Now}, nil
}

// Close releases the database.
func (s *MemoryTokenStore) Close() error { return s.db.Close() }

func bundleKey(tenantID, id string) string      { return "token:" + keyPart(tenantID) + ":" + keyPart(id) }
func accessIndexKey(tenantID, h string) string  { return "access:" + keyPart(tenantID) + ":" + h }
func refreshIndexKey(tenantID, h string) string { return "refresh:" + keyPart(tenantID) + ":" + h }

// bundlePattern matches every bundle of one tenant.
func bundlePattern(tenantID string) string { return "token:" + keyPart(tenantID) + ":*" }

// Register persists a newly minted bundle.
func (s *MemoryTokenStore) Register(_ context.Context, token *models.OAuthToken) error {
	rec, err := s.codec.encode(token)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		return s.set(tx, rec)
	})
}

func (s *MemoryTokenStore) set(tx *buntdb.Tx, rec oauthTokenRecord) error {
	ttl := rec.expiresAt().Sub(s.now())
	if ttl <= 0 {
		ttl = time.Second
	}
	opts := &buntdb.SetOptions{Expires: true, TTL: ttl}
	jv, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, _, err := tx.Set(bundleKey(rec.TenantID, rec.ID), string(jv), opts); err != nil {
		return err
	}
	if _, _, err := tx.Set(accessIndexKey(rec.TenantID, rec.HashedAccessToken), rec.ID, opts); err != nil {
		return err
	}
	if rec.HashedRefreshToken != "" {
		if _, _, err := tx.Set(refreshIndexKey(rec.TenantID, rec.HashedRefreshToken), rec.ID, opts); err != nil {
			return err
		}
	}
	return nil
}

// FindByAccessToken resolves a bundle by its plaintext access token.
func (s *MemoryTokenStore) FindByAccessToken(_ context.Context, tenantID, value string) (*models.OAuthToken, error) {
	return s.find(tenantID, accessIndexKey(tenantID, s.codec.protector.Hasher.Hash(value)))
}

// FindByRefreshToken resolves a bundle by its plaintext refresh token.
func (s *MemoryTokenStore) FindByRefreshToken(_ context.Context, tenantID, value string) (*models.OAuthToken, error) {
	if value == "" {
		return nil, errors.ErrNotFound
	}
	return s.find(tenantID, refreshIndexKey(tenantID, s.codec.protector.Hasher.Hash(value)))
}

func (s *MemoryTokenStore) find(tenantID, indexKey string) (*models.OAuthToken, error) {
	var rec oauthTokenRecord
	err := s.db.View(func(tx *buntdb.Tx) error {
		id, err := tx.Get(indexKey)
		if err != nil {
			return err
		}
		jv, err := tx.Get(bundleKey(tenantID, id))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(jv), &rec)
	})
	if stderrors.Is(err, buntdb.ErrNotFound) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.codec.decode(rec)
}

// Delete removes a bundle, failing with ErrNotFound when it is already gone.
func (s *MemoryTokenStore) Delete(_ context.Context, token *models.OAuthToken) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		return s.remove(tx, token.TenantID, token.ID)
	})
}

func (s *MemoryTokenStore) remove(tx *buntdb.Tx, tenantID, id string) error {
	jv, err := tx.Delete(bundleKey(tenantID, id))
	if stderrors.Is(err, buntdb.ErrNotFound) {
		return errors.ErrNotFound
	}
	if err != nil {
		return err
	}
	var rec oauthTokenRecord
	if err := json.Unmarshal([]byte(jv), &rec); err != nil {
		return err
	}
	if _, err := tx.Delete(accessIndexKey(tenantID, rec.HashedAccessToken)); err != nil && !stderrors.Is(err, buntdb.ErrNotFound) {
		return err
	}
	if rec.HashedRefreshToken != "" {
		if _, err := tx.Delete(refreshIndexKey(tenantID, rec.HashedRefreshToken)); err != nil && !stderrors.Is(err, buntdb.ErrNotFound) {
			return err
		}
	}
	return nil
}

// Rotate replaces old with next in one buntdb transaction.
func (s *MemoryTokenStore) Rotate(_ context.Context, old, next *models.OAuthToken) error {
	rec, err := s.codec.encode(next)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		if err := s.remove(tx, old.TenantID, old.ID); err != nil {
			return err
		}
		return s.set(tx, rec)
	})
}

// DeleteByUserAndClient removes every bundle issued to clientID for userSub.
func (s *MemoryTokenStore) DeleteByUserAndClient(_ context.Context, tenantID, userSub, clientID string) (int64, error) {
	var n int64
	err := s.db.Update(func(tx *buntdb.Tx) error {
		var ids []string
		err := tx.AscendKeys(bundlePattern(tenantID), func(_, jv string) bool {
			var rec oauthTokenRecord
			if json.Unmarshal([]byte(jv), &rec) != nil {
				return true
			}
			if rec.TenantID == tenantID && rec.UserID == userSub && rec.ClientID == clientID {
				ids = append(ids, rec.ID)
			}
			return true
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := s.remove(tx, tenantID, id); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}
