package store

import (
	"context"
	"strings"
	"sync"

	"github.com/legit-games/oauth2/models"
	"golang.org/x/crypto/bcrypt"
)

// MemoryUserStore resolves end-users for grants. Lookups that find nothing
// return the zero User and a nil error.
type MemoryUserStore struct {
	sync.RWMutex
	users map[string]map[string]models.User
}

// NewMemoryUserStore returns an empty user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]map[string]models.User)}
}

// Put registers or replaces a user of tenantID.
func (s *MemoryUserStore) Put(tenantID string, u models.User) {
	s.Lock()
	defer s.Unlock()
	if s.users[tenantID] == nil {
		s.users[tenantID] = make(map[string]models.User)
	}
	s.users[tenantID][u.Sub] = u
}

// HashPassword returns the bcrypt hash stored in User.PasswordHash.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FindBySub resolves a user by subject.
func (s *MemoryUserStore) FindBySub(_ context.Context, tenantID, sub string) (models.User, error) {
	s.RLock()
	defer s.RUnlock()
	return s.users[tenantID][sub], nil
}

// FindByPassword resolves a user by username, email or phone number and
// verifies the password.
func (s *MemoryUserStore) FindByPassword(_ context.Context, tenantID, username, password string) (models.User, error) {
	u := s.match(tenantID, func(u models.User) bool {
		return username != "" && (u.PreferredUsername == username || strings.EqualFold(u.Email, username) || u.PhoneNumber == username)
	})
	if !u.Exists() || u.PasswordHash == "" {
		return models.User{}, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return models.User{}, nil
	}
	return u, nil
}

// FindByLoginHint resolves a CIBA login_hint. The hint may carry a sub:,
// email: or phone: prefix; without one it matches username, email or phone.
func (s *MemoryUserStore) FindByLoginHint(ctx context.Context, tenantID, hint string) (models.User, error) {
	kind, value := "", hint
	if i := strings.Index(hint, ":"); i > 0 {
		switch p := hint[:i]; p {
		case "sub", "email", "phone":
			kind, value = p, hint[i+1:]
		}
	}
	if value == "" {
		return models.User{}, nil
	}
	switch kind {
	case "sub":
		return s.FindBySub(ctx, tenantID, value)
	case "email":
		return s.match(tenantID, func(u models.User) bool { return strings.EqualFold(u.Email, value) }), nil
	case "phone":
		return s.match(tenantID, func(u models.User) bool { return u.PhoneNumber == value }), nil
	}
	return s.match(tenantID, func(u models.User) bool {
		return u.PreferredUsername == value || strings.EqualFold(u.Email, value) || u.PhoneNumber == value
	}), nil
}

func (s *MemoryUserStore) match(tenantID string, fn func(models.User) bool) models.User {
	s.RLock()
	defer s.RUnlock()
	for _, u := range s.users[tenantID] {
		if fn(u) {
			return u
		}
	}
	return models.User{}
}
