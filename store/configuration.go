package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
)

// TenantFile is one tenant in a configuration file.
type TenantFile struct {
	Server  models.ServerConfiguration   `koanf:"server"`
	Clients []models.ClientConfiguration `koanf:"clients"`
	Users   []models.User                `koanf:"users"`
}

// ConfigurationFile is the layout of the tenants file.
type ConfigurationFile struct {
	Tenants []TenantFile `koanf:"tenants"`
}

// LoadConfigurationFile reads tenants, clients and users from a YAML file.
func LoadConfigurationFile(path string) (ConfigurationFile, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return ConfigurationFile{}, fmt.Errorf("load %s: %w", path, err)
	}
	var out ConfigurationFile
	if err := k.Unmarshal("", &out); err != nil {
		return ConfigurationFile{}, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return out, nil
}

// MemoryConfigurationStore holds server and client configuration in memory.
type MemoryConfigurationStore struct {
	sync.RWMutex
	servers map[string]models.ServerConfiguration
	clients map[string]map[string]models.ClientConfiguration
}

// NewMemoryConfigurationStore returns an empty configuration store.
func NewMemoryConfigurationStore() *MemoryConfigurationStore {
	return &MemoryConfigurationStore{
		servers: make(map[string]models.ServerConfiguration),
		clients: make(map[string]map[string]models.ClientConfiguration),
	}
}

// Load registers every tenant and client of f, and every user into users
// when users is not nil.
func (s *MemoryConfigurationStore) Load(f ConfigurationFile, users *MemoryUserStore) error {
	for _, t := range f.Tenants {
		if err := s.PutServer(t.Server); err != nil {
			return err
		}
		for _, c := range t.Clients {
			if c.TenantID == "" {
				c.TenantID = t.Server.TenantID
			}
			if err := s.PutClient(c); err != nil {
				return err
			}
		}
		if users != nil {
			for _, u := range t.Users {
				users.Put(t.Server.TenantID, u)
			}
		}
	}
	return nil
}

// PutServer registers or replaces a tenant.
func (s *MemoryConfigurationStore) PutServer(c models.ServerConfiguration) error {
	if c.TenantID == "" {
		return errors.New("tenant_id is required")
	}
	s.Lock()
	defer s.Unlock()
	s.servers[c.TenantID] = c.WithDefaults()
	return nil
}

// PutClient registers or replaces a client of a known tenant.
func (s *MemoryConfigurationStore) PutClient(c models.ClientConfiguration) error {
	if c.ClientID == "" {
		return errors.New("client_id is required")
	}
	s.Lock()
	defer s.Unlock()
	if _, ok := s.servers[c.TenantID]; !ok {
		return fmt.Errorf("client %s: unknown tenant %q", c.ClientID, c.TenantID)
	}
	if s.clients[c.TenantID] == nil {
		s.clients[c.TenantID] = make(map[string]models.ClientConfiguration)
	}
	s.clients[c.TenantID][c.ClientID] = c
	return nil
}

// Server returns the configuration of tenantID.
func (s *MemoryConfigurationStore) Server(_ context.Context, tenantID string) (models.ServerConfiguration, error) {
	s.RLock()
	defer s.RUnlock()
	c, ok := s.servers[tenantID]
	if !ok {
		return models.ServerConfiguration{}, errors.ErrNotFound
	}
	return c, nil
}

// Client returns the registration of clientID within tenantID.
func (s *MemoryConfigurationStore) Client(_ context.Context, tenantID, clientID string) (models.ClientConfiguration, error) {
	s.RLock()
	defer s.RUnlock()
	c, ok := s.clients[tenantID][clientID]
	if !ok {
		return models.ClientConfiguration{}, errors.ErrNotFound
	}
	return c, nil
}
