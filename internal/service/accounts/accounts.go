// Package accounts serves the accounts.* method namespace: CRUD over saved
// login records held in memory behind a mutex.
package accounts

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/keyhaven/keybridge/internal/host"
)

// Account is one saved login record.
type Account struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url,omitempty"`
	Username  string    `json:"username,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Service struct {
	mu       sync.RWMutex
	nextID   uint64
	accounts map[uint64]Account
}

func NewService() *Service {
	return &Service{accounts: make(map[uint64]Account)}
}

type createParams struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Username string `json:"username"`
	Notes    string `json:"notes"`
}

type updateParams struct {
	ID       uint64  `json:"id"`
	Name     *string `json:"name"`
	URL      *string `json:"url"`
	Username *string `json:"username"`
	Notes    *string `json:"notes"`
}

type idParams struct {
	ID uint64 `json:"id"`
}

func (s *Service) Call(ctx context.Context, action string, params json.RawMessage) (any, error) {
	switch action {
	case "getAll":
		return s.getAll(), nil
	case "get":
		return s.get(params)
	case "create":
		return s.create(params)
	case "update":
		return s.update(params)
	case "delete":
		return s.delete(params)
	default:
		return nil, host.MethodNotFound("accounts." + action)
	}
}

func (s *Service) getAll() any {
	s.mu.RLock()
	list := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		list = append(list, a)
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return map[string]any{"accounts": list}
}

func (s *Service) get(params json.RawMessage) (any, error) {
	var p idParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	s.mu.RLock()
	account, ok := s.accounts[p.ID]
	s.mu.RUnlock()
	if !ok {
		return nil, host.InvalidParams("no account with id %d", p.ID)
	}
	return account, nil
}

func (s *Service) create(params json.RawMessage) (any, error) {
	var p createParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, host.InvalidParams("account name is required")
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.nextID++
	account := Account{
		ID:        s.nextID,
		Name:      strings.TrimSpace(p.Name),
		URL:       strings.TrimSpace(p.URL),
		Username:  strings.TrimSpace(p.Username),
		Notes:     p.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.accounts[account.ID] = account
	s.mu.Unlock()
	return account, nil
}

func (s *Service) update(params json.RawMessage) (any, error) {
	var p updateParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return nil, host.InvalidParams("account name cannot be emptied")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[p.ID]
	if !ok {
		return nil, host.InvalidParams("no account with id %d", p.ID)
	}
	if p.Name != nil {
		account.Name = strings.TrimSpace(*p.Name)
	}
	if p.URL != nil {
		account.URL = strings.TrimSpace(*p.URL)
	}
	if p.Username != nil {
		account.Username = strings.TrimSpace(*p.Username)
	}
	if p.Notes != nil {
		account.Notes = *p.Notes
	}
	account.UpdatedAt = time.Now().UTC()
	s.accounts[account.ID] = account
	return account, nil
}

func (s *Service) delete(params json.RawMessage) (any, error) {
	var p idParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[p.ID]; !ok {
		return nil, host.InvalidParams("no account with id %d", p.ID)
	}
	delete(s.accounts, p.ID)
	return map[string]any{"deleted": p.ID}, nil
}

func decode(params json.RawMessage, into any) error {
	if len(params) == 0 {
		return host.InvalidParams("params are required")
	}
	if err := json.Unmarshal(params, into); err != nil {
		return host.InvalidParams("malformed params: %v", err)
	}
	return nil
}
