// Package cards serves the cards.* method namespace. Card data is stored as
// the caller supplies it; this service never generates card numbers.
package cards

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/keyhaven/keybridge/internal/host"
)

// Card is one stored payment card record.
type Card struct {
	ID        uint64    `json:"id"`
	Holder    string    `json:"holder"`
	Brand     string    `json:"brand,omitempty"`
	Number    string    `json:"number"`
	ExpMonth  int       `json:"expMonth"`
	ExpYear   int       `json:"expYear"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	mu     sync.RWMutex
	nextID uint64
	cards  map[uint64]Card
}

func NewService() *Service {
	return &Service{cards: make(map[uint64]Card)}
}

type createParams struct {
	Holder   string `json:"holder"`
	Brand    string `json:"brand"`
	Number   string `json:"number"`
	ExpMonth int    `json:"expMonth"`
	ExpYear  int    `json:"expYear"`
}

func (s *Service) Call(ctx context.Context, action string, params json.RawMessage) (any, error) {
	switch action {
	case "getAll":
		return s.getAll(), nil
	case "create":
		return s.create(params)
	case "delete":
		return s.delete(params)
	default:
		return nil, host.MethodNotFound("cards." + action)
	}
}

func (s *Service) getAll() any {
	s.mu.RLock()
	list := make([]Card, 0, len(s.cards))
	for _, c := range s.cards {
		list = append(list, c)
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return map[string]any{"cards": list}
}

func (s *Service) create(params json.RawMessage) (any, error) {
	var p createParams
	if len(params) == 0 {
		return nil, host.InvalidParams("params are required")
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, host.InvalidParams("malformed params: %v", err)
	}
	if strings.TrimSpace(p.Holder) == "" {
		return nil, host.InvalidParams("card holder is required")
	}
	if strings.TrimSpace(p.Number) == "" {
		return nil, host.InvalidParams("card number is required")
	}
	if p.ExpMonth < 1 || p.ExpMonth > 12 {
		return nil, host.InvalidParams("expMonth must be 1..12, got %d", p.ExpMonth)
	}

	s.mu.Lock()
	s.nextID++
	card := Card{
		ID:        s.nextID,
		Holder:    strings.TrimSpace(p.Holder),
		Brand:     strings.TrimSpace(p.Brand),
		Number:    strings.TrimSpace(p.Number),
		ExpMonth:  p.ExpMonth,
		ExpYear:   p.ExpYear,
		CreatedAt: time.Now().UTC(),
	}
	s.cards[card.ID] = card
	s.mu.Unlock()
	return card, nil
}

func (s *Service) delete(params json.RawMessage) (any, error) {
	var p struct {
		ID uint64 `json:"id"`
	}
	if len(params) == 0 {
		return nil, host.InvalidParams("params are required")
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, host.InvalidParams("malformed params: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[p.ID]; !ok {
		return nil, host.InvalidParams("no card with id %d", p.ID)
	}
	delete(s.cards, p.ID)
	return map[string]any{"deleted": p.ID}, nil
}
