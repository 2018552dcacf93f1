package cards

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/keyhaven/keybridge/internal/host"
	"github.com/keyhaven/keybridge/internal/testutil/testlog"
	"github.com/keyhaven/keybridge/internal/wire"
)

func TestCardLifecycle(t *testing.T) {
	testlog.Start(t)
	s := NewService()

	result, err := s.Call(context.Background(), "create", json.RawMessage(
		`{"holder":"Alice","brand":"visa","number":"4111111111111111","expMonth":4,"expYear":2028}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	card := result.(Card)
	if card.ID != 1 || card.Number != "4111111111111111" {
		t.Fatalf("unexpected card %+v", card)
	}

	result, err = s.Call(context.Background(), "getAll", nil)
	if err != nil {
		t.Fatalf("getAll: %v", err)
	}
	list := result.(map[string]any)["cards"].([]Card)
	if len(list) != 1 || list[0].Holder != "Alice" {
		t.Fatalf("unexpected listing %+v", list)
	}

	if _, err := s.Call(context.Background(), "delete", json.RawMessage(`{"id":1}`)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	result, _ = s.Call(context.Background(), "getAll", nil)
	if list := result.(map[string]any)["cards"].([]Card); len(list) != 0 {
		t.Fatalf("card survived delete: %+v", list)
	}
}

func TestCardValidation(t *testing.T) {
	testlog.Start(t)
	s := NewService()
	cases := []string{
		`{"holder":"","number":"4111","expMonth":4}`,
		`{"holder":"Alice","number":"","expMonth":4}`,
		`{"holder":"Alice","number":"4111","expMonth":13}`,
		`{broken`,
	}
	for _, params := range cases {
		_, err := s.Call(context.Background(), "create", json.RawMessage(params))
		var f *host.Fault
		if !errors.As(err, &f) || f.Code != wire.CodeInvalidParams {
			t.Fatalf("create(%s): expected invalid-params fault, got %v", params, err)
		}
	}
}
