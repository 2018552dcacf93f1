package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/keyhaven/keybridge/internal/host"
	"github.com/keyhaven/keybridge/internal/testutil/testlog"
	"github.com/keyhaven/keybridge/internal/wire"
)

func mustCall(t *testing.T, s *Service, action, params string) any {
	t.Helper()
	var raw json.RawMessage
	if params != "" {
		raw = json.RawMessage(params)
	}
	result, err := s.Call(context.Background(), action, raw)
	if err != nil {
		t.Fatalf("accounts.%s: %v", action, err)
	}
	return result
}

func faultCode(t *testing.T, err error) int {
	t.Helper()
	var f *host.Fault
	if !errors.As(err, &f) {
		t.Fatalf("expected a fault, got %v", err)
	}
	return f.Code
}

func TestCreateGetAllLifecycle(t *testing.T) {
	testlog.Start(t)
	s := NewService()

	result := mustCall(t, s, "getAll", "")
	list := result.(map[string]any)["accounts"].([]Account)
	if len(list) != 0 {
		t.Fatalf("fresh service has %d accounts", len(list))
	}

	created := mustCall(t, s, "create", `{"name":"a@example.com","url":"https://example.com"}`).(Account)
	if created.ID != 1 || created.Name != "a@example.com" {
		t.Fatalf("unexpected created account %+v", created)
	}
	second := mustCall(t, s, "create", `{"name":"b@example.com"}`).(Account)
	if second.ID != 2 {
		t.Fatalf("ids must be sequential, got %d", second.ID)
	}

	list = mustCall(t, s, "getAll", "").(map[string]any)["accounts"].([]Account)
	if len(list) != 2 || list[0].ID != 1 || list[1].ID != 2 {
		t.Fatalf("unexpected listing %+v", list)
	}

	got := mustCall(t, s, "get", `{"id":2}`).(Account)
	if got.Name != "b@example.com" {
		t.Fatalf("got wrong account %+v", got)
	}
}

func TestUpdatePatchesOnlyProvidedFields(t *testing.T) {
	testlog.Start(t)
	s := NewService()
	created := mustCall(t, s, "create", `{"name":"a@example.com","username":"alice"}`).(Account)

	updated := mustCall(t, s, "update", `{"id":1,"username":"alice2"}`).(Account)
	if updated.Username != "alice2" {
		t.Fatalf("username not updated: %+v", updated)
	}
	if updated.Name != created.Name {
		t.Fatalf("name must be untouched: %+v", updated)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) && !updated.UpdatedAt.Equal(created.UpdatedAt) {
		t.Fatalf("updatedAt went backwards: %v -> %v", created.UpdatedAt, updated.UpdatedAt)
	}
}

func TestDeleteRemovesAccount(t *testing.T) {
	testlog.Start(t)
	s := NewService()
	mustCall(t, s, "create", `{"name":"a@example.com"}`)
	mustCall(t, s, "delete", `{"id":1}`)

	_, err := s.Call(context.Background(), "get", json.RawMessage(`{"id":1}`))
	if faultCode(t, err) != wire.CodeInvalidParams {
		t.Fatalf("expected invalid-params fault, got %v", err)
	}
}

func TestValidationFaults(t *testing.T) {
	testlog.Start(t)
	s := NewService()
	cases := []struct {
		action string
		params string
	}{
		{"create", `{"name":"   "}`},
		{"create", `{not json`},
		{"create", ``},
		{"get", `{"id":99}`},
		{"update", `{"id":1,"name":""}`},
		{"delete", `{"id":99}`},
	}
	for _, tc := range cases {
		var raw json.RawMessage
		if tc.params != "" {
			raw = json.RawMessage(tc.params)
		}
		_, err := s.Call(context.Background(), tc.action, raw)
		if faultCode(t, err) != wire.CodeInvalidParams {
			t.Fatalf("accounts.%s(%s): expected invalid-params fault, got %v", tc.action, tc.params, err)
		}
	}
}

func TestUnknownAction(t *testing.T) {
	testlog.Start(t)
	s := NewService()
	_, err := s.Call(context.Background(), "explode", nil)
	if faultCode(t, err) != wire.CodeMethodNotFound {
		t.Fatalf("expected method-not-found fault, got %v", err)
	}
}
