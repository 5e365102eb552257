package service

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
)

type orderInput struct {
	OrderID string  `json:"order_id" validate:"required"`
	Total   float64 `json:"total" validate:"gte=0"`
}

type orderReceipt struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func processOrder(_ context.Context, executionID string, in orderInput) (orderReceipt, error) {
	if in.OrderID == "explode" {
		return orderReceipt{}, errors.New("inventory service unavailable")
	}
	return orderReceipt{OrderID: in.OrderID, Status: "completed by " + executionID}, nil
}

type fakeMarker struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (m *fakeMarker) MarkRunning(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, executionID)
	return m.err
}

func (m *fakeMarker) marked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...)
}

func newTestHandler(t *testing.T, marker *fakeMarker) *Handler {
	t.Helper()
	reg := NewRegistry()
	orders := reg.Service("orders")
	if err := Register(orders, "process_order", processOrder, WithRetention(30)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := Register(reg.Service("users"), "count_users", func(context.Context, string, any) (int, error) {
		return 3, nil
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return NewHandler(reg, WithMarker(marker))
}

func post(t *testing.T, h http.Handler, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v: %s", err, rec.Body.String())
	}
	return rec.Code, out
}

func TestExecute(t *testing.T) {
	marker := &fakeMarker{}
	h := newTestHandler(t, marker)

	code, out := post(t, h, "/execute/orders/process_order", `{"execution_id":"exec-1","input":{"order_id":"o-1","total":12.5}}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%v)", code, http.StatusOK, out)
	}
	want := map[string]any{"order_id": "o-1", "status": "completed by exec-1"}
	if !reflect.DeepEqual(out["output"], want) {
		t.Errorf("output = %v, want %v", out["output"], want)
	}
	if got := marker.marked(); !reflect.DeepEqual(got, []string{"exec-1"}) {
		t.Errorf("marked = %v, want [exec-1]", got)
	}
}

func TestExecuteErrors(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		body      string
		wantCode  int
		wantError string
		wantRun   bool
	}{
		{
			name:      "unknown workflow",
			path:      "/execute/orders/ship_order",
			body:      `{"execution_id":"exec-1","input":{}}`,
			wantCode:  http.StatusNotFound,
			wantError: "Workflow not found",
		},
		{
			name:      "malformed body",
			path:      "/execute/orders/process_order",
			body:      `{"execution_id":`,
			wantCode:  http.StatusBadRequest,
			wantError: "Validation error",
		},
		{
			name:      "missing execution id",
			path:      "/execute/orders/process_order",
			body:      `{"input":{"order_id":"o-1"}}`,
			wantCode:  http.StatusBadRequest,
			wantError: "Validation error",
		},
		{
			name:      "missing input",
			path:      "/execute/orders/process_order",
			body:      `{"execution_id":"exec-1"}`,
			wantCode:  http.StatusBadRequest,
			wantError: "Validation error",
		},
		{
			name:      "input fails validation",
			path:      "/execute/orders/process_order",
			body:      `{"execution_id":"exec-1","input":{"total":-1}}`,
			wantCode:  http.StatusBadRequest,
			wantError: "Validation error",
			wantRun:   true,
		},
		{
			name:      "workflow fails",
			path:      "/execute/orders/process_order",
			body:      `{"execution_id":"exec-1","input":{"order_id":"explode"}}`,
			wantCode:  http.StatusInternalServerError,
			wantError: "Internal server error",
			wantRun:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			marker := &fakeMarker{}
			code, out := post(t, newTestHandler(t, marker), tt.path, tt.body)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%v)", code, tt.wantCode, out)
			}
			output, ok := out["output"].(map[string]any)
			if !ok || output["error"] != tt.wantError {
				t.Errorf("output = %v, want error %q", out["output"], tt.wantError)
			}
			if ran := len(marker.marked()) > 0; ran != tt.wantRun {
				t.Errorf("marked running = %v, want %v", ran, tt.wantRun)
			}
		})
	}
}

func TestExecuteMarkRunningFailure(t *testing.T) {
	marker := &fakeMarker{err: errors.New("engine unavailable")}
	code, out := post(t, newTestHandler(t, marker), "/execute/users/count_users", `{"execution_id":"exec-2","input":{}}`)
	if code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", code, http.StatusInternalServerError)
	}
	output, _ := out["output"].(map[string]any)
	if details, _ := output["details"].(string); !strings.Contains(details, "engine unavailable") {
		t.Errorf("details = %v, want engine error", output["details"])
	}
}

func TestExecuteRejectsGet(t *testing.T) {
	h := newTestHandler(t, &fakeMarker{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/execute/orders/process_order", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestDiscover(t *testing.T) {
	h := newTestHandler(t, &fakeMarker{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/discover", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var got struct {
		Services []ServiceInfo `json:"services"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid discover response: %v", err)
	}
	want := []ServiceInfo{
		{Name: "orders", Workflows: []WorkflowInfo{{
			Name: "process_order", Input: "service.orderInput", Output: "service.orderReceipt", Retention: 30,
		}}},
		{Name: "users", Workflows: []WorkflowInfo{{
			Name: "count_users", Input: "interface {}", Output: "int", Retention: DefaultRetention,
		}}},
	}
	if !reflect.DeepEqual(got.Services, want) {
		t.Errorf("services = %+v, want %+v", got.Services, want)
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry()
	orders := reg.Service("orders")

	tests := []struct {
		name    string
		svc     *Service
		wf      string
		opts    []WorkflowOption
		wantErr error
	}{
		{name: "zero retention", svc: orders, wf: "a", opts: []WorkflowOption{WithRetention(0)}},
		{name: "max retention", svc: orders, wf: "b", opts: []WorkflowOption{WithRetention(MaxRetention)}},
		{name: "negative retention", svc: orders, wf: "c", opts: []WorkflowOption{WithRetention(-1)}, wantErr: ErrInvalidWorkflow},
		{name: "retention above max", svc: orders, wf: "d", opts: []WorkflowOption{WithRetention(31)}, wantErr: ErrInvalidWorkflow},
		{name: "empty workflow name", svc: orders, wf: "", wantErr: ErrInvalidWorkflow},
		{name: "empty service name", svc: reg.Service(""), wf: "e", wantErr: ErrInvalidWorkflow},
		{name: "duplicate", svc: orders, wf: "a", wantErr: ErrDuplicateWorkflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Register(tt.svc, tt.wf, processOrder, tt.opts...)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Register() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Register() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, ok := reg.Lookup("orders", "c"); ok {
		t.Error("rejected workflow was hosted")
	}
	if got := len(reg.Services()); got != 1 {
		t.Errorf("services = %d, want 1", got)
	}
}
