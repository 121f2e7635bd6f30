package ratelimit

import "testing"

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/api/alerts", "/api/alerts"},
		{"/api/alerts/", "/api/alerts"},
		{"/api/alerts/3f2504e0-4f89-41d3-9a0c-0305e82c3301/approve", "/api/alerts/*/approve"},
		{"/api/alerts/42/cancel?force=1", "/api/alerts/*/cancel"},
		{"/api/alerts/0123456789abcdef0123", "/api/alerts/*"},
		{"/api/alerts/map", "/api/alerts/map"},
		{"", "/"},
	}

	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPolicy_Limit(t *testing.T) {
	p := NewPolicy([]Rule{
		{Operation: OperationCreate, Role: "operator", Limit: 10},
		{Operation: OperationCreate, Role: "*", Limit: 5},
		{Operation: OperationDecide, Role: "Approver", Limit: 30},
	}, 60, nil, nil)

	tests := []struct {
		op, role string
		want     int
	}{
		{OperationCreate, "operator", 10},
		{OperationCreate, "viewer", 5},
		{OperationDecide, "approver", 30},
		{OperationDecide, "operator", 60},
		{OperationDefault, "operator", 60},
	}
	for _, tt := range tests {
		if got := p.Limit(tt.op, tt.role); got != tt.want {
			t.Errorf("Limit(%q, %q) = %d, want %d", tt.op, tt.role, got, tt.want)
		}
	}
}

func TestPolicy_Operation(t *testing.T) {
	p := NewPolicy(nil, 60, nil, nil)

	if op := p.Operation("post", "/api/alerts/*/reject"); op != OperationDecide {
		t.Errorf("expected decide, got %q", op)
	}
	if op := p.Operation("GET", "/api/alerts"); op != OperationDefault {
		t.Errorf("expected default for reads, got %q", op)
	}
}

func TestPolicy_Bypass(t *testing.T) {
	p := NewPolicy(nil, 60, []string{"svc-scheduler"}, []string{"/health", "/ready"})

	if !p.Bypass("anyone", "/health") {
		t.Error("expected /health to bypass")
	}
	if !p.Bypass("anyone", "/ready/") {
		t.Error("expected /ready/ to bypass")
	}
	if !p.Bypass("svc-scheduler", "/api/alerts") {
		t.Error("expected trusted principal to bypass")
	}
	if p.Bypass("anyone", "/api/alerts") {
		t.Error("expected regular request to be limited")
	}
	if p.Bypass("anyone", "/healthz") {
		t.Error("prefix match must respect segment boundaries")
	}
}
