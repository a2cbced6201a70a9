package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(t *testing.T, target string) echo.Context {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec)
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(newContext(t, "/api/v1/therapy/search?q=aspirin"))
	if p.Limit != DefaultLimit {
		t.Errorf("Limit = %d, want %d", p.Limit, DefaultLimit)
	}
	if p.Offset != 0 {
		t.Errorf("Offset = %d, want 0", p.Offset)
	}
}

func TestFromContext_Explicit(t *testing.T) {
	p := FromContext(newContext(t, "/search?q=x&limit=5&offset=10"))
	if p.Limit != 5 {
		t.Errorf("Limit = %d, want 5", p.Limit)
	}
	if p.Offset != 10 {
		t.Errorf("Offset = %d, want 10", p.Offset)
	}
}

func TestFromContext_CapsLimit(t *testing.T) {
	p := FromContext(newContext(t, "/search?limit=5000"))
	if p.Limit != MaxLimit {
		t.Errorf("Limit = %d, want %d", p.Limit, MaxLimit)
	}
}

func TestFromContext_NegativeOffset(t *testing.T) {
	p := FromContext(newContext(t, "/search?offset=-3"))
	if p.Offset != 0 {
		t.Errorf("Offset = %d, want 0", p.Offset)
	}
}

func TestParams_SQL(t *testing.T) {
	p := Params{Limit: 20, Offset: 40}
	if got := p.SQL(); got != "LIMIT 20 OFFSET 40" {
		t.Errorf("SQL() = %q", got)
	}
}

func TestResponse_HasMore(t *testing.T) {
	r := NewResponse(nil, 100, 20, 40)
	if !r.HasMore {
		t.Error("expected HasMore with 40 more rows")
	}
	r = NewResponse(nil, 50, 20, 40)
	if r.HasMore {
		t.Error("expected no more rows at end of result set")
	}
}
