package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kioskflow/api/internal/platform/requestctx"
)

func TestWriteError(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rr := httptest.NewRecorder()

	WriteError(ctx, rr, NewError("order_not_found", "order\nmissing", http.StatusNotFound).
		WithDetails(map[string]any{"orderId": "o1"}))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]any{
		"error":    "order_not_found",
		"message":  "order missing",
		"status":   float64(404),
		"trace_id": "trace-1",
		"orderId":  "o1",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected payload (-want +got):\n%s", diff)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Status string `json:"status"`
	}

	cases := map[string]struct {
		body    string
		limit   int64
		wantErr error
		fails   bool
	}{
		"valid":          {body: `{"status":"paid"}`},
		"unknown field":  {body: `{"status":"paid","x":1}`, fails: true},
		"empty":          {body: "  ", fails: true},
		"trailing":       {body: `{"status":"a"}{"status":"b"}`, fails: true},
		"too large":      {body: `{"status":"` + strings.Repeat("a", 64) + `"}`, limit: 16, wantErr: ErrBodyTooLarge, fails: true},
		"malformed json": {body: `{"status":`, fails: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dst payload
			err := DecodeJSON(req, tc.limit, &dst)
			if tc.fails != (err != nil) {
				t.Fatalf("unexpected error state: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if !tc.fails && dst.Status != "paid" {
				t.Fatalf("unexpected decode result %+v", dst)
			}
		})
	}
}
