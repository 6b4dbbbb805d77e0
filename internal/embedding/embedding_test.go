package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeUnitLength(t *testing.T) {
	vec := Normalize([]float32{3, 4})
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Errorf("expected unit length, got squared norm %f", sum)
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	vec := Normalize([]float32{0, 0, 0})
	for _, v := range vec {
		if v != 0 {
			t.Fatal("zero vector should stay zero")
		}
	}
}

func TestLocalClientDeterministic(t *testing.T) {
	c := NewLocalClient(Config{Dimension: 64})
	ctx := context.Background()

	a, err := c.Embed(ctx, []string{"keyword research for saas"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := c.Embed(ctx, []string{"keyword research for saas"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(a[0]) != 64 {
		t.Fatalf("expected dimension 64, got %d", len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatal("same text must embed identically")
		}
	}
}

func TestLocalClientDistinguishesTexts(t *testing.T) {
	c := NewLocalClient(Config{Dimension: 64})
	vecs, err := c.Embed(context.Background(), []string{"backlink outreach", "technical site audit"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	same := true
	for i := range vecs[0] {
		if vecs[0][i] != vecs[1][i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts should not produce identical vectors")
	}
}

func TestAPIClientEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing auth header, got %q", got)
		}
		var req apiRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := apiResponse{}
		for range req.Input {
			resp.Data = append(resp.Data, apiEmbeddingData{Embedding: []float32{0.1, 0.2, 0.3}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewAPIClient(Config{Endpoint: srv.URL, Model: "embed-small", APIKey: "test-key", Dimension: 8})
	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 3 {
		t.Fatalf("unexpected shape: %d vectors", len(vecs))
	}
	if c.Dimension() != 3 {
		t.Errorf("dimension should follow first observed vector, got %d", c.Dimension())
	}
}

func TestAPIClientCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiResponse{Data: []apiEmbeddingData{{Embedding: []float32{1}}}})
	}))
	defer srv.Close()

	c := NewAPIClient(Config{Endpoint: srv.URL})
	if _, err := c.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Error("expected error on vector count mismatch")
	}
}

func TestAPIClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewAPIClient(Config{Endpoint: srv.URL})
	if _, err := c.Embed(context.Background(), []string{"a"}); err == nil {
		t.Error("expected error on 503")
	}
}
