package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/hexalog/xarchive/engine/domain"
	"github.com/hexalog/xarchive/engine/store"
)

type mockSearchStore struct {
	matches    []store.Match
	posts      []*domain.Post
	threshold  float64
	count      int
	err        error
}

func (m *mockSearchStore) SearchPosts(_ context.Context, _ []float32, threshold float64, count int) ([]store.Match, error) {
	m.threshold = threshold
	m.count = count
	return m.matches, m.err
}

func (m *mockSearchStore) GetRecentPosts(_ context.Context, limit int) ([]*domain.Post, error) {
	m.count = limit
	return m.posts, m.err
}

type mockEmbedder struct{ err error }

func (m *mockEmbedder) GenerateForQuery(context.Context, string) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	return make([]float32, domain.EmbeddingDimension), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	handleHealth(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestHandleSearch(t *testing.T) {
	db := &mockSearchStore{matches: []store.Match{{ID: "1", AuthorHandle: "alice", Similarity: 0.91}}}
	h := handleSearch(db, &mockEmbedder{}, testLogger())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/api/search?q=concurrency&k=5", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp SearchResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Query != "concurrency" || len(resp.Results) != 1 || resp.Results[0].ID != "1" {
		t.Errorf("resp = %+v", resp)
	}
	if db.count != 5 {
		t.Errorf("k not forwarded: %d", db.count)
	}
	if db.threshold != store.DefaultMatchThreshold {
		t.Errorf("threshold = %v", db.threshold)
	}
}

func TestHandleSearch_MissingQuery(t *testing.T) {
	h := handleSearch(&mockSearchStore{}, &mockEmbedder{}, testLogger())
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/api/search", nil))
	if rec.Code != 400 {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHandleSearch_EmbedFailure(t *testing.T) {
	h := handleSearch(&mockSearchStore{}, &mockEmbedder{err: errors.New("down")}, testLogger())
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/api/search?q=x", nil))
	if rec.Code != 500 {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHandleSearch_EmptyResultsNotNull(t *testing.T) {
	h := handleSearch(&mockSearchStore{}, &mockEmbedder{}, testLogger())
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/api/search?q=x", nil))

	var resp struct {
		Results json.RawMessage `json:"results"`
	}
	json.NewDecoder(rec.Body).Decode(&resp)
	if string(resp.Results) != "[]" {
		t.Errorf("results = %s, want []", resp.Results)
	}
}

func TestHandleRecent(t *testing.T) {
	db := &mockSearchStore{posts: []*domain.Post{{ID: "1", AuthorHandle: "alice"}}}
	h := handleRecent(db, testLogger())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/api/recent?limit=3", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp RecentResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Posts) != 1 || resp.Posts[0].ID != "1" {
		t.Errorf("resp = %+v", resp)
	}
	if db.count != 3 {
		t.Errorf("limit not forwarded: %d", db.count)
	}
}

func TestParamParsing(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/search?k=abc&threshold=2.5", nil)
	if got := intParam(r, "k", 10); got != 10 {
		t.Errorf("bad int accepted: %d", got)
	}
	if got := floatParam(r, "threshold", 0.7); got != 0.7 {
		t.Errorf("out-of-range threshold accepted: %v", got)
	}
	r = httptest.NewRequest("GET", "/api/search?k=25&threshold=0.4", nil)
	if got := intParam(r, "k", 10); got != 25 {
		t.Errorf("k = %d", got)
	}
	if got := floatParam(r, "threshold", 0.7); got != 0.4 {
		t.Errorf("threshold = %v", got)
	}
}
