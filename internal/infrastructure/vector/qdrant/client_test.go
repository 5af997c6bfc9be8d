package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

func TestUpsertEnsuresCollectionOncePerVectorSize(t *testing.T) {
	var ensureCalls int32
	var pointIDs []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs":
			atomic.AddInt32(&ensureCalls, 1)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs/points":
			var body struct {
				Points []point `json:"points"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			for _, p := range body.Points {
				pointIDs = append(pointIDs, p.ID)
			}
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "docs", nil)
	chunks := domain.BuildChunks("doc-1", []string{"a", "b"}, [][]float32{{0.1, 0.2}, {0.3, 0.4}})

	if err := client.Upsert(context.Background(), "doc-1", chunks); err != nil {
		t.Fatalf("first Upsert() error = %v", err)
	}
	if err := client.Upsert(context.Background(), "doc-1", chunks); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	if got := atomic.LoadInt32(&ensureCalls); got != 1 {
		t.Fatalf("expected ensure collection called once, got %d", got)
	}
	if len(pointIDs) != 4 || pointIDs[0] != pointIDs[2] || pointIDs[0] == pointIDs[1] {
		t.Fatalf("point ids must be stable per chunk: %v", pointIDs)
	}
}

func TestEnsureCollectionIncludesResponseBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/collections/docs" {
			http.Error(w, "boom", http.StatusBadRequest)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := New(server.URL, "docs", nil)
	err := client.Upsert(context.Background(), "doc-1", domain.BuildChunks("doc-1", []string{"a"}, [][]float32{{0.1, 0.2}}))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected error to include body, got %v", err)
	}
}

func TestSearchFiltersByDocument(t *testing.T) {
	var filterValue string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/docs/points/search" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Filter struct {
				Must []struct {
					Match struct {
						Value string `json:"value"`
					} `json:"match"`
				} `json:"must"`
			} `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Filter.Must) == 1 {
			filterValue = body.Filter.Must[0].Match.Value
		}
		_, _ = w.Write([]byte(`{"result":[
			{"score":0.5,"payload":{"doc_id":"doc-1","chunk_id":"doc-1:3","text":"later"}},
			{"score":0.9,"payload":{"doc_id":"doc-1","chunk_id":"doc-1:1","text":"best"}}
		]}`))
	}))
	defer server.Close()

	hits, err := New(server.URL, "docs", nil).Search(context.Background(), "doc-1", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if filterValue != "doc-1" {
		t.Fatalf("filter value = %q", filterValue)
	}
	if len(hits) != 2 || hits[0].Chunk.ID != "doc-1:1" || hits[0].Chunk.SequenceIndex != 1 {
		t.Fatalf("unexpected hits %+v", hits)
	}
}

func TestDeleteDocumentIgnoresMissingCollection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	if err := New(server.URL, "docs", nil).DeleteDocument(context.Background(), "doc-1"); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
}

func TestServerErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL, "docs", nil).Search(context.Background(), "doc-1", []float32{1}, 1)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}
