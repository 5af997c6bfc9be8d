package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("STORE_BACKEND", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StoreBackend != "badger" || cfg.IndexBackend != "local" || cfg.LLMProvider != "local" {
		t.Fatalf("unexpected backends %q/%q/%q", cfg.StoreBackend, cfg.IndexBackend, cfg.LLMProvider)
	}
	if cfg.ChunkSize != 900 || cfg.ChunkOverlapFraction != 0.15 || cfg.RAGTopK != 5 {
		t.Fatalf("unexpected chunking defaults %+v", cfg)
	}
	if cfg.JobMaxAttempts != 5 || cfg.JobVisibilityTimeout != 300*time.Second {
		t.Fatalf("unexpected queue defaults %+v", cfg)
	}
	if cfg.DependencyRetryAttempts != 3 || cfg.DependencyRetryBackoff != 100*time.Millisecond || cfg.BreakerOpenTimeout != 30*time.Second {
		t.Fatalf("unexpected dependency defaults %+v", cfg)
	}
}

func TestLoadOverlayFileBelowEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docintel.yaml")
	overlay := "CHUNK_SIZE: 400\nrag_top_k: 8\nchunk_overlap_fraction: 0.25\nEMBEDDED_WORKERS: true\n"
	if err := os.WriteFile(path, []byte(overlay), 0o644); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CHUNK_SIZE", "1200")
	t.Setenv("RAG_TOP_K", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ChunkSize != 1200 {
		t.Fatalf("environment must win over the overlay, got %d", cfg.ChunkSize)
	}
	if cfg.RAGTopK != 8 || cfg.ChunkOverlapFraction != 0.25 || !cfg.EmbeddedWorkers {
		t.Fatalf("overlay values not applied: %+v", cfg)
	}
}

func TestLoadRejectsUnsupportedCombinations(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_BACKEND", "badger")
	t.Setenv("INDEX_BACKEND", "pgvector")
	t.Setenv("LLM_PROVIDER", "gemini")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"requires STORE_BACKEND=postgres", "LLM_PROVIDER"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestLoadMissingOverlayFails(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing overlay file")
	}
}

func TestInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("WORKER_COUNT", "many")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WorkerCount != 4 {
		t.Fatalf("expected fallback worker count, got %d", cfg.WorkerCount)
	}
}
