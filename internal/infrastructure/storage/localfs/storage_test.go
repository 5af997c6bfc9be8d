package localfs

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

func TestSaveOpenExistsDelete(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	key := "extracted/doc-1/1.txt"

	if ok, err := s.Exists(ctx, key); err != nil || ok {
		t.Fatalf("Exists() = %v, %v before save", ok, err)
	}
	if err := s.Save(ctx, key, strings.NewReader("hello")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, key, strings.NewReader("hello again")); err != nil {
		t.Fatalf("overwrite Save() error = %v", err)
	}
	if ok, _ := s.Exists(ctx, key); !ok {
		t.Fatalf("expected key to exist")
	}

	rc, err := s.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "hello again" {
		t.Fatalf("body = %q", body)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if ok, _ := s.Exists(ctx, key); ok {
		t.Fatalf("expected key to be gone")
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, key := range []string{"", "../outside.txt", "/etc/passwd", "a/../../b"} {
		err := s.Save(context.Background(), key, strings.NewReader("x"))
		if !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("key %q: expected invalid input, got %v", key, err)
		}
	}
}
