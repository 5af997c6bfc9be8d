package usecase

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
	"github.com/kirillkom/doc-intelligence/internal/core/ports"
)

type IngestDocumentUseCase struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	queue   ports.JobQueue
	now     func() time.Time
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.JobQueue,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Upload stores every file under its content hash, records a queued document and enqueues extraction.
func (uc *IngestDocumentUseCase) Upload(ctx context.Context, files []ports.UploadFile, tags []string) (*domain.Document, error) {
	if len(files) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", errors.New("at least one file is required"))
	}

	sources := make([]domain.SourceFile, 0, len(files))
	for i, f := range files {
		src, err := uc.storeFile(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("store file %d: %w", i, err)
		}
		sources = append(sources, src)
	}

	now := uc.now()
	doc := &domain.Document{
		ID:          uuid.NewString(),
		State:       domain.StateQueued,
		Revision:    1,
		Tags:        domain.NormalizeTags(tags),
		SourceFiles: sources,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	job, err := domain.NewExtractJob(doc)
	if err != nil {
		return nil, err
	}
	if _, err := uc.queue.Enqueue(ctx, job); err != nil {
		if rbErr := uc.repo.Delete(ctx, doc.ID, domain.StateQueued); rbErr != nil {
			slog.Default().Error("upload_rollback_failed", "document_id", doc.ID, "error", rbErr.Error())
		}
		return nil, fmt.Errorf("enqueue extract job: %w", err)
	}

	return doc, nil
}

func (uc *IngestDocumentUseCase) storeFile(ctx context.Context, f ports.UploadFile) (domain.SourceFile, error) {
	if f.Body == nil {
		return domain.SourceFile{}, domain.WrapError(domain.ErrInvalidInput, "store file", errors.New("file body is required"))
	}
	raw, err := io.ReadAll(f.Body)
	if err != nil {
		return domain.SourceFile{}, domain.WrapError(domain.ErrTransientIO, "read upload", err)
	}
	if len(raw) == 0 {
		return domain.SourceFile{}, domain.WrapError(domain.ErrInvalidInput, "store file", fmt.Errorf("file %q is empty", f.Filename))
	}

	hash, err := contentHash(raw)
	if err != nil {
		return domain.SourceFile{}, err
	}

	exists, err := uc.storage.Exists(ctx, hash)
	if err != nil {
		return domain.SourceFile{}, fmt.Errorf("check object storage: %w", err)
	}
	if !exists {
		if err := uc.storage.Save(ctx, hash, bytes.NewReader(raw)); err != nil {
			return domain.SourceFile{}, fmt.Errorf("save to object storage: %w", err)
		}
	}

	name := sanitizeFilename(f.Filename)
	return domain.SourceFile{
		Filename:    name,
		MimeType:    detectMimeType(name, f.MimeType, raw),
		ContentHash: hash,
		ByteSize:    int64(len(raw)),
		StorageKey:  hash,
	}, nil
}

func contentHash(raw []byte) (string, error) {
	h, err := blake2b.New(32, nil)
	if err != nil {
		return "", fmt.Errorf("init content hash: %w", err)
	}
	_, _ = h.Write(raw)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func detectMimeType(filename, declared string, raw []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(raw))
	return mt
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "_" {
		return "document.bin"
	}
	return base
}
