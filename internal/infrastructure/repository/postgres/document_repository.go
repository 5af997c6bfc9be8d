package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `id, state, revision, tags, source_files, error_info, created_at, updated_at`

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	tagsJSON, filesJSON, errorJSON, err := marshalDocument(doc)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`,
		doc.ID, string(doc.State), doc.Revision, tagsJSON, filesJSON, errorJSON, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = $1
`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) Update(ctx context.Context, doc *domain.Document) error {
	tagsJSON, filesJSON, errorJSON, err := marshalDocument(doc)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET state = $2, revision = $3, tags = $4, source_files = $5, error_info = $6, updated_at = $7
WHERE id = $1
`, doc.ID, string(doc.State), doc.Revision, tagsJSON, filesJSON, errorJSON, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return requireAffected(res, domain.ErrDocumentNotFound, "update document", doc.ID)
}

func (r *DocumentRepository) UpdateState(ctx context.Context, t domain.StateTransition) error {
	var errorJSON []byte
	if t.ErrorInfo != nil {
		var err error
		if errorJSON, err = json.Marshal(t.ErrorInfo); err != nil {
			return fmt.Errorf("marshal error info: %w", err)
		}
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET state = $4, error_info = $5, updated_at = $6
WHERE id = $1 AND revision = $2 AND state = $3
`, t.DocumentID, t.Revision, string(t.From), string(t.To), errorJSON, t.At)
	if err != nil {
		return fmt.Errorf("update document state: %w", err)
	}
	return requireAffected(res, domain.ErrStaleTransition, "update document state", t.DocumentID)
}

func (r *DocumentRepository) List(ctx context.Context, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
ORDER BY created_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (r *DocumentRepository) Delete(ctx context.Context, id string, states ...domain.DocumentState) error {
	if len(states) == 0 {
		res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		return requireAffected(res, domain.ErrDocumentNotFound, "delete document", id)
	}

	allowed := make([]string, 0, len(states))
	for _, s := range states {
		allowed = append(allowed, string(s))
	}
	var (
		state   string
		removed bool
	)
	err := r.db.QueryRowContext(ctx, `
WITH existing AS (
	SELECT state FROM documents WHERE id = $1
), removed AS (
	DELETE FROM documents WHERE id = $1 AND state = ANY(string_to_array($2, ','))
	RETURNING id
)
SELECT existing.state, removed.id IS NOT NULL
FROM existing LEFT JOIN removed ON true
`, id, strings.Join(allowed, ",")).Scan(&state, &removed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.WrapError(domain.ErrDocumentNotFound, "delete document", fmt.Errorf("id=%s", id))
	case err != nil:
		return fmt.Errorf("delete document: %w", err)
	case removed:
		return nil
	}
	return domain.CheckStateIn(&domain.Document{ID: id, State: domain.DocumentState(state)}, "delete document", states)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var (
		doc       domain.Document
		state     string
		tagsRaw   []byte
		filesRaw  []byte
		errorsRaw []byte
	)
	if err := row.Scan(&doc.ID, &state, &doc.Revision, &tagsRaw, &filesRaw, &errorsRaw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return domain.Document{}, err
	}
	doc.State = domain.DocumentState(state)
	if err := json.Unmarshal(tagsRaw, &doc.Tags); err != nil {
		return domain.Document{}, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal(filesRaw, &doc.SourceFiles); err != nil {
		return domain.Document{}, fmt.Errorf("unmarshal source files: %w", err)
	}
	if len(errorsRaw) > 0 && string(errorsRaw) != "null" {
		doc.ErrorInfo = &domain.ErrorInfo{}
		if err := json.Unmarshal(errorsRaw, doc.ErrorInfo); err != nil {
			return domain.Document{}, fmt.Errorf("unmarshal error info: %w", err)
		}
	}
	return doc, nil
}

func marshalDocument(doc *domain.Document) ([]byte, []byte, []byte, error) {
	tags := doc.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal tags: %w", err)
	}
	files := doc.SourceFiles
	if files == nil {
		files = []domain.SourceFile{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal source files: %w", err)
	}
	var errorJSON []byte
	if doc.ErrorInfo != nil {
		if errorJSON, err = json.Marshal(doc.ErrorInfo); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal error info: %w", err)
		}
	}
	return tagsJSON, filesJSON, errorJSON, nil
}

func requireAffected(res sql.Result, kind error, op, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return domain.WrapError(kind, op, fmt.Errorf("id=%s", id))
	}
	return nil
}
