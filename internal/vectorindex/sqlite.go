package vectorindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/haasonsaas/parley/internal/embedding"
	"github.com/haasonsaas/parley/pkg/models"
)

// SQLiteIndex persists embeddings in a SQLite file. Vectors are stored
// as little-endian float32 BLOBs and scored in process.
type SQLiteIndex struct {
	db *sql.DB
}

var _ Index = (*SQLiteIndex)(nil)

// NewSQLiteIndex opens (or creates) the index at path. Empty path keeps
// the index in memory.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: open %s: %w", path, err)
	}
	idx := &SQLiteIndex{db: db}
	if err := idx.init(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (s *SQLiteIndex) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS embeddings (
			chunk_id       TEXT NOT NULL,
			document_id    TEXT NOT NULL,
			tenant_id      TEXT NOT NULL,
			model_code     TEXT NOT NULL,
			vector_version INTEGER NOT NULL,
			vector         BLOB NOT NULL,
			created_at     DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (chunk_id, model_code)
		)
	`)
	if err != nil {
		return fmt.Errorf("vectorindex: create table: %w", err)
	}
	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_embeddings_tenant_model ON embeddings(tenant_id, model_code)",
		"CREATE INDEX IF NOT EXISTS idx_embeddings_document ON embeddings(document_id)",
	} {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("vectorindex: create index: %w", err)
		}
	}
	return nil
}

func (s *SQLiteIndex) Upsert(ctx context.Context, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorindex: begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (chunk_id, document_id, tenant_id, model_code, vector_version, vector)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (chunk_id, model_code) DO UPDATE SET
			document_id = excluded.document_id,
			tenant_id = excluded.tenant_id,
			vector_version = excluded.vector_version,
			vector = excluded.vector
		WHERE excluded.vector_version >= embeddings.vector_version
	`)
	if err != nil {
		return fmt.Errorf("vectorindex: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.ExecContext(ctx, e.ChunkID, e.DocumentID, e.TenantID,
			e.ModelCode, e.VectorVersion, embedding.EncodeVector(e.Vector))
		if err != nil {
			return fmt.Errorf("vectorindex: upsert chunk %s: %w", e.ChunkID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Search(ctx context.Context, query []float32, opts SearchOptions) ([]models.Hit, error) {
	q := `SELECT chunk_id, document_id, vector FROM embeddings WHERE tenant_id = ? AND model_code = ?`
	args := []any{opts.TenantID, opts.ModelCode}
	if len(opts.DocumentIDs) > 0 {
		q += " AND document_id IN (?" + strings.Repeat(",?", len(opts.DocumentIDs)-1) + ")"
		for _, id := range opts.DocumentIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: search: %w", err)
	}
	defer rows.Close()

	var hits []models.Hit
	for rows.Next() {
		var chunkID, documentID string
		var blob []byte
		if err := rows.Scan(&chunkID, &documentID, &blob); err != nil {
			return nil, fmt.Errorf("vectorindex: scan: %w", err)
		}
		vec, err := embedding.DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("vectorindex: chunk %s: %w", chunkID, err)
		}
		score := dot(query, vec)
		if score < opts.Threshold {
			continue
		}
		hits = append(hits, models.Hit{
			ChunkID:    chunkID,
			DocumentID: documentID,
			Score:      score,
			Confidence: models.ConfidenceFor(score),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorindex: iterate: %w", err)
	}
	return rank(hits, opts.TopK), nil
}

func (s *SQLiteIndex) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	q := "DELETE FROM embeddings WHERE chunk_id IN (?" + strings.Repeat(",?", len(chunkIDs)-1) + ")"
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("vectorindex: delete: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM embeddings WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("vectorindex: delete document %s: %w", documentID, err)
	}
	return nil
}

func (s *SQLiteIndex) ChunkRefs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT chunk_id FROM embeddings")
	if err != nil {
		return nil, fmt.Errorf("vectorindex: chunk refs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Size(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("vectorindex: size: %w", err)
	}
	return n, nil
}

func (s *SQLiteIndex) Close() error { return s.db.Close() }
