package threadstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/haasonsaas/parley/pkg/models"
)

// PostgresStore is the production Store over database/sql.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore opens a connection pool against the given URL.
func NewPostgresStore(url string, maxConns int, connMaxLifetime time.Duration) (*PostgresStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("threadstore: open: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if connMaxLifetime > 0 {
		db.SetConnMaxLifetime(connMaxLifetime)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle. Tests use this with
// sqlmock.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const threadColumns = `id, tenant_id, user_id, title, default_model, temperature, flow_snapshot_id, system_prompt, created_at, updated_at`

func (s *PostgresStore) SaveThread(ctx context.Context, thread *models.Thread) error {
	now := time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (`+threadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			default_model = EXCLUDED.default_model,
			temperature = EXCLUDED.temperature,
			flow_snapshot_id = EXCLUDED.flow_snapshot_id,
			system_prompt = EXCLUDED.system_prompt,
			updated_at = EXCLUDED.updated_at`,
		thread.ID, thread.TenantID, thread.UserID, thread.Title, thread.DefaultModel,
		thread.Temperature, nullString(thread.FlowSnapshotID), nullString(thread.SystemPrompt),
		thread.CreatedAt, thread.UpdatedAt)
	if err != nil {
		return fmt.Errorf("threadstore: save thread: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetThread(ctx context.Context, tenantID, id string) (*models.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		id, tenantID)
	return scanThread(row)
}

func (s *PostgresStore) ListThreads(ctx context.Context, tenantID, userID string, opts ListOptions) ([]*models.Thread, int, error) {
	opts.normalize()
	search := "%" + opts.Search + "%"

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM threads
		WHERE tenant_id = $1 AND user_id = $2 AND deleted_at IS NULL
		  AND ($3 = '%%' OR title ILIKE $3)`,
		tenantID, userID, search).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("threadstore: count threads: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE tenant_id = $1 AND user_id = $2 AND deleted_at IS NULL
		  AND ($3 = '%%' OR title ILIKE $3)
		ORDER BY updated_at DESC, id
		LIMIT $4 OFFSET $5`,
		tenantID, userID, search, opts.Size, opts.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("threadstore: list threads: %w", err)
	}
	defer rows.Close()

	var threads []*models.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, 0, err
		}
		threads = append(threads, t)
	}
	return threads, total, rows.Err()
}

func (s *PostgresStore) SoftDeleteThread(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE threads SET deleted_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		id, tenantID)
	if err != nil {
		return fmt.Errorf("threadstore: delete thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrThreadNotFound
	}
	return nil
}

const messageColumns = `id, thread_id, role, content, tool_call, tokens_in, tokens_out, latency_ms, created_at`

func (s *PostgresStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if err := insertMessage(ctx, s.db, msg); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE threads SET updated_at = NOW() WHERE id = $1`, msg.ThreadID)
	if err != nil {
		return fmt.Errorf("threadstore: touch thread: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, db execer, msg *models.Message) error {
	toolCall, err := marshalToolCall(msg.ToolCall)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.ThreadID, string(msg.Role), msg.Content, toolCall,
		msg.TokensIn, msg.TokensOut, msg.LatencyMS, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("threadstore: save message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, threadID, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE id = $1 AND thread_id = $2`,
		id, threadID)
	return scanMessage(row)
}

func (s *PostgresStore) ListMessagesByThread(ctx context.Context, threadID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE thread_id = $1
		ORDER BY created_at ASC, id ASC`
	args := []any{threadID}
	if limit > 0 {
		// Most recent messages, returned oldest first.
		query = `
		SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + `
			FROM messages
			WHERE thread_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent ORDER BY created_at ASC, id ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("threadstore: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *PostgresStore) DeleteMessagesAfter(ctx context.Context, threadID, messageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("threadstore: begin: %w", err)
	}
	defer tx.Rollback()

	var cutoff time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT created_at FROM messages WHERE id = $1 AND thread_id = $2`,
		messageID, threadID).Scan(&cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("threadstore: resolve cutoff: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM citations WHERE message_id IN (
			SELECT id FROM messages
			WHERE thread_id = $1 AND created_at > $2 AND role = 'ASSISTANT'
		)`, threadID, cutoff)
	if err != nil {
		return fmt.Errorf("threadstore: delete citations: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM messages WHERE thread_id = $1 AND created_at > $2 AND role = 'ASSISTANT'`,
		threadID, cutoff)
	if err != nil {
		return fmt.Errorf("threadstore: delete messages: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) CountUserMessagesSince(ctx context.Context, tenantID, userID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN threads t ON t.id = m.thread_id
		WHERE t.tenant_id = $1 AND t.user_id = $2 AND t.deleted_at IS NULL
		  AND m.role = 'USER' AND m.created_at >= $3`,
		tenantID, userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("threadstore: count messages: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SaveCitations(ctx context.Context, citations []models.Citation) error {
	return saveCitations(ctx, s.db, citations)
}

func saveCitations(ctx context.Context, db execer, citations []models.Citation) error {
	for _, c := range citations {
		_, err := db.ExecContext(ctx, `
			INSERT INTO citations (message_id, chunk_id, score, model_code)
			VALUES ($1, $2, $3, $4)`,
			c.MessageID, c.ChunkID, c.Score, c.ModelCode)
		if err != nil {
			return fmt.Errorf("threadstore: save citation: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveUsage(ctx context.Context, usage *models.UsageRecord) error {
	return saveUsage(ctx, s.db, usage)
}

func saveUsage(ctx context.Context, db execer, usage *models.UsageRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO usage_records (tenant_id, model_code, day, tokens_in, tokens_out, cost)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, model_code, day) DO UPDATE SET
			tokens_in = usage_records.tokens_in + EXCLUDED.tokens_in,
			tokens_out = usage_records.tokens_out + EXCLUDED.tokens_out,
			cost = usage_records.cost + EXCLUDED.cost`,
		usage.TenantID, usage.ModelCode, models.UsageDay(usage.Day),
		usage.TokensIn, usage.TokensOut, usage.Cost)
	if err != nil {
		return fmt.Errorf("threadstore: save usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUsageByDay(ctx context.Context, day time.Time) ([]*models.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, model_code, day, tokens_in, tokens_out, cost
		FROM usage_records
		WHERE day = $1
		ORDER BY tenant_id, model_code`,
		models.UsageDay(day))
	if err != nil {
		return nil, fmt.Errorf("threadstore: list usage: %w", err)
	}
	defer rows.Close()

	var out []*models.UsageRecord
	for rows.Next() {
		var u models.UsageRecord
		if err := rows.Scan(&u.TenantID, &u.ModelCode, &u.Day, &u.TokensIn, &u.TokensOut, &u.Cost); err != nil {
			return nil, fmt.Errorf("threadstore: scan usage: %w", err)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

// SaveAssistantTurn writes message, citations, and usage in one
// transaction so billing happens at most once per generated turn.
func (s *PostgresStore) SaveAssistantTurn(ctx context.Context, msg *models.Message, citations []models.Citation, usage *models.UsageRecord) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("threadstore: begin: %w", err)
	}
	defer tx.Rollback()

	if err := insertMessage(ctx, tx, msg); err != nil {
		return err
	}
	if err := saveCitations(ctx, tx, citations); err != nil {
		return err
	}
	if usage != nil {
		if err := saveUsage(ctx, tx, usage); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at = NOW() WHERE id = $1`, msg.ThreadID); err != nil {
		return fmt.Errorf("threadstore: touch thread: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*models.Thread, error) {
	var t models.Thread
	var flow, sysPrompt sql.NullString
	err := row.Scan(&t.ID, &t.TenantID, &t.UserID, &t.Title, &t.DefaultModel,
		&t.Temperature, &flow, &sysPrompt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("threadstore: scan thread: %w", err)
	}
	t.FlowSnapshotID = flow.String
	t.SystemPrompt = sysPrompt.String
	return &t, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	var role string
	var toolCall []byte
	err := row.Scan(&m.ID, &m.ThreadID, &role, &m.Content, &toolCall,
		&m.TokensIn, &m.TokensOut, &m.LatencyMS, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("threadstore: scan message: %w", err)
	}
	m.Role = models.Role(role)
	if len(toolCall) > 0 {
		var tc models.ToolCall
		if err := json.Unmarshal(toolCall, &tc); err != nil {
			return nil, fmt.Errorf("threadstore: decode tool call: %w", err)
		}
		m.ToolCall = &tc
	}
	return &m, nil
}

func marshalToolCall(tc *models.ToolCall) ([]byte, error) {
	if tc == nil {
		return nil, nil
	}
	b, err := json.Marshal(tc)
	if err != nil {
		return nil, fmt.Errorf("threadstore: encode tool call: %w", err)
	}
	return b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
