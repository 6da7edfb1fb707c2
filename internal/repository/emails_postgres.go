package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iago/support-inbox-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const emailsSchema = `
CREATE TABLE IF NOT EXISTS emails (
	id              TEXT PRIMARY KEY,
	sender          TEXT NOT NULL,
	subject         TEXT NOT NULL,
	body            TEXT NOT NULL,
	sent_date       TIMESTAMPTZ NOT NULL,
	priority        TEXT NOT NULL,
	sentiment       TEXT,
	sentiment_score INTEGER,
	extracted_info  JSONB,
	ai_response     TEXT,
	response_status TEXT NOT NULL DEFAULT 'pending',
	processed_at    TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const emailColumns = `id, sender, subject, body, sent_date, priority, sentiment, sentiment_score,
	extracted_info, ai_response, response_status, processed_at, created_at`

type PostgresEmailRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresEmailRepository(ctx context.Context, databaseURL string) (*PostgresEmailRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	if _, err := pool.Exec(ctx, emailsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure emails schema: %w", err)
	}
	return &PostgresEmailRepository{pool: pool}, nil
}

func (r *PostgresEmailRepository) Close() {
	r.pool.Close()
}

func (r *PostgresEmailRepository) Create(ctx context.Context, email *domain.Email) error {
	extracted, err := marshalExtracted(email.ExtractedInfo)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO emails (`+emailColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		email.ID,
		email.Sender,
		email.Subject,
		email.Body,
		email.SentDate,
		string(email.Priority),
		sentimentArg(email.Sentiment),
		email.SentimentScore,
		extracted,
		email.AIResponse,
		string(email.ResponseStatus),
		email.ProcessedAt,
		email.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert email: %w", err)
	}
	return nil
}

func (r *PostgresEmailRepository) Get(ctx context.Context, id string) (*domain.Email, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = $1`, id)
	email, err := scanEmail(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query email: %w", err)
	}
	return email, nil
}

func (r *PostgresEmailRepository) ListAll(ctx context.Context) ([]*domain.Email, error) {
	return r.List(ctx, domain.EmailFilter{})
}

func (r *PostgresEmailRepository) List(ctx context.Context, filter domain.EmailFilter) ([]*domain.Email, error) {
	where, args := buildEmailFilters(filter)
	query := `SELECT ` + emailColumns + ` FROM emails` + where + `
		ORDER BY CASE WHEN priority = 'urgent' THEN 0 ELSE 1 END, sent_date DESC, id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list emails: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.Email, 0)
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		items = append(items, email)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate emails: %w", rows.Err())
	}
	return items, nil
}

// Update writes every non-nil field in one statement so concurrent readers
// never observe a half-applied enrichment.
func (r *PostgresEmailRepository) Update(
	ctx context.Context,
	id string,
	update domain.EmailUpdate,
) (*domain.Email, error) {
	if update.Empty() {
		return r.Get(ctx, id)
	}

	sets := make([]string, 0, 6)
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Sentiment != nil {
		add("sentiment", string(*update.Sentiment))
	}
	if update.SentimentScore != nil {
		add("sentiment_score", *update.SentimentScore)
	}
	if update.ExtractedInfo != nil {
		extracted, err := marshalExtracted(update.ExtractedInfo)
		if err != nil {
			return nil, err
		}
		add("extracted_info", extracted)
	}
	if update.AIResponse != nil {
		add("ai_response", *update.AIResponse)
	}
	if update.ResponseStatus != nil {
		add("response_status", string(*update.ResponseStatus))
	}
	if update.ProcessedAt != nil {
		add("processed_at", *update.ProcessedAt)
	}

	where := "id = $1"
	if update.UnlessStatus != nil {
		args = append(args, string(*update.UnlessStatus))
		where += fmt.Sprintf(" AND response_status <> $%d", len(args))
	}

	row := r.pool.QueryRow(ctx,
		`UPDATE emails SET `+strings.Join(sets, ", ")+` WHERE `+where+` RETURNING `+emailColumns,
		args...,
	)
	email, err := scanEmail(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.missedUpdate(ctx, id, update)
		}
		return nil, fmt.Errorf("update email: %w", err)
	}
	return email, nil
}

// missedUpdate tells a missing row apart from one the status guard skipped.
func (r *PostgresEmailRepository) missedUpdate(ctx context.Context, id string, update domain.EmailUpdate) error {
	if update.UnlessStatus == nil {
		return ErrNotFound
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM emails WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusConflict
}

func (r *PostgresEmailRepository) Delete(ctx context.Context, id string) error {
	command, err := r.pool.Exec(ctx, `DELETE FROM emails WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete email: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func buildEmailFilters(filter domain.EmailFilter) (string, []any) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 3)

	if filter.Priority != "" {
		args = append(args, string(filter.Priority))
		clauses = append(clauses, fmt.Sprintf("priority = $%d", len(args)))
	}
	if filter.Sentiment != "" {
		args = append(args, string(filter.Sentiment))
		clauses = append(clauses, fmt.Sprintf("sentiment = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, search)
		index := len(args)
		clauses = append(clauses, fmt.Sprintf(
			"(sender ILIKE '%%' || $%d || '%%' OR subject ILIKE '%%' || $%d || '%%' OR body ILIKE '%%' || $%d || '%%')",
			index, index, index,
		))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanEmail(row pgx.Row) (*domain.Email, error) {
	var (
		email       domain.Email
		priority    string
		sentiment   *string
		extracted   []byte
		status      string
		processedAt *time.Time
	)
	err := row.Scan(
		&email.ID,
		&email.Sender,
		&email.Subject,
		&email.Body,
		&email.SentDate,
		&priority,
		&sentiment,
		&email.SentimentScore,
		&extracted,
		&email.AIResponse,
		&status,
		&processedAt,
		&email.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	email.Priority = domain.Priority(priority)
	email.ResponseStatus = domain.ResponseStatus(status)
	email.ProcessedAt = processedAt
	if sentiment != nil {
		value := domain.Sentiment(*sentiment)
		email.Sentiment = &value
	}
	if len(extracted) > 0 {
		var info domain.ExtractedInfo
		if err := json.Unmarshal(extracted, &info); err != nil {
			return nil, fmt.Errorf("decode extracted info: %w", err)
		}
		email.ExtractedInfo = &info
	}
	return &email, nil
}

func marshalExtracted(info *domain.ExtractedInfo) ([]byte, error) {
	if info == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal extracted info: %w", err)
	}
	return encoded, nil
}

func sentimentArg(sentiment *domain.Sentiment) *string {
	if sentiment == nil {
		return nil
	}
	value := string(*sentiment)
	return &value
}
