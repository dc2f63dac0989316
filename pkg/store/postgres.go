package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/marcs89/Instagram-Message-Router/pkg/models"
)

// Postgres implements Store on database/sql with the lib/pq driver.
// UpdateConversation relies on `WHERE version = $n` so a stale writer
// updates zero rows and gets ErrVersionConflict.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects and verifies the database is reachable.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// EnsureSchema creates the tables when they do not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id                TEXT PRIMARY KEY,
			sender_id         TEXT NOT NULL,
			recipient_id      TEXT NOT NULL,
			category          TEXT NOT NULL DEFAULT '',
			priority          TEXT NOT NULL DEFAULT '',
			assignee_id       TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL,
			assignment_failed BOOLEAN NOT NULL DEFAULT FALSE,
			version           BIGINT NOT NULL,
			created_at        TIMESTAMPTZ NOT NULL,
			last_message_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_sender
			ON conversations (sender_id, recipient_id)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations (id),
			direction       TEXT NOT NULL,
			text            TEXT NOT NULL,
			sent_at         TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages (conversation_id, sent_at)`,
		`CREATE TABLE IF NOT EXISTS comments (
			comment_id         TEXT PRIMARY KEY,
			post_id            TEXT NOT NULL,
			parent_id          TEXT NOT NULL DEFAULT '',
			commenter_id       TEXT NOT NULL,
			commenter_name     TEXT NOT NULL DEFAULT '',
			text               TEXT NOT NULL,
			sentiment          TEXT NOT NULL,
			sentiment_score    DOUBLE PRECISION NOT NULL,
			is_question        BOOLEAN NOT NULL,
			contains_complaint BOOLEAN NOT NULL,
			priority           TEXT NOT NULL,
			status             TEXT NOT NULL,
			created_at         TIMESTAMPTZ NOT NULL,
			received_at        TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

const conversationColumns = `id, sender_id, recipient_id, category, priority, assignee_id,
	status, assignment_failed, version, created_at, last_message_at`

func (p *Postgres) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = $1
	`, id)
	return scanConversation(row)
}

func (p *Postgres) FindRoutable(ctx context.Context, senderID, recipientID string) (*models.Conversation, error) {
	// Open conversation wins; otherwise the most recently active one.
	row := p.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE sender_id = $1 AND recipient_id = $2
		ORDER BY (status <> 'resolved') DESC, last_message_at DESC
		LIMIT 1
	`, senderID, recipientID)
	return scanConversation(row)
}

func (p *Postgres) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	conv.Version = 1
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		conv.ID, conv.SenderID, conv.RecipientID, conv.Category, conv.Priority,
		conv.AssigneeID, string(conv.Status), conv.AssignmentFailed,
		conv.Version, conv.CreatedAt, conv.LastMessageAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *Postgres) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE conversations
		SET category = $1, priority = $2, assignee_id = $3, status = $4,
			assignment_failed = $5, last_message_at = $6, version = version + 1
		WHERE id = $7 AND version = $8
	`,
		conv.Category, conv.Priority, conv.AssigneeID, string(conv.Status),
		conv.AssignmentFailed, conv.LastMessageAt, conv.ID, conv.Version,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	conv.Version++
	return nil
}

func (p *Postgres) AppendMessage(ctx context.Context, msg *models.Message) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, direction, text, sent_at)
		VALUES ($1, $2, $3, $4, $5)
	`, msg.ID, msg.ConversationID, string(msg.Direction), msg.Text, msg.SentAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *Postgres) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, conversation_id, direction, text, sent_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sent_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var direction string
		if err := rows.Scan(&m.ID, &m.ConversationID, &direction, &m.Text, &m.SentAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		m.Direction = models.Direction(direction)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (p *Postgres) ListConversations(ctx context.Context, f Filter) ([]models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR category = $2)
		  AND ($3 = '' OR assignee_id = $3)
		ORDER BY last_message_at DESC
	`
	args := []any{string(f.Status), f.Category, f.AssigneeID}
	if f.Limit > 0 {
		query += ` LIMIT $4`
		args = append(args, f.Limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		conv, err := scanConversationRows(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		out = append(out, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (p *Postgres) SaveComment(ctx context.Context, c *models.Comment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO comments (comment_id, post_id, parent_id, commenter_id,
			commenter_name, text, sentiment, sentiment_score, is_question,
			contains_complaint, priority, status, created_at, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (comment_id) DO NOTHING
	`,
		c.CommentID, c.PostID, c.ParentID, c.CommenterID, c.CommenterName,
		c.Text, c.Sentiment, c.SentimentScore, c.IsQuestion,
		c.ContainsComplaint, c.Priority, string(c.Status), c.CreatedAt, c.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *Postgres) ListComments(ctx context.Context, limit int) ([]models.Comment, error) {
	query := `
		SELECT comment_id, post_id, parent_id, commenter_id, commenter_name,
			text, sentiment, sentiment_score, is_question, contains_complaint,
			priority, status, created_at, received_at
		FROM comments
		ORDER BY received_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []models.Comment
	for rows.Next() {
		var c models.Comment
		var status string
		if err := rows.Scan(
			&c.CommentID, &c.PostID, &c.ParentID, &c.CommenterID, &c.CommenterName,
			&c.Text, &c.Sentiment, &c.SentimentScore, &c.IsQuestion,
			&c.ContainsComplaint, &c.Priority, &status, &c.CreatedAt, &c.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		c.Status = models.Status(status)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row *sql.Row) (*models.Conversation, error) {
	conv, err := scanConversationRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return conv, nil
}

func scanConversationRows(row rowScanner) (*models.Conversation, error) {
	var conv models.Conversation
	var status string
	err := row.Scan(
		&conv.ID, &conv.SenderID, &conv.RecipientID, &conv.Category,
		&conv.Priority, &conv.AssigneeID, &status, &conv.AssignmentFailed,
		&conv.Version, &conv.CreatedAt, &conv.LastMessageAt,
	)
	if err != nil {
		return nil, err
	}
	conv.Status = models.Status(status)
	return &conv, nil
}
