package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/companionrt/internal/store"
)

// MessageStore is a reference Postgres implementation of the external
// Messages collaborator. Production deployments typically point the
// companion runtime at an existing chat service's database instead; this
// implementation exists so the runtime is independently runnable and
// testable.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) List(ctx context.Context, streamID string, opts store.MessageListOpts) ([]store.Message, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, stream_id, author_id, author_type, sequence, content, sources, session_id, created_at
	          FROM messages WHERE stream_id = $1`
	args := []any{streamID}
	if opts.BeforeSeq > 0 {
		args = append(args, opts.BeforeSeq)
		query += " AND sequence < $2"
	}
	query += " ORDER BY sequence DESC LIMIT $" + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

func (s *MessageStore) ListSince(ctx context.Context, streamID string, sinceSeq int64, excludeAuthor string) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stream_id, author_id, author_type, sequence, content, sources, session_id, created_at
		FROM messages WHERE stream_id = $1 AND sequence > $2 AND ($3 = '' OR author_id != $3)
		ORDER BY sequence ASC
	`, streamID, sinceSeq, excludeAuthor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *MessageStore) FindByID(ctx context.Context, id string) (*store.Message, error) {
	msgs, err := s.FindByIDs(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, errors.New("message not found")
	}
	return &msgs[0], nil
}

func (s *MessageStore) FindByIDs(ctx context.Context, ids []string) ([]store.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stream_id, author_id, author_type, sequence, content, sources, session_id, created_at
		FROM messages WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *MessageStore) CreateMessage(ctx context.Context, p store.CreateMessageParams) (string, store.MessageOperation, error) {
	contentJSON, err := encodeContent(p.Content)
	if err != nil {
		return "", "", err
	}
	sourcesJSON, err := json.Marshal(p.Sources)
	if err != nil {
		return "", "", err
	}

	id := uuid.Must(uuid.NewV7()).String()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, stream_id, author_id, author_type, sequence, content, sources, session_id, created_at)
		VALUES ($1, $2, $3, $4, nextval('message_sequence_seq'), $5, $6, $7, now())
	`, id, p.StreamID, p.AuthorID, p.AuthorType, []byte(contentJSON), []byte(sourcesJSON), nilStr(p.SessionID))
	if err != nil {
		return "", "", err
	}
	return id, store.MessageCreated, nil
}

func scanMessages(rows *sql.Rows) ([]store.Message, error) {
	var out []store.Message
	for rows.Next() {
		var m store.Message
		var contentJSON, sourcesJSON []byte
		var sessionID sql.NullString
		var createdAt time.Time
		if err := rows.Scan(&m.ID, &m.StreamID, &m.AuthorID, &m.AuthorType, &m.Sequence, &contentJSON, &sourcesJSON, &sessionID, &createdAt); err != nil {
			return nil, err
		}
		content, err := decodeContent(contentJSON)
		if err != nil {
			return nil, err
		}
		m.Content = content
		m.SessionID = sessionID.String
		m.CreatedAt = createdAt
		if len(sourcesJSON) > 0 {
			_ = json.Unmarshal(sourcesJSON, &m.Sources)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// encodeContent / decodeContent store MessageContent as either a bare
// JSON string (plain text, the common case) or an array of parts
// (multipart), matching the tagged-variant shape used in memory.
func encodeContent(c store.MessageContent) ([]byte, error) {
	if !c.IsMultipart() {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

func decodeContent(raw []byte) (store.MessageContent, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return store.MessageContent{Text: text}, nil
	}
	var parts []store.ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return store.MessageContent{}, err
	}
	return store.MessageContent{Parts: parts}, nil
}

func reverse(msgs []store.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
