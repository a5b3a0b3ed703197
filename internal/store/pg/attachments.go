package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/nextlevelbuilder/companionrt/internal/store"
)

// AttachmentStore is a reference Postgres implementation of the external
// Attachments collaborator. AwaitProcessing polls rather than blocking on
// a DB-side wait, mirroring how the Context Builder is specified to wait
// on extraction: a short poll loop bounded by the caller's context.
type AttachmentStore struct {
	db           *sql.DB
	pollInterval time.Duration
}

func NewAttachmentStore(db *sql.DB) *AttachmentStore {
	return &AttachmentStore{db: db, pollInterval: 200 * time.Millisecond}
}

func (s *AttachmentStore) FindByMessageID(ctx context.Context, messageID string) ([]store.Attachment, error) {
	return s.FindByMessageIDs(ctx, []string{messageID})
}

func (s *AttachmentStore) FindByMessageIDs(ctx context.Context, messageIDs []string) ([]store.Attachment, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, filename, mime_type, status, caption, extracted_text, url
		FROM attachments WHERE message_id = ANY($1)
	`, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttachments(rows)
}

func (s *AttachmentStore) AwaitProcessing(ctx context.Context, ids []string) ([]store.Attachment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, message_id, filename, mime_type, status, caption, extracted_text, url
			FROM attachments WHERE id = ANY($1)
		`, ids)
		if err != nil {
			return nil, err
		}
		atts, err := scanAttachments(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}

		allTerminal := len(atts) == len(ids)
		for _, a := range atts {
			if !a.Status.Terminal() {
				allTerminal = false
				break
			}
		}
		if allTerminal {
			return atts, nil
		}

		select {
		case <-ctx.Done():
			return atts, ctx.Err()
		case <-ticker.C:
		}
	}
}

func scanAttachments(rows *sql.Rows) ([]store.Attachment, error) {
	var out []store.Attachment
	for rows.Next() {
		var a store.Attachment
		var caption, extracted, url sql.NullString
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Filename, &a.MimeType, &a.Status, &caption, &extracted, &url); err != nil {
			return nil, err
		}
		a.Caption, a.ExtractedText, a.URL = caption.String, extracted.String, url.String
		out = append(out, a)
	}
	return out, rows.Err()
}
