package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/inbox-sync/internal/db"
	"github.com/sells-group/inbox-sync/internal/model"
)

const messageColumns = `id, stage_record_id, account_id, message_id, thread_id,
	from_email, from_name, recipients_to, recipients_cc, sent_at,
	raw_body, clean_body, customer_id, created_at, updated_at`

func scanMessage(row pgx.Row) (*model.Message, error) {
	var (
		m         model.Message
		toBytes   []byte
		ccBytes   []byte
		cleanBody *string
	)
	err := row.Scan(&m.ID, &m.StageRecordID, &m.AccountID, &m.MessageID, &m.ThreadID,
		&m.FromEmail, &m.FromName, &toBytes, &ccBytes, &m.SentAt,
		&m.RawBody, &cleanBody, &m.CustomerID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if m.To, err = unmarshalParticipants(toBytes); err != nil {
		return nil, err
	}
	if m.CC, err = unmarshalParticipants(ccBytes); err != nil {
		return nil, err
	}
	if cleanBody != nil {
		m.CleanBody = *cleanBody
	}
	return &m, nil
}

// UpsertMessages bulk-writes messages through a temp table and COPY.
// Re-imported messages refresh their provider fields but never touch
// clean_body or customer_id, which later stages own.
func (s *Postgres) UpsertMessages(ctx context.Context, msgs []*model.Message) (int64, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		toBytes, err := marshalJSONB(m.To)
		if err != nil {
			return 0, err
		}
		ccBytes, err := marshalJSONB(m.CC)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{
			m.ID, m.StageRecordID, m.AccountID, m.MessageID, m.ThreadID,
			strings.ToLower(m.FromEmail), m.FromName, toBytes, ccBytes, m.SentAt, m.RawBody,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "messages",
		Columns: []string{
			"id", "stage_record_id", "account_id", "message_id", "thread_id",
			"from_email", "from_name", "recipients_to", "recipients_cc", "sent_at", "raw_body",
		},
		ConflictKeys: []string{"account_id", "message_id"},
		UpdateCols: []string{
			"from_email", "from_name", "recipients_to", "recipients_cc", "sent_at", "raw_body",
		},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "store: upsert messages")
	}
	return n, nil
}

func (s *Postgres) ListMessagesByRecord(ctx context.Context, recordID string) ([]*model.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE stage_record_id = $1 ORDER BY sent_at`,
		recordID)
	if err != nil {
		return nil, eris.Wrap(err, "store: list messages by record")
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan message")
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Postgres) SetCleanBody(ctx context.Context, id, cleanBody string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE messages SET clean_body = $2, updated_at = now() WHERE id = $1`, id, cleanBody)
	if err != nil {
		return eris.Wrap(err, "store: set clean body")
	}
	return nil
}

// LinkMessageCustomer stamps the resolved customer on every message the
// address sent within the conversation.
func (s *Postgres) LinkMessageCustomer(ctx context.Context, recordID, fromEmail, customerID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE messages SET customer_id = $3, updated_at = now()
		WHERE stage_record_id = $1 AND from_email = $2`,
		recordID, strings.ToLower(fromEmail), customerID)
	if err != nil {
		return eris.Wrap(err, "store: link message customer")
	}
	return nil
}
