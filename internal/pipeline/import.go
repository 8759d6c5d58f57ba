package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-sync/internal/model"
	"github.com/sells-group/inbox-sync/internal/resilience"
	"github.com/sells-group/inbox-sync/pkg/nylas"
)

// stageImport parses the listing payload, pulls the full message bodies
// from the provider, and persists them. A payload that no longer parses
// is recorded as an empty import rather than retried; the row it came
// from is not going to improve.
func (p *Processor) stageImport(ctx context.Context, rec *model.StageRecord, account *model.Account) error {
	var thread nylas.Thread
	if err := json.Unmarshal(rec.RawPayload, &thread); err != nil || thread.ID == "" {
		p.log.Warn("unparseable thread payload, imported empty",
			zap.String("record_id", rec.ID),
			zap.String("thread_id", rec.ThreadID),
			zap.Error(err),
		)
		if err := p.store.MarkImported(ctx, rec.ID, nil, 0); err != nil {
			return eris.Wrap(err, "processor: mark imported")
		}
		rec.Imported = true
		rec.Participants = nil
		rec.MessageCount = 0
		return nil
	}

	msgs, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) ([]nylas.Message, error) {
		return p.nylas.ListMessages(ctx, account.GrantID, rec.ThreadID)
	})
	if err != nil {
		return err
	}

	rows := make([]*model.Message, 0, len(msgs))
	for i := range msgs {
		rows = append(rows, importMessage(rec, &msgs[i]))
	}
	if _, err := p.store.UpsertMessages(ctx, rows); err != nil {
		return err
	}

	participants := collectParticipants(&thread, msgs)
	if err := p.store.MarkImported(ctx, rec.ID, participants, len(rows)); err != nil {
		return eris.Wrap(err, "processor: mark imported")
	}
	rec.Imported = true
	rec.Participants = participants
	rec.MessageCount = len(rows)
	return nil
}

func importMessage(rec *model.StageRecord, m *nylas.Message) *model.Message {
	var from nylas.EmailName
	if len(m.From) > 0 {
		from = m.From[0]
	}
	return &model.Message{
		StageRecordID: rec.ID,
		AccountID:     rec.AccountID,
		MessageID:     m.ID,
		ThreadID:      rec.ThreadID,
		FromEmail:     strings.TrimSpace(from.Email),
		FromName:      from.Name,
		To:            toParticipants(m.To),
		CC:            toParticipants(m.CC),
		SentAt:        time.Unix(m.Date, 0).UTC(),
		RawBody:       m.Body,
	}
}

func toParticipants(addrs []nylas.EmailName) []model.Participant {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]model.Participant, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, model.Participant{
			Email: strings.ToLower(strings.TrimSpace(a.Email)),
			Name:  a.Name,
		})
	}
	return out
}

// collectParticipants merges the thread's participant list with every
// message sender and recipient, deduplicated by lower-cased address in
// first-seen order. The first non-empty display name for an address
// wins.
func collectParticipants(thread *nylas.Thread, msgs []nylas.Message) []model.Participant {
	var out []model.Participant
	index := make(map[string]int)

	add := func(a nylas.EmailName) {
		email := strings.ToLower(strings.TrimSpace(a.Email))
		if email == "" {
			return
		}
		if i, ok := index[email]; ok {
			if out[i].Name == "" && a.Name != "" {
				out[i].Name = a.Name
			}
			return
		}
		index[email] = len(out)
		out = append(out, model.Participant{Email: email, Name: a.Name})
	}

	for _, a := range thread.Participants {
		add(a)
	}
	for _, m := range msgs {
		for _, a := range m.From {
			add(a)
		}
		for _, a := range m.To {
			add(a)
		}
		for _, a := range m.CC {
			add(a)
		}
	}
	return out
}
