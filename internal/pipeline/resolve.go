package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-sync/internal/model"
)

// stageResolve maps external participants onto company and customer rows
// and stamps each resolved customer on the messages that address sent.
// Conversations with no external participants pass straight through.
func (p *Processor) stageResolve(ctx context.Context, rec *model.StageRecord, account *model.Account) error {
	if len(rec.Participants) > 0 {
		res, err := p.resolver.Resolve(ctx, rec.AccountID, account.Email, rec.Participants)
		if err != nil {
			return err
		}
		for email, customer := range res.Customers {
			if err := p.store.LinkMessageCustomer(ctx, rec.ID, email, customer.ID); err != nil {
				return err
			}
		}
		p.log.Debug("participants resolved",
			zap.String("record_id", rec.ID),
			zap.Int("customers", len(res.Customers)),
			zap.Int("companies", len(res.Companies)),
			zap.Int("skipped", res.Skipped),
		)
	}

	if err := p.store.MarkPreprocessed(ctx, rec.ID); err != nil {
		return eris.Wrap(err, "processor: mark preprocessed")
	}
	rec.Preprocessed = true
	return nil
}
