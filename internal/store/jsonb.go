package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/inbox-sync/internal/model"
)

// marshalJSONB encodes a value for a JSONB column. Nil pointers and nil
// slices become SQL NULL.
func marshalJSONB(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case *model.ErrorDetail:
		if t == nil {
			return nil, nil
		}
	case *model.ThreadSummary:
		if t == nil {
			return nil, nil
		}
	case []model.Participant:
		if t == nil {
			return nil, nil
		}
	case []string:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal jsonb")
	}
	return b, nil
}

func unmarshalDetail(b []byte) (*model.ErrorDetail, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var d model.ErrorDetail
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal error detail")
	}
	return &d, nil
}

func unmarshalParticipants(b []byte) ([]model.Participant, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var p []model.Participant
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal participants")
	}
	return p, nil
}
