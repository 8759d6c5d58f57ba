package salesforce

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// maxBatchSize is the Salesforce Collections API limit per request.
const maxBatchSize = 200

// BulkUpsert splits records into batches of 200 (SF Collections API limit)
// and sends them via UpsertCollection, keyed by the external id field.
// A batch that fails wholesale aborts the push; results accumulated so far
// are returned alongside the error.
func BulkUpsert(ctx context.Context, c Client, sObjectName, externalIDField string, records []map[string]any) ([]CollectionResult, error) {
	if len(records) == 0 {
		return nil, nil
	}

	var allResults []CollectionResult

	for start := 0; start < len(records); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		results, err := c.UpsertCollection(ctx, sObjectName, externalIDField, batch)
		if err != nil {
			return allResults, eris.Wrap(err, fmt.Sprintf("sf: bulk upsert %s batch %d-%d", sObjectName, start, end))
		}
		allResults = append(allResults, results...)
	}

	return allResults, nil
}

// Failed filters results down to the rejected records.
func Failed(results []CollectionResult) []CollectionResult {
	var failed []CollectionResult
	for _, r := range results {
		if !r.Success {
			failed = append(failed, r)
		}
	}
	return failed
}
