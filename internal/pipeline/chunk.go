package pipeline

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/inbox-sync/internal/model"
)

// DefaultChunkTokenLimit is the per-chunk token budget. It leaves the
// model ample room for the system prompt and the structured reply.
const DefaultChunkTokenLimit = 8000

// EstimateTokens approximates the token count of s at four characters
// per token, rounded up.
func EstimateTokens(s string) int {
	return estimateLen(len(s))
}

func estimateLen(n int) int {
	return (n + 3) / 4
}

// stageChunk renders the transcript, packs it into chunks, and plants
// the summarization task. The task is created before the stage flag is
// set; a crash between the two re-runs this stage, and both writes are
// idempotent.
func (p *Processor) stageChunk(ctx context.Context, rec *model.StageRecord) error {
	msgs, err := p.store.ListMessagesByRecord(ctx, rec.ID)
	if err != nil {
		return err
	}
	blocks := transcriptBlocks(rec.Subject, msgs)
	transcript := strings.Join(blocks, "\n\n")
	chunks := chunkBlocks(blocks, p.limit)

	needsMapReduce := EstimateTokens(transcript) > p.limit
	if _, err := p.store.CreateSummarizationTask(ctx, rec.ID, rec.JobID, needsMapReduce); err != nil {
		return eris.Wrap(err, "processor: create summarization task")
	}
	if err := p.store.MarkChunked(ctx, rec.ID, chunks); err != nil {
		return eris.Wrap(err, "processor: mark chunked")
	}
	rec.Chunked = true
	rec.Chunks = chunks
	return nil
}

// chunkBlocks packs whole blocks into chunks whose token estimate stays
// within limit. A block that fits is never split, so a transcript at
// exactly the limit stays one chunk; a single over-limit block is split
// on paragraph then sentence boundaries.
func chunkBlocks(blocks []string, limit int) []string {
	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}

	for _, b := range blocks {
		if EstimateTokens(b) > limit {
			flush()
			chunks = append(chunks, splitOversized(b, limit)...)
			continue
		}
		next := len(b)
		if cur.Len() > 0 {
			next += cur.Len() + 2
		}
		if cur.Len() > 0 && estimateLen(next) > limit {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(b)
	}
	flush()
	return chunks
}

// splitOversized splits one over-limit block into units that each fit,
// then packs them back greedily. Paragraphs are preferred, sentences
// next, and a hard cut handles pathological unbroken runs.
func splitOversized(block string, limit int) []string {
	var units []string
	for _, para := range strings.Split(block, "\n\n") {
		if estimateLen(len(para)) <= limit {
			units = append(units, para)
			continue
		}
		for _, s := range splitSentences(para) {
			if estimateLen(len(s)) <= limit {
				units = append(units, s)
				continue
			}
			units = append(units, hardCut(s, limit)...)
		}
	}
	return packUnits(units, limit)
}

func packUnits(units []string, limit int) []string {
	var chunks []string
	var cur strings.Builder
	for _, u := range units {
		next := len(u)
		if cur.Len() > 0 {
			next += cur.Len() + 1
		}
		if cur.Len() > 0 && estimateLen(next) > limit {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(u)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

var sentenceEndRe = regexp.MustCompile(`[.!?]\s+`)

func splitSentences(s string) []string {
	idxs := sentenceEndRe.FindAllStringIndex(s, -1)
	if len(idxs) == 0 {
		return []string{s}
	}
	var out []string
	prev := 0
	for _, loc := range idxs {
		end := loc[0] + 1
		if piece := strings.TrimSpace(s[prev:end]); piece != "" {
			out = append(out, piece)
		}
		prev = loc[1]
	}
	if rest := strings.TrimSpace(s[prev:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// hardCut slices s at the character equivalent of the token limit,
// backing off to a rune boundary.
func hardCut(s string, limit int) []string {
	max := 4 * limit
	var out []string
	for len(s) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = max
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
