package pipeline

import (
	"context"
	"html"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/inbox-sync/internal/model"
)

// stageClean rewrites each message's clean body: markup stripped, reply
// history cut, signature and disclaimer noise dropped.
func (p *Processor) stageClean(ctx context.Context, rec *model.StageRecord) error {
	msgs, err := p.store.ListMessagesByRecord(ctx, rec.ID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := p.store.SetCleanBody(ctx, m.ID, p.cleaner.Clean(m.RawBody)); err != nil {
			return err
		}
	}

	if err := p.store.MarkBodyCleaned(ctx, rec.ID); err != nil {
		return eris.Wrap(err, "processor: mark body cleaned")
	}
	rec.BodyCleaned = true
	return nil
}

var (
	styleRe   = regexp.MustCompile(`(?is)<style\b.*?</style>`)
	scriptRe  = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	headRe    = regexp.MustCompile(`(?is)<head\b.*?</head>`)
	commentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	// Block-level closers and <br> become newlines so line structure
	// survives the tag strip.
	htmlBreakRe  = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|li|tr|h[1-6]|blockquote)>`)
	htmlTagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	htmlDetectRe = regexp.MustCompile(`(?i)<(html|head|body|div|p|br|table|span|blockquote)\b|</`)

	// RFC 3676 signature delimiter: a line of exactly two dashes.
	sigDelimRe = regexp.MustCompile(`^--\s*$`)
	// Outlook-style reply headers arrive as a From: line followed by
	// Sent:/Date:/To: lines rather than a single marker.
	fromHeaderRe = regexp.MustCompile(`(?i)^from:\s*\S`)
	replyMetaRe  = regexp.MustCompile(`(?i)^(sent|date|to|subject|cc):\s*\S`)
	bareURLRe    = regexp.MustCompile(`^<?https?://\S+>?$`)
)

// Cleaner strips email bodies down to the text the sender actually
// wrote. Safe for concurrent use once built.
type Cleaner struct {
	quoteMarkers []string
	replyHeaders []*regexp.Regexp
	sigClosings  []string
	disclaimers  []*regexp.Regexp
}

// NewCleaner compiles the rule patterns. Invalid regexes in an override
// file surface here, before any worker starts.
func NewCleaner(rules CleanRules) (*Cleaner, error) {
	c := &Cleaner{quoteMarkers: rules.QuoteMarkers}
	for _, s := range rules.SignatureClosings {
		c.sigClosings = append(c.sigClosings, strings.ToLower(s))
	}
	for _, p := range rules.ReplyHeaderPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: reply header pattern %q", p)
		}
		c.replyHeaders = append(c.replyHeaders, re)
	}
	for _, p := range rules.DisclaimerPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: disclaimer pattern %q", p)
		}
		c.disclaimers = append(c.disclaimers, re)
	}
	return c, nil
}

// defaultCleaner builds the cleaner from the built-in rules, which are
// compile-time literals.
func defaultCleaner() *Cleaner {
	c, err := NewCleaner(DefaultCleanRules())
	if err != nil {
		panic(err)
	}
	return c
}

// Clean returns the author's own text from one message body. HTML is
// reduced to text first, then the body is cut at the first reply-history
// marker and at the signature, and noise lines are dropped.
func (c *Cleaner) Clean(body string) string {
	text := strings.ReplaceAll(body, "\r\n", "\n")
	if htmlDetectRe.MatchString(text) {
		text = stripHTML(text)
	}

	lines := strings.Split(text, "\n")
	if i := c.replyCut(lines); i >= 0 {
		lines = lines[:i]
	}
	if i := c.signatureCut(lines); i >= 0 {
		lines = lines[:i]
	}

	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		case strings.HasPrefix(trimmed, ">"):
			continue
		case bareURLRe.MatchString(trimmed):
			continue
		case c.isDisclaimer(trimmed):
			continue
		}
		blank = false
		out = append(out, strings.TrimRight(line, " \t"))
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// replyCut returns the index of the first line that opens quoted
// history, or -1.
func (c *Cleaner) replyCut(lines []string) int {
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		for _, m := range c.quoteMarkers {
			if strings.HasPrefix(trimmed, m) {
				return i
			}
		}
		for _, re := range c.replyHeaders {
			if re.MatchString(trimmed) {
				return i
			}
		}
		if fromHeaderRe.MatchString(trimmed) && followedByReplyMeta(lines, i) {
			return i
		}
	}
	return -1
}

// followedByReplyMeta reports whether one of the two lines after i reads
// like the rest of a forwarded-message header block.
func followedByReplyMeta(lines []string, i int) bool {
	for j := i + 1; j <= i+2 && j < len(lines); j++ {
		if replyMetaRe.MatchString(strings.TrimSpace(lines[j])) {
			return true
		}
	}
	return false
}

// signatureCut returns the index where the signature starts, or -1. The
// "--" delimiter always cuts; closing phrases only cut near the end of
// the body, so a "Thanks," opening a long reply is kept.
func (c *Cleaner) signatureCut(lines []string) int {
	remaining := make([]int, len(lines)+1)
	for i := len(lines) - 1; i >= 0; i-- {
		remaining[i] = remaining[i+1]
		if strings.TrimSpace(lines[i]) != "" {
			remaining[i]++
		}
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if sigDelimRe.MatchString(trimmed) {
			return i
		}
		if len(trimmed) > 40 || remaining[i] > 7 {
			continue
		}
		lower := strings.ToLower(trimmed)
		for _, phrase := range c.sigClosings {
			if strings.HasPrefix(lower, phrase) {
				return i
			}
		}
	}
	return -1
}

func (c *Cleaner) isDisclaimer(line string) bool {
	for _, re := range c.disclaimers {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// stripHTML reduces an HTML body to text, preserving line structure.
func stripHTML(s string) string {
	s = styleRe.ReplaceAllString(s, "")
	s = scriptRe.ReplaceAllString(s, "")
	s = headRe.ReplaceAllString(s, "")
	s = commentRe.ReplaceAllString(s, "")
	s = htmlBreakRe.ReplaceAllString(s, "\n")
	s = htmlTagRe.ReplaceAllString(s, "")
	return html.UnescapeString(s)
}
