package pipeline

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// CleanRules configures the body cleaner. A list present in the YAML
// override file replaces the matching default list; absent keys keep
// their defaults.
type CleanRules struct {
	// QuoteMarkers cut the body at the first line starting with one.
	QuoteMarkers []string `yaml:"quote_markers"`
	// ReplyHeaderPatterns are per-line regexes with the same cut
	// behavior as QuoteMarkers.
	ReplyHeaderPatterns []string `yaml:"reply_header_patterns"`
	// SignatureClosings start a signature block when one begins a line
	// near the end of the body.
	SignatureClosings []string `yaml:"signature_closings"`
	// DisclaimerPatterns drop any line they match.
	DisclaimerPatterns []string `yaml:"disclaimer_patterns"`
}

// DefaultCleanRules covers the reply and signature conventions of the
// major mail clients.
func DefaultCleanRules() CleanRules {
	return CleanRules{
		QuoteMarkers: []string{
			"-----Original Message-----",
			"---------- Forwarded message",
			"Begin forwarded message:",
			"________________________________",
		},
		ReplyHeaderPatterns: []string{
			`(?i)^on .{0,200}wrote:$`,
		},
		SignatureClosings: []string{
			"best regards",
			"kind regards",
			"warm regards",
			"regards,",
			"best,",
			"thanks,",
			"thank you,",
			"cheers,",
			"sincerely",
			"sent from my",
		},
		DisclaimerPatterns: []string{
			`(?i)unsubscribe`,
			`(?i)confidential(ity)? notice`,
			`(?i)intended (solely )?for the (named )?recipient`,
			`(?i)this (e-?mail|message).{0,80}(confidential|privileged)`,
			`(?i)view (this|it) in your browser`,
		},
	}
}

// LoadCleanRules reads rules from path, merged over the defaults. An
// empty path returns the defaults unchanged.
func LoadCleanRules(path string) (CleanRules, error) {
	rules := DefaultCleanRules()
	if path == "" {
		return rules, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return rules, eris.Wrap(err, "pipeline: read clean rules")
	}
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return rules, eris.Wrap(err, "pipeline: parse clean rules")
	}
	return rules, nil
}
