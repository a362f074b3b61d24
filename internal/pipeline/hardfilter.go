package pipeline

import (
	"regexp"
	"strings"
)

var linkOnlyRe = regexp.MustCompile(`^(?:\s*https?://\S+\s*)+$`)

// HardFilterConfig tunes the stateless exclusion predicate.
type HardFilterConfig struct {
	CommandPrefixes []string
	SilencePrefixes []string
	MinLength       int
}

// DefaultHardFilterConfig returns production defaults.
func DefaultHardFilterConfig() HardFilterConfig {
	return HardFilterConfig{
		CommandPrefixes: []string{"!", "/", "$"},
		SilencePrefixes: []string{"..."},
		MinLength:       3,
	}
}

// HardFilter is the pure exclusion predicate. It carries no mutable state;
// the spam-repeat signal is passed in from the pipeline's verdict history.
type HardFilter struct {
	cfg HardFilterConfig
}

// NewHardFilter creates a filter with the given config.
func NewHardFilter(cfg HardFilterConfig) *HardFilter {
	if cfg.MinLength <= 0 {
		cfg.MinLength = 3
	}
	return &HardFilter{cfg: cfg}
}

// Check returns a non-empty reject reason when the message must not be
// considered for a response. repeats is how many consecutive prior messages
// from this author were spam-pattern repeats of each other.
func (f *HardFilter) Check(msg RawMessage, repeats int) string {
	if msg.IsBot {
		return ReasonSelf
	}
	if msg.IsDM {
		return ReasonDM
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return ReasonEmpty
	}
	for _, p := range f.cfg.SilencePrefixes {
		if strings.HasPrefix(text, p) {
			return ReasonSilence
		}
	}
	for _, p := range f.cfg.CommandPrefixes {
		if strings.HasPrefix(text, p) {
			return ReasonCommand
		}
	}
	if linkOnlyRe.MatchString(text) {
		return ReasonLinkOnly
	}
	if len([]rune(text)) < f.cfg.MinLength {
		return ReasonTooShort
	}
	if repeats >= 2 {
		return ReasonSpamRepeat
	}
	return ""
}
