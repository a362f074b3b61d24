package pipeline

import (
	"math/rand"
	"strings"
)

// Scoring weights. The mention bonus short-circuits admission outright.
const (
	scoreMention    = 100
	scoreKeyword    = 30
	scoreQuestion   = 10
	scoreEmotional  = 5
	scoreLongText   = 15
	scoreVIP        = 20
	scoreFocus      = 30
	scoreEngaged    = 10
	scoreRandomSpan = 16 // random term in [0, 15]

	longTextLen = 100
)

// ScorerConfig tunes the interest scorer.
type ScorerConfig struct {
	BotNames  []string // names that count as addressing the bot in plain text
	Keywords  []string
	Threshold int
}

// ScoreInput carries the social flags the scorer needs alongside the message.
type ScoreInput struct {
	Msg       RawMessage
	VIP       bool
	Engaged   bool // bot has previously engaged with this author
	FocusMode bool // channel is in focus mode
}

// Scorer is the stateless interest scoring function. The random source is
// injected so tests can pin it.
type Scorer struct {
	cfg ScorerConfig
	rnd *rand.Rand
}

// NewScorer creates a scorer. rnd may be nil outside tests.
func NewScorer(cfg ScorerConfig, rnd *rand.Rand) *Scorer {
	return &Scorer{cfg: cfg, rnd: rnd}
}

// Score computes the interest score and matched-rule tags. A mention, reply
// to the bot, or the bot's name in text scores 100 and admits immediately.
func (s *Scorer) Score(in ScoreInput) (int, []string) {
	text := strings.ToLower(in.Msg.Text)

	if in.Msg.MentionsBot || s.namedInText(text) {
		return scoreMention, []string{"mention"}
	}

	score := 0
	var tags []string
	for _, kw := range s.cfg.Keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			score += scoreKeyword
			tags = append(tags, "keyword:"+kw)
		}
	}
	if strings.Contains(text, "?") {
		score += scoreQuestion
		tags = append(tags, "question")
	}
	if isEmotional(text) {
		score += scoreEmotional
		tags = append(tags, "emotional")
	}
	if len(in.Msg.Text) > longTextLen {
		score += scoreLongText
		tags = append(tags, "long")
	}
	if in.VIP {
		score += scoreVIP
		tags = append(tags, "vip")
	}
	if in.FocusMode {
		score += scoreFocus
		tags = append(tags, "focus")
	}
	if in.Engaged {
		score += scoreEngaged
		tags = append(tags, "engaged")
	}
	score += s.randTerm()
	return score, tags
}

// Admits reports whether a score clears the configured threshold.
func (s *Scorer) Admits(score int) bool {
	return score >= s.cfg.Threshold
}

func (s *Scorer) namedInText(lower string) bool {
	for _, name := range s.cfg.BotNames {
		if name != "" && strings.Contains(lower, strings.ToLower(name)) {
			return true
		}
	}
	return false
}

func (s *Scorer) randTerm() int {
	if s.rnd == nil {
		return rand.Intn(scoreRandomSpan)
	}
	return s.rnd.Intn(scoreRandomSpan)
}

// isEmotional detects exclamations, stretched words, and common emotive
// markers. Cheap heuristic, not sentiment analysis.
func isEmotional(lower string) bool {
	if strings.Contains(lower, "!") {
		return true
	}
	for _, m := range []string{"lol", "lmao", "omg", "wtf", "haha", "😂", "😭", "❤", "🔥"} {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
