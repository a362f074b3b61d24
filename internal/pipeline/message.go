// Package pipeline implements the event-admission path: hard filtering,
// interest scoring, rate limiting, per-author aggregation, and the paced
// processing queue.
package pipeline

import "time"

// RawMessage is an inbound chat event as delivered by the gateway. Owned by
// the pipeline until consumed.
type RawMessage struct {
	ID          string
	ChannelID   string
	AuthorID    string
	AuthorName  string
	Text        string
	ReplyToID   string
	IsDM        bool
	IsBot       bool // authored by any bot account
	IsSelf      bool // authored by this bot itself
	MentionsBot bool
	At          time.Time
}

// Reject reasons, used as verdict tags and metric labels.
const (
	ReasonSelf        = "self"
	ReasonDM          = "dm"
	ReasonEmpty       = "empty"
	ReasonCommand     = "command"
	ReasonSilence     = "silence"
	ReasonLinkOnly    = "link_only"
	ReasonTooShort    = "too_short"
	ReasonSpamRepeat  = "spam_repeat"
	ReasonLowInterest = "low_interest"
	ReasonRateLimited = "rate_limited"
	ReasonInternal    = "internal_error"
)

// Verdict is the pipeline's admit/reject decision. Derived, never persisted.
type Verdict struct {
	Admitted bool
	Score    int
	Tags     []string
	Reason   string // set when rejected
}
