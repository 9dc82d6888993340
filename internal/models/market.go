package models

import "time"

// Market is a published tender, owned by exactly one editor. Configuration is
// single-shot: the market and its requirements are written once and never
// mutated by this core.
type Market struct {
	Id          string
	EditorId    string
	Title       string
	Description string
	Deadline    time.Time
	FastTrackId string
	MarketType  MarketType
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (m Market) Open(now time.Time) bool {
	return now.Before(m.Deadline)
}

// AcceptsApplications reports whether candidates may still interact with the market.
func (m Market) AcceptsApplications(now time.Time) bool {
	return m.Active && m.Open(now)
}

// Requirement binds a market to a document. Required true means mandatory,
// false means optional-but-selected by the buyer. Unique per (market, document).
type Requirement struct {
	Id         int64
	MarketId   string
	DocumentId int64
	Required   bool
	Document   Document
}

// MarketDraft carries the validated input of market configuration. It is an
// explicit value object: nothing about a draft lives in ambient session state.
type MarketDraft struct {
	Title               string
	Description         string
	Deadline            time.Time
	MarketType          MarketType
	OptionalDocumentIds []int64
}
