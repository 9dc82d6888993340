package models

import "time"

type MarketType string

const (
	MTSupplies MarketType = "supplies"
	MTServices MarketType = "services"
	MTWorks    MarketType = "works"
)

func ValidMarketType(t MarketType) bool {
	switch t {
	case MTSupplies, MTServices, MTWorks:
		return true
	default:
		return false
	}
}

// Document is a requirement template administered outside this core.
// MarketType nil means the document applies to every market type.
type Document struct {
	Id          int64
	Name        string
	Description string
	Mandatory   bool
	Category    string
	MarketType  *MarketType
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ApplicableFor reports whether the document may be required on a market of type t.
func (d Document) ApplicableFor(t MarketType) bool {
	return d.MarketType == nil || *d.MarketType == t
}
