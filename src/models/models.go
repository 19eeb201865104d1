package models

import "time"

// EntryMarker says which side of a position a fill sits on, when the
// source distinguishes it. Sources that report whole round trips per
// row leave it empty.
type EntryMarker string

const (
	EntryIn   EntryMarker = "in"
	EntryOut  EntryMarker = "out"
	EntryBoth EntryMarker = "both"
)

// RawDeal is one broker-reported execution fill, as close to the source
// as possible. Parsers and the remote bridge produce these; they are
// never persisted directly.
type RawDeal struct {
	ExternalID  string      `json:"external_id"`
	PositionKey string      `json:"position_key"`
	Symbol      string      `json:"symbol"`
	SideHint    string      `json:"side_hint"`
	Price       float64     `json:"price"`
	Volume      float64     `json:"volume"`
	Profit      float64     `json:"profit"`
	Commission  float64     `json:"commission"`
	Swap        float64     `json:"swap"`
	Timestamp   time.Time   `json:"timestamp"`
	EntryMarker EntryMarker `json:"entry_marker"`
}

// Direction of a round-trip trade.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// CanonicalTrade is the reconciliation output: one fully closed
// round-trip position. Created once per reconciled group and never
// mutated; a re-import recomputes and merges by the natural key.
type CanonicalTrade struct {
	Symbol      string    `json:"symbol"`
	Direction   Direction `json:"direction"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Quantity    float64   `json:"quantity"`
	Pnl         float64   `json:"pnl"`
	PnlPercent  float64   `json:"pnl_percent"`
	OpenTime    time.Time `json:"open_time"`
	CloseTime   time.Time `json:"close_time"`
	Provider    string    `json:"provider"`
	Login       string    `json:"login"`
	PositionKey string    `json:"position_key"`
	ExternalID  string    `json:"external_id"`
	SourceKey   string    `json:"source_key"`
	Provenance  string    `json:"provenance"`
}

// Connection binds a user to a remote trading-account proxy.
type ConnectionStatus string

const (
	StatusCreated   ConnectionStatus = "created"
	StatusDeploying ConnectionStatus = "deploying"
	StatusConnected ConnectionStatus = "connected"
	StatusError     ConnectionStatus = "error"
)

type Connection struct {
	ID              string           `json:"id"`
	UserID          int64            `json:"-"`
	Platform        string           `json:"platform"`    // mt4 | mt5
	Environment     string           `json:"environment"` // demo | live
	Server          string           `json:"server"`
	Login           string           `json:"login"`
	RemoteAccountID string           `json:"remote_account_id"`
	CredentialHash  string           `json:"-"`
	Status          ConnectionStatus `json:"status"`
	LastImportAt    *time.Time       `json:"last_import_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// ImportWindow is one bounded [From, To) slice of an import range.
type ImportWindow struct {
	From time.Time
	To   time.Time
}

// ImportSummary is returned to the caller of a remote import.
type ImportSummary struct {
	Imported     int `json:"imported"`
	Upserted     int `json:"upserted"`
	TotalFetched int `json:"total_fetched"`
}

// FileProvider is the provider tag for trades imported from report
// files, as opposed to a remote broker bridge provider.
const FileProvider = "report"

// SourceKey builds the stable natural key that makes repeated
// reconciliations of overlapping data merge instead of duplicate.
func SourceKey(provider, login, positionKey string) string {
	return provider + ":" + login + ":" + positionKey
}
