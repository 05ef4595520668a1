// internal/model/reading.go
package model

import "github.com/shopspring/decimal"

// ValueKind is the numeric type a tag's value must parse as
type ValueKind string

const (
	ValueKindInteger ValueKind = "INTEGER"
	ValueKindDecimal ValueKind = "DECIMAL"
)

// Reading is one parsed metric extracted from a single device line.
// It is created per line and consumed immediately.
type Reading struct {
	Tag    string          `json:"tag"`
	Metric string          `json:"metric"`
	Value  decimal.Decimal `json:"value"`
	Unit   string          `json:"unit"`
}
