// internal/tic/tags.go
package tic

import "tic-relay/internal/model"

// Tag describes how one TIC label maps onto a metric
type Tag struct {
	Name   string
	Metric string
	Unit   string
	Kind   model.ValueKind
}

// DefaultTags is the tag table used when no other is given
var DefaultTags = []Tag{
	{Name: "PAPP", Metric: "tic.apparentpower.va", Unit: "VA", Kind: model.ValueKindInteger},
	{Name: "BASE", Metric: "tic.index.wh", Unit: "Wh", Kind: model.ValueKindInteger},
	{Name: "IINST", Metric: "tic.current.a", Unit: "A", Kind: model.ValueKindInteger},
	{Name: "IMAX", Metric: "tic.maxcurrent.a", Unit: "A", Kind: model.ValueKindInteger},
	{Name: "ISOUSC", Metric: "tic.subscribedcurrent.a", Unit: "A", Kind: model.ValueKindInteger},
	{Name: "HCHC", Metric: "tic.index.hc.wh", Unit: "Wh", Kind: model.ValueKindInteger},
	{Name: "HCHP", Metric: "tic.index.hp.wh", Unit: "Wh", Kind: model.ValueKindInteger},
}
