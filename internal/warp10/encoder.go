// internal/warp10/encoder.go
package warp10

import (
	"net/url"
	"sort"
	"strings"

	"tic-relay/internal/model"
)

// Encoder renders readings in the Warp 10 GTS input format
type Encoder struct {
	labels string
}

// NewEncoder creates an encoder attaching the given static labels to every series
func NewEncoder(labels map[string]string) *Encoder {
	return &Encoder{labels: formatLabels(labels)}
}

// Encode returns the update message for one reading, with no timestamp,
// location or elevation so the endpoint stamps it on arrival:
//
//	// tic.index.wh{} 5678
func (e *Encoder) Encode(reading model.Reading) string {
	var sb strings.Builder
	sb.Grow(len(reading.Metric) + len(e.labels) + 16)

	sb.WriteString("// ")
	sb.WriteString(reading.Metric)
	sb.WriteByte('{')
	sb.WriteString(e.labels)
	sb.WriteString("} ")
	sb.WriteString(reading.Value.String())

	return sb.String()
}

// formatLabels renders labels sorted by name so output is stable
func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, url.QueryEscape(name)+"="+url.QueryEscape(labels[name]))
	}
	return strings.Join(pairs, ",")
}
