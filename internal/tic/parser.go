// internal/tic/parser.go
package tic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"tic-relay/internal/model"
)

var (
	ErrEmptyLine    = errors.New("empty line")
	ErrUnknownTag   = errors.New("unknown tag")
	ErrMissingValue = errors.New("missing value")
	ErrInvalidValue = errors.New("invalid value")
)

// Parser turns raw teleinformation lines into readings
type Parser struct {
	tags map[string]Tag
}

// NewParser creates a parser for the given tag table. A nil table selects DefaultTags.
func NewParser(tags []Tag) *Parser {
	if tags == nil {
		tags = DefaultTags
	}

	p := &Parser{tags: make(map[string]Tag, len(tags))}
	for _, tag := range tags {
		p.tags[tag.Name] = tag
	}
	return p
}

// Parse extracts a reading from one line. The first whitespace-separated
// token selects the tag, the second carries the value; anything after
// that, such as the frame checksum, is ignored.
func (p *Parser) Parse(line string) (model.Reading, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return model.Reading{}, ErrEmptyLine
	}

	tag, ok := p.tags[fields[0]]
	if !ok {
		return model.Reading{}, fmt.Errorf("%w: %q", ErrUnknownTag, fields[0])
	}

	if len(fields) < 2 {
		return model.Reading{}, fmt.Errorf("%w for tag %s", ErrMissingValue, tag.Name)
	}

	value, err := parseValue(fields[1], tag.Kind)
	if err != nil {
		return model.Reading{}, fmt.Errorf("%w for tag %s: %q", ErrInvalidValue, tag.Name, fields[1])
	}

	return model.Reading{
		Tag:    tag.Name,
		Metric: tag.Metric,
		Value:  value,
		Unit:   tag.Unit,
	}, nil
}

func parseValue(raw string, kind model.ValueKind) (decimal.Decimal, error) {
	switch kind {
	case model.ValueKindDecimal:
		return decimal.NewFromString(raw)
	default:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromInt(n), nil
	}
}

// Reason returns a short label for a parse error, used in logs and metrics
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyLine):
		return "empty_line"
	case errors.Is(err, ErrUnknownTag):
		return "unknown_tag"
	case errors.Is(err, ErrMissingValue):
		return "missing_value"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	default:
		return "other"
	}
}
