package model

import (
	"fmt"

	"github.com/pierrot-lc/snake-search/format"
)

// SummaryRow describes one parameter tensor for display.
type SummaryRow struct {
	Name   string
	Shape  string
	Params int
}

// Summary lists every parameter tensor with its shape and size, in the
// same order as Params.
func (p *Policy) Summary() []SummaryRow {
	var rows []SummaryRow
	for _, param := range p.Params() {
		r, c := param.Value.Dims()
		rows = append(rows, SummaryRow{
			Name:   param.Name,
			Shape:  fmt.Sprintf("%d x %d", r, c),
			Params: r * c,
		})
	}
	return rows
}

// Describe returns a short human readable description of the policy.
func (p *Policy) Describe() string {
	return fmt.Sprintf("%s parameters, %d glimpse tokens, %d layer memory",
		format.HumanNumber(uint64(p.NumParams())), p.numTokens, p.NumLayers)
}
