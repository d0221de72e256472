// Package receipt builds printable receipt documents from order data
package receipt

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Geometry of 32-column thermal stock
const (
	LineWidth       = 32
	maxBusinessName = 28
	maxItemName     = 24
)

// OrderType identifies the kind of transaction being printed
type OrderType string

const (
	Sale   OrderType = "SALE"
	Refund OrderType = "REFUND"
	Return OrderType = "RETURN"
	Test   OrderType = "TEST"
)

// Item is a single order line with pricing
type Item struct {
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Order is the input to the formatter, supplied by the orders subsystem
type Order struct {
	OrderNumber    string
	Date           time.Time
	Type           OrderType
	Items          []Item
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	Tax            decimal.Decimal
	Total          decimal.Decimal
}

// Directive is a set of control flags attached to a document line
type Directive uint8

const (
	Bold Directive = 1 << iota
	Center
	Cut
	Feed
)

// Has reports whether the flag is set
func (d Directive) Has(flag Directive) bool {
	return d&flag != 0
}

// Line is one logical receipt line with its control directives
type Line struct {
	Text       string
	Directives Directive
}

// Document is an ordered sequence of lines. It is built once per print
// request and never mutated afterwards.
type Document struct {
	Lines []Line
}

// PlainText returns the human-readable text of the document, one line
// per row, without control directives. This is what gets stored in the
// job audit log.
func (d Document) PlainText() string {
	parts := make([]string, 0, len(d.Lines))
	for _, ln := range d.Lines {
		if ln.Directives.Has(Cut) {
			continue
		}
		parts = append(parts, ln.Text)
	}
	return strings.Join(parts, "\n")
}
