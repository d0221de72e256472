package receipt

import (
	"fmt"
	"strings"
)

const trailerFeedLines = 3

var divider = strings.Repeat("-", LineWidth)

// Format renders an order into a receipt document for 32-column thermal
// stock. It is a pure function: the same order and business name always
// produce the same document. No currency symbol is emitted; all amounts
// are fixed two-decimal.
func Format(order Order, businessName string) Document {
	lines := make([]Line, 0, len(order.Items)*2+16)

	lines = append(lines, Line{Text: headerLine(businessName), Directives: Bold | Center})
	lines = append(lines, Line{Text: "Order: " + order.OrderNumber})
	lines = append(lines, Line{Text: order.Date.Format("2006-01-02 15:04")})

	if order.Type != Sale {
		lines = append(lines, Line{Text: "*** " + string(order.Type) + " ***", Directives: Center})
	}

	lines = append(lines, Line{Text: divider})

	for _, item := range order.Items {
		lines = append(lines, Line{Text: truncate(item.Name, maxItemName)})
		lines = append(lines, Line{Text: fmt.Sprintf("  %d x %s = %s",
			item.Quantity, item.UnitPrice.StringFixed(2), item.LineTotal.StringFixed(2))})
	}

	lines = append(lines, Line{Text: divider})
	lines = append(lines, Line{Text: "SUBTOTAL: " + order.Subtotal.StringFixed(2)})
	if order.DiscountAmount.IsPositive() {
		lines = append(lines, Line{Text: "DISCOUNT: -" + order.DiscountAmount.StringFixed(2)})
	}
	lines = append(lines, Line{Text: "TAX: " + order.Tax.StringFixed(2)})
	lines = append(lines, Line{Text: "TOTAL: " + order.Total.StringFixed(2), Directives: Bold})
	lines = append(lines, Line{Text: divider})

	lines = append(lines, Line{Text: "Thank you!", Directives: Center})
	lines = append(lines, Line{Text: "Please come again", Directives: Center})

	for i := 0; i < trailerFeedLines; i++ {
		lines = append(lines, Line{Directives: Feed})
	}
	lines = append(lines, Line{Directives: Cut})

	return Document{Lines: lines}
}

// headerLine builds the banner: business name uppercased, truncated to 28
// characters, suffixed with " POS", then padded or truncated to exactly
// 32 characters.
func headerLine(businessName string) string {
	name := truncate(strings.ToUpper(businessName), maxBusinessName)
	return pad(name+" POS", LineWidth)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func pad(s string, width int) string {
	r := []rune(s)
	if len(r) >= width {
		return string(r[:width])
	}
	return s + strings.Repeat(" ", width-len(r))
}
