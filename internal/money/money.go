// Package money formats decimal amounts for reasoning trails and operator output.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var printer = message.NewPrinter(language.English)

// Format renders d as dollars with grouping and two decimals, e.g. "$1,500,000.00".
func Format(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	whole := d.Truncate(0)
	cents := d.Sub(whole).Shift(2).Round(0).IntPart()
	units := whole.IntPart()
	if cents == 100 {
		units++
		cents = 0
	}
	return sign + "$" + printer.Sprintf("%d", units) + fmt.Sprintf(".%02d", cents)
}

// Percent renders a 0..1 fraction as a percentage with one decimal, e.g. "42.5%".
func Percent(fraction decimal.Decimal) string {
	f, _ := fraction.Float64()
	return printer.Sprint(number.Percent(f, number.MaxFractionDigits(1)))
}
