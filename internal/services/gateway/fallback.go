package gateway

import "fmt"

// Static answers used when every backend is down. They are deliberately
// generic but reference the requested subject so the reply never reads as
// an error page.
var fallbackTexts = map[Kind]string{
	KindSetup: "⚠️ Analysis engine is temporarily unavailable.\n\n" +
		"General guidance for %s while we recover:\n" +
		"• Size the position so a full stop-out costs under your per-trade risk limit\n" +
		"• Place the stop at a structural level, not a round number\n" +
		"• Prefer limit entries near support/resistance over market orders\n" +
		"• Avoid entering right before funding or major data releases\n\n" +
		"Try again in a few minutes for a full setup.",
	KindMarket: "⚠️ Analysis engine is temporarily unavailable.\n\n" +
		"While we recover, for %s check:\n" +
		"• Current funding rate and open interest trend\n" +
		"• Distance to nearest high-volume nodes\n" +
		"• Whether price is above or below the daily open\n\n" +
		"Try again in a few minutes for a full market read.",
}

// fallbackFor renders the static answer for a subject and kind. The kind is
// always one of the known constants by the time we get here, so the lookup
// cannot miss.
func fallbackFor(subject string, kind Kind) string {
	tmpl, ok := fallbackTexts[kind]
	if !ok {
		tmpl = fallbackTexts[KindMarket]
	}
	return fmt.Sprintf(tmpl, subject)
}
