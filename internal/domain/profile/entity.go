package profile

import "time"

// Profile is a trader's risk profile, keyed by Telegram user ID.
// It is written whole when the setup wizard completes and replaced
// whole when the wizard is rerun; there are no partial updates.
type Profile struct {
	UserID    int64             `db:"user_id"`
	Answers   map[string]string `db:"-"`
	UpdatedAt time.Time         `db:"updated_at"`
}

// Question is a single setup-wizard step. Options, when present, are offered
// as quick-reply choices; free text is always accepted too.
type Question struct {
	Key     string
	Prompt  string
	Options []string
}

// Questions is the configured setup flow, in ask order. A saved profile
// contains exactly one answer per entry.
var Questions = []Question{
	{Key: "experience", Prompt: "Your perps experience?", Options: []string{"0-3m", "3-12m", ">12m"}},
	{Key: "capital", Prompt: "Capital allocated (USD)"},
	{Key: "risk", Prompt: "Max loss % per trade (e.g. 2)"},
	{Key: "quote", Prompt: "Quote currency", Options: []string{"USDT", "USDC", "BTC"}},
	{Key: "timeframe", Prompt: "Timeframe", Options: []string{"scalp", "intraday", "swing", "position"}},
	{Key: "leverage", Prompt: "Leverage multiple (1 if none)"},
	{Key: "funding", Prompt: "Comfort paying funding every 8h?", Options: []string{"yes", "unsure", "prefer spot"}},
	{Key: "verbosity", Prompt: "Answer style", Options: []string{"concise", "detailed"}},
}

// Complete reports whether the profile has one answer for every configured question.
func (p *Profile) Complete() bool {
	if p == nil {
		return false
	}
	for _, q := range Questions {
		if p.Answers[q.Key] == "" {
			return false
		}
	}
	return true
}

// PromptContext renders the profile as key/value lines for inclusion in
// a completion prompt, in question order.
func (p *Profile) PromptContext() string {
	if p == nil {
		return ""
	}
	out := ""
	for _, q := range Questions {
		if v, ok := p.Answers[q.Key]; ok {
			out += q.Key + ": " + v + "\n"
		}
	}
	return out
}
