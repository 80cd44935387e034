package pattern

import "github.com/mhollis/veil/internal/redact"

// Built-in rules for structurally regular PII. These are high precision
// and treated as ground truth when they fire; fuzzier categories (names,
// organizations, addresses) belong to the entity recognizer.
//
// Order matters within a label: on an overlap tie the earlier-declared
// rule wins. Configured rules are appended after these.
var builtinRules = []RuleDef{
	{
		Label:   string(redact.LabelEmail),
		Name:    "email",
		Pattern: `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
	},
	{
		// North American formats with optional country code:
		// (555) 123-4567, 555-123-4567, +1 555 123 4567. The boundary
		// anchors keep the rule out of longer digit runs (card numbers,
		// order IDs).
		Label:   string(redact.LabelPhoneNumber),
		Name:    "phone_nanp",
		Pattern: `\b(?:\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`,
	},
	{
		// Australian mobile format: 0422 111 222, 0422111222
		Label:   string(redact.LabelPhoneNumber),
		Name:    "phone_au",
		Pattern: `\b\d{4}\s?\d{3}\s?\d{3}\b`,
	},
}

// BuiltinRules returns a copy of the built-in rule definitions.
func BuiltinRules() []RuleDef {
	out := make([]RuleDef, len(builtinRules))
	copy(out, builtinRules)
	return out
}
