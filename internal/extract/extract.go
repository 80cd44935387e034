// Package extract recovers labeled PII spans from paired documents: an
// original and a version where each PII substring was replaced by a
// placeholder token such as [NAME]. The recovered spans and labels feed
// the entity recognizer's training procedure.
//
// The redacted document is treated as ground truth for segment
// boundaries: both strings are walked in lockstep, literal runs must
// match byte-for-byte, and each placeholder consumes original text up to
// the first point where the following literal run resumes matching. Any
// document that cannot be aligned that way (edits beyond placeholder
// substitution, adjacent placeholders with no separator) is rejected
// with an *AlignmentError rather than guessed at.
package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/mhollis/veil/internal/redact"
)

// LabeledSpan is one recovered annotation: a half-open byte range in the
// original text and its PII label.
type LabeledSpan struct {
	Start int          `json:"start"`
	End   int          `json:"end"`
	Label redact.Label `json:"label"`
}

// Example is a single training example: text with its non-overlapping
// annotations, sorted ascending by Start.
type Example struct {
	Text  string        `json:"text"`
	Spans []LabeledSpan `json:"spans"`
}

// AlignmentError reports that a redacted document is not derivable from
// its original by placeholder substitution alone. Pos is the byte offset
// in the redacted document where alignment broke down; Context is a
// compact diff of the two documents around the divergence.
type AlignmentError struct {
	Pos     int
	Reason  string
	Context string
}

func (e *AlignmentError) Error() string {
	if e.Context == "" {
		return fmt.Sprintf("cannot align redacted text at offset %d: %s", e.Pos, e.Reason)
	}
	return fmt.Sprintf("cannot align redacted text at offset %d: %s (diff: %s)", e.Pos, e.Reason, e.Context)
}

// Extractor locates placeholder tokens for a fixed placeholder table.
type Extractor struct {
	tokenRE *regexp.Regexp
	labels  map[string]redact.Label // token -> label
}

// New creates an Extractor for the given placeholder table. A nil table
// uses the default [LABEL] tokens.
func New(placeholders redact.Placeholders) *Extractor {
	if placeholders == nil {
		placeholders = redact.DefaultPlaceholders()
	}

	labels := make(map[string]redact.Label, len(redact.AllLabels()))
	tokens := make([]string, 0, len(redact.AllLabels()))
	for _, l := range redact.AllLabels() {
		tok := placeholders.For(l)
		labels[tok] = l
		tokens = append(tokens, tok)
	}
	// Longer tokens first so one placeholder being a prefix of another
	// cannot shadow it in the alternation.
	sort.Slice(tokens, func(i, j int) bool { return len(tokens[i]) > len(tokens[j]) })
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = regexp.QuoteMeta(tok)
	}

	return &Extractor{
		tokenRE: regexp.MustCompile(strings.Join(quoted, "|")),
		labels:  labels,
	}
}

// Extract aligns redacted against original and returns the recovered
// spans, non-overlapping and sorted ascending by start. Placeholders at
// the very start or end of the text are supported.
func (x *Extractor) Extract(original, redacted string) ([]LabeledSpan, error) {
	tokens := x.tokenRE.FindAllStringIndex(redacted, -1)
	if len(tokens) == 0 {
		if original != redacted {
			return nil, x.errAt(0, "no placeholders found but documents differ", original, redacted)
		}
		return nil, nil
	}

	var spans []LabeledSpan
	oi, ri := 0, 0
	for i, tok := range tokens {
		ts, te := tok[0], tok[1]
		label := x.labels[redacted[ts:te]]

		// Literal run before this placeholder must match in lockstep.
		lit := redacted[ri:ts]
		if lit == "" && ts > 0 {
			return nil, x.errAt(ts, "adjacent placeholders with no literal separator", original, redacted)
		}
		if !strings.HasPrefix(original[oi:], lit) {
			return nil, x.errAt(ri, "literal text does not match original", original, redacted)
		}
		oi += len(lit)
		ri = te

		// Consume original text for the placeholder, up to the point
		// where the following literal run resumes.
		var end int
		if i+1 < len(tokens) {
			next := redacted[te:tokens[i+1][0]]
			idx := strings.Index(original[oi:], next)
			if next == "" || idx < 0 {
				return nil, x.errAt(te, "cannot locate literal text after placeholder", original, redacted)
			}
			end = oi + idx
		} else {
			// Last placeholder: the trailing literal anchors at the end
			// of the original.
			trailing := redacted[te:]
			end = len(original) - len(trailing)
			if end < oi || !strings.HasSuffix(original, trailing) {
				return nil, x.errAt(te, "trailing literal text does not match original", original, redacted)
			}
		}
		if end == oi {
			return nil, x.errAt(ts, "placeholder covers an empty range", original, redacted)
		}

		spans = append(spans, LabeledSpan{Start: oi, End: end, Label: label})
		oi = end
	}

	// Everything after the last placeholder was anchored above; the final
	// lockstep check catches originals with leftover unmatched text.
	if original[oi:] != redacted[ri:] {
		return nil, x.errAt(ri, "text after last placeholder does not match original", original, redacted)
	}
	return spans, nil
}

func (x *Extractor) errAt(pos int, reason, original, redacted string) *AlignmentError {
	return &AlignmentError{Pos: pos, Reason: reason, Context: diffContext(original, redacted)}
}

// maxDiffContext bounds the rendered hunk text in error messages.
const maxDiffContext = 40

// diffContext renders a compact original/redacted diff for error messages.
func diffContext(original, redacted string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(original, redacted, false))

	var b strings.Builder
	for _, d := range diffs {
		text := d.Text
		if len(text) > maxDiffContext {
			text = text[:maxDiffContext] + "…"
		}
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			fmt.Fprintf(&b, "-%q", text)
		case diffmatchpatch.DiffInsert:
			fmt.Fprintf(&b, "+%q", text)
		default:
			// Equal runs collapse to their length to keep errors short.
			fmt.Fprintf(&b, "=%d", len(d.Text))
		}
	}
	return b.String()
}
