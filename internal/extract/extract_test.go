package extract

import (
	"errors"
	"testing"

	"github.com/mhollis/veil/internal/redact"
)

func TestExtract(t *testing.T) {
	x := New(nil)

	tests := []struct {
		name     string
		original string
		redacted string
		want     []LabeledSpan
	}{
		{
			name:     "single middle placeholder",
			original: "Contact Sarah Thompson today",
			redacted: "Contact [NAME] today",
			want: []LabeledSpan{
				{Start: 8, End: 22, Label: redact.LabelName},
			},
		},
		{
			name:     "multiple placeholders",
			original: "Contact Sarah Thompson at sarah.thompson@company.com.au or 0422 111 222.",
			redacted: "Contact [NAME] at [EMAIL] or [PHONE_NUMBER].",
			want: []LabeledSpan{
				{Start: 8, End: 22, Label: redact.LabelName},
				{Start: 26, End: 55, Label: redact.LabelEmail},
				{Start: 59, End: 71, Label: redact.LabelPhoneNumber},
			},
		},
		{
			name:     "placeholder at start",
			original: "Sarah Thompson called",
			redacted: "[NAME] called",
			want: []LabeledSpan{
				{Start: 0, End: 14, Label: redact.LabelName},
			},
		},
		{
			name:     "placeholder at end",
			original: "email me at a@b.co",
			redacted: "email me at [EMAIL]",
			want: []LabeledSpan{
				{Start: 12, End: 18, Label: redact.LabelEmail},
			},
		},
		{
			name:     "placeholder is the whole document",
			original: "Acme Holdings Pty Ltd",
			redacted: "[ORGANIZATION]",
			want: []LabeledSpan{
				{Start: 0, End: 21, Label: redact.LabelOrganization},
			},
		},
		{
			name:     "identical documents yield no spans",
			original: "nothing was redacted",
			redacted: "nothing was redacted",
			want:     nil,
		},
		{
			name:     "multibyte literal text",
			original: "café: José Martínez, 12 Rue de la Paix",
			redacted: "café: [NAME], [ADDRESS]",
			want: []LabeledSpan{
				{Start: 7, End: 22, Label: redact.LabelName},
				{Start: 24, End: 41, Label: redact.LabelAddress},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := x.Extract(tt.original, tt.redacted)
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Extract() = %d spans, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("span %d = %+v, want %+v", i, got[i], tt.want[i])
				}
				sub := tt.original[got[i].Start:got[i].End]
				if sub == "" {
					t.Errorf("span %d covers empty text", i)
				}
			}
		})
	}
}

func TestExtractErrors(t *testing.T) {
	x := New(nil)

	tests := []struct {
		name     string
		original string
		redacted string
	}{
		{
			name:     "documents differ without placeholders",
			original: "hello world",
			redacted: "hello there",
		},
		{
			name:     "adjacent placeholders",
			original: "Sarah Thompson a@b.co",
			redacted: "Sarah Thompson [NAME][EMAIL]",
		},
		{
			name:     "foreign edit before placeholder",
			original: "Contact Sarah today",
			redacted: "Reach [NAME] today",
		},
		{
			name:     "foreign edit after last placeholder",
			original: "Contact Sarah today",
			redacted: "Contact [NAME] tonight",
		},
		{
			name:     "literal after placeholder missing from original",
			original: "Contact Sarah",
			redacted: "Contact [NAME] immediately",
		},
		{
			name:     "placeholder covers empty range",
			original: "Contact  today",
			redacted: "Contact [NAME] today",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := x.Extract(tt.original, tt.redacted)
			var alignErr *AlignmentError
			if !errors.As(err, &alignErr) {
				t.Fatalf("Extract() error = %v, want *AlignmentError", err)
			}
			if alignErr.Reason == "" {
				t.Error("AlignmentError.Reason is empty")
			}
			if alignErr.Context == "" {
				t.Error("AlignmentError.Context is empty, want a diff summary")
			}
		})
	}
}

func TestExtractCustomPlaceholders(t *testing.T) {
	placeholders, err := redact.ParsePlaceholders(map[string]string{
		"NAME":  "<person>",
		"EMAIL": "<person-email>",
	})
	if err != nil {
		t.Fatalf("ParsePlaceholders() error = %v", err)
	}
	x := New(placeholders)

	original := "Sarah wrote to a@b.co"
	redacted := "<person> wrote to <person-email>"
	got, err := x.Extract(original, redacted)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want := []LabeledSpan{
		{Start: 0, End: 5, Label: redact.LabelName},
		{Start: 15, End: 21, Label: redact.LabelEmail},
	}
	if len(got) != len(want) {
		t.Fatalf("Extract() = %+v, want %+v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("span %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestExtractRoundTrip(t *testing.T) {
	// Substituting the recovered spans back into the original must
	// reproduce the redacted document exactly.
	x := New(nil)
	original := "Dear Sarah Thompson, your parcel ships to 12 Rue de la Paix. Questions? a@b.co or 0422 111 222."
	redacted := "Dear [NAME], your parcel ships to [ADDRESS]. Questions? [EMAIL] or [PHONE_NUMBER]."

	spans, err := x.Extract(original, redacted)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	placeholders := redact.DefaultPlaceholders()
	rebuilt := ""
	prev := 0
	for _, sp := range spans {
		rebuilt += original[prev:sp.Start] + placeholders.For(sp.Label)
		prev = sp.End
	}
	rebuilt += original[prev:]

	if rebuilt != redacted {
		t.Errorf("round trip = %q, want %q", rebuilt, redacted)
	}
}
