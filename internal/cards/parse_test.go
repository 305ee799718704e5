package cards

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTSV(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Candidate
	}{
		{
			name: "tab separated",
			in:   "What is ATP?\tEnergy currency\nWhat pumps blood?\tThe heart\n",
			want: []Candidate{
				{Front: "What is ATP?", Back: "Energy currency"},
				{Front: "What pumps blood?", Back: "The heart"},
			},
		},
		{
			name: "blank lines and padding ignored",
			in:   "\n   \n  Q  \t  A  \n\n",
			want: []Candidate{{Front: "Q", Back: "A"}},
		},
		{
			name: "pipe fallback",
			in:   "Q1 | A1",
			want: []Candidate{{Front: "Q1", Back: "A1"}},
		},
		{
			name: "comma fallback",
			in:   "Q1,A1",
			want: []Candidate{{Front: "Q1", Back: "A1"}},
		},
		{
			name: "tab wins over comma",
			in:   "Paris, France\tCapital",
			want: []Candidate{{Front: "Paris, France", Back: "Capital"}},
		},
		{
			name: "quotes stripped",
			in:   "\"Say \"\"hi\"\"\"\t\"hello\"",
			want: []Candidate{{Front: `Say "hi"`, Back: "hello"}},
		},
		{
			name: "extra fields joined into back",
			in:   "Q\tpart one\tpart two",
			want: []Candidate{{Front: "Q", Back: "part one part two"}},
		},
		{
			name: "line without separator skipped",
			in:   "Here are your cards:\nQ\tA",
			want: []Candidate{{Front: "Q", Back: "A"}},
		},
		{
			name: "empty front skipped",
			in:   "\tanswer only",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTSV(tt.in))
		})
	}
}

func TestParseTSV_ThenDedupe(t *testing.T) {
	parsed := ParseTSV("Q1\tA\nq1\tB\nQ2\tC")
	require.Len(t, parsed, 3)

	kept := Dedupe(parsed, []string{"Q2"})
	assert.Equal(t, []string{"Q1"}, fronts(kept))
}
