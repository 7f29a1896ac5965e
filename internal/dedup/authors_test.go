package dedup

import (
	"testing"
)

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple lowercase",
			input:    "John Smith",
			expected: "john smith",
		},
		{
			name:     "extra whitespace",
			input:    "  John   Smith  ",
			expected: "john smith",
		},
		{
			name:     "last comma first format",
			input:    "SMITH, John",
			expected: "john smith",
		},
		{
			name:     "apostrophe removed",
			input:    "O'Brien",
			expected: "obrien",
		},
		{
			name:     "periods removed",
			input:    "J. K. Rowling",
			expected: "j k rowling",
		},
		{
			name:     "hyphens removed",
			input:    "Mary-Jane Watson",
			expected: "maryjane watson",
		},
		{
			name:     "all caps last comma first",
			input:    "DOE, Jane",
			expected: "jane doe",
		},
		{
			name:     "already normalized",
			input:    "john smith",
			expected: "john smith",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "only whitespace",
			input:    "   ",
			expected: "",
		},
		{
			name:     "unicode accented characters preserved",
			input:    "José García",
			expected: "josé garcía",
		},
		{
			name:     "last comma first with extra spaces",
			input:    "  Smith ,  John  ",
			expected: "john smith",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := NormalizeName(tt.input)
			if got != tt.expected {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
