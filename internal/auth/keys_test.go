package auth

import (
	"testing"
)

func TestHashToken(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:     "whitespace only",
			input:    "  \t",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashToken(tt.input); got != tt.expected {
				t.Errorf("HashToken() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestHashToken_TrimsWhitespace(t *testing.T) {
	got := HashToken("  field-token  ")
	if len(got) != 64 {
		t.Fatalf("HashToken() returned %d chars, want 64", len(got))
	}
	if want := HashToken("field-token"); got != want {
		t.Errorf("HashToken() with whitespace = %v, want %v", got, want)
	}
}

func TestVerify(t *testing.T) {
	digest := HashToken("field-token")

	if !Verify("field-token", digest) {
		t.Error("expected matching token to verify")
	}
	if Verify("field-token-2", digest) {
		t.Error("expected different token to fail")
	}
	if Verify("", digest) {
		t.Error("expected empty token to fail")
	}
	if Verify("field-token", "not-a-digest") {
		t.Error("expected malformed digest to fail")
	}
}
