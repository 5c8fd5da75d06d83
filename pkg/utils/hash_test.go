package utils

import "testing"

func TestHashPartsSeparatesBoundaries(t *testing.T) {
	if HashParts("ab", "c") == HashParts("a", "bc") {
		t.Error("expected different hashes for different part boundaries")
	}
	if HashParts("a", "b") != HashParts("a", "b") {
		t.Error("expected stable hash")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "hello…"},
		{"héllo", 2, "hé…"},
		{"anything", 0, "anything"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
