package model

import "testing"

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  string
	}{
		{"lowercases", "Alice@Example.COM", "alice@example.com"},
		{"trims spaces", "  bob@example.com ", "bob@example.com"},
		{"unicode fold", "STRASSE@example.com", "strasse@example.com"},
		{"idn domain", "taro@例え.jp", "taro@xn--r8jz45g.jp"},
		{"punycode domain", "taro@XN--R8JZ45G.jp", "taro@xn--r8jz45g.jp"},
		{"no at sign", "Not-An-Email", "not-an-email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeEmail(tt.email); got != tt.want {
				t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.email, got, tt.want)
			}
		})
	}
}
