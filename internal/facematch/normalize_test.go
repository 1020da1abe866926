package facematch

import "testing"

func TestNormalizeTargetName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"photo.jpg", "photo.jpg"},
		{"albums/2024/photo.jpg", "photo.jpg"},
		{`C:\Users\me\photo.jpg`, "photo.jpg"},
		{"  spaced.png  ", "spaced.png"},
		{"Jir\u030ci\u0301.jpg", "Jiří.jpg"}, // NFD input composes to NFC
		{"tab\there.png", "tabhere.png"},
		{"", ""},
		{"/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := NormalizeTargetName(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeTargetName(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
