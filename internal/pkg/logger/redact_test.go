package logger

import "testing"

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"maria.huber@example.com", "ma***@example.com"},
		{"ab@web.de", "***@web.de"},
		{"a@web.de", "***@web.de"},
		{"not-an-address", "***@***"},
		{"two@at@signs", "***@***"},
	}
	for _, tt := range tests {
		if got := RedactEmail(tt.in); got != tt.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedactValue(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"email key masked", "lead_email", "maria.huber@example.com", "ma***@example.com"},
		{"lead key masked", "lead", "max@web.de", "ma***@web.de"},
		{"embedded address in free text", "error", "bounce from max.mueller@web.de rejected", "bounce from ma***@web.de rejected"},
		{"plain value untouched", "runner", "drafts", "drafts"},
		{"email key without address untouched", "email_count", "12", "12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactValue(tt.key, tt.val); got != tt.want {
				t.Errorf("redactValue(%q, %q) = %q, want %q", tt.key, tt.val, got, tt.want)
			}
		})
	}
}
