package llm

import "testing"

func TestDecodeStrict(t *testing.T) {
	type verdict struct {
		Verdict string  `json:"verdict"`
		Score   float64 `json:"score"`
	}

	tests := []struct {
		name    string
		raw     string
		wantErr bool
		want    string
	}{
		{"plain json", `{"verdict":"pass","score":0.9}`, false, "pass"},
		{"fenced json", "```json\n{\"verdict\":\"warn\",\"score\":0.5}\n```", false, "warn"},
		{"bare fence", "```\n{\"verdict\":\"fail\",\"score\":0.1}\n```", false, "fail"},
		{"extra fields tolerated", `{"verdict":"pass","score":1,"note":"extra"}`, false, "pass"},
		{"prose instead of json", "Looks fine to me.", true, ""},
		{"truncated json", `{"verdict":"pa`, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v verdict
			err := DecodeStrict(tt.raw, &v)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && v.Verdict != tt.want {
				t.Errorf("verdict = %q, want %q", v.Verdict, tt.want)
			}
		})
	}
}

func TestStripFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n{\"a\":1}\n```", "{\"a\":1}"},
		{"  {\"a\":1}  ", "{\"a\":1}"},
	}
	for _, tt := range tests {
		if got := StripFence(tt.in); got != tt.want {
			t.Errorf("StripFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-0.2, 0},
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{1.8, 1},
	}
	for _, tt := range tests {
		if got := ClampConfidence(tt.in); got != tt.want {
			t.Errorf("ClampConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
