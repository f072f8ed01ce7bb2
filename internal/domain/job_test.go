package domain

import "testing"

func TestPayloadValidate(t *testing.T) {
	valid := Payload{
		Chart:     ChartInfo{ChartID: "chart-1"},
		Documents: []Document{{ID: "d1", URL: "https://files/d1.pdf"}},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid payload rejected: %v", err)
	}

	cases := []struct {
		name string
		p    Payload
	}{
		{"missing chart id", Payload{Documents: valid.Documents}},
		{"no documents", Payload{Chart: valid.Chart}},
		{"document without url", Payload{Chart: valid.Chart, Documents: []Document{{ID: "d1"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.p.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestPermanentlyFailed(t *testing.T) {
	j := Job{Status: Failed, Attempts: 3, MaxAttempts: 3}
	if !j.PermanentlyFailed() {
		t.Error("failed with attempts == max must be permanent")
	}

	j = Job{Status: Failed, Attempts: 2, MaxAttempts: 3}
	if j.PermanentlyFailed() {
		t.Error("failed with attempts remaining is retryable")
	}

	j = Job{Status: Processing, Attempts: 3, MaxAttempts: 3}
	if j.PermanentlyFailed() {
		t.Error("only failed jobs can be permanently failed")
	}
}
