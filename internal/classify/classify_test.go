package classify

import "testing"

func TestClassifySingleDomain(t *testing.T) {
	tests := []struct {
		title, body string
		want        string
	}{
		{"Nvidia GPU shortage", "", "Hardware"},
		{"Nintendo console sales", "", "Gaming"},
		{"OpenAI ships new model", "", "Ai"},
		{"Linux kernel for developers", "", "Software"},
		{"Blockchain adoption grows", "", "Trends"},
	}
	for _, tt := range tests {
		if got := Classify(tt.title, tt.body); got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestClassifyUsesBody(t *testing.T) {
	if got := Classify("Weekly roundup", "the new xbox and playstation"); got != "Gaming" {
		t.Errorf("got %q, want Gaming", got)
	}
}

func TestClassifyTieKeepsFirstInTableOrder(t *testing.T) {
	// one AI keyword (gpt) and one hardware keyword (laptop)
	if got := Classify("GPT on a laptop", ""); got != "Ai" {
		t.Errorf("got %q, want Ai", got)
	}
}

func TestClassifyBigTechWeighting(t *testing.T) {
	// apple scores big tech, processor scores hardware, "app" inside apple
	// scores software: 1.2 beats both 1s.
	if got := Classify("Apple processor", ""); got != "Big Tech Buzz" {
		t.Errorf("got %q, want Big Tech Buzz", got)
	}
}

func TestClassifyRepeatedKeywordCountsOnce(t *testing.T) {
	// three "gpu" occurrences are a single hardware hit
	got := Classify("GPU GPU GPU", "openai")
	if got != "Ai" {
		t.Errorf("got %q, want Ai", got)
	}
}

func TestClassifyDefault(t *testing.T) {
	if got := Classify("Weather forecast for the weekend", ""); got != DefaultDomain {
		t.Errorf("got %q, want %q", got, DefaultDomain)
	}
	if got := Classify("", ""); got != DefaultDomain {
		t.Errorf("empty input: got %q", got)
	}
}

func TestLabel(t *testing.T) {
	if got := Label("HARDWARE"); got != "Hardware" {
		t.Errorf("Label(HARDWARE) = %q", got)
	}
	if got := Label("BIG_TECH"); got != "Big Tech Buzz" {
		t.Errorf("Label(BIG_TECH) = %q", got)
	}
	if got := len(Labels()); got != 6 {
		t.Errorf("Labels() has %d entries", got)
	}
}
