package resolve

import "testing"

func TestProviderKnownNames(t *testing.T) {
	for _, name := range []string{"openai", "groq", "deepseek", "ollama", "openrouter"} {
		p, err := Provider(Config{Provider: name, APIKey: "k", Model: "m"})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if p.Name() != name {
			t.Fatalf("name = %q, want %q", p.Name(), name)
		}
	}
}

func TestProviderUnknownName(t *testing.T) {
	if _, err := Provider(Config{Provider: "carrier-pigeon"}); err == nil {
		t.Fatal("unknown provider accepted")
	}
}

func TestDefaultBaseURL(t *testing.T) {
	if got := defaultBaseURL("ollama"); got != "http://localhost:11434/v1" {
		t.Fatalf("got %q", got)
	}
	if got := defaultBaseURL("nope"); got != "" {
		t.Fatalf("got %q", got)
	}
}
