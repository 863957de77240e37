package observer

import (
	"context"
	"testing"

	jimi "github.com/jimihq/jimi"
)

func TestCostCalculator(t *testing.T) {
	c := NewCostCalculator(nil)
	got := c.Calculate("gpt-4o-mini", 1_000_000, 1_000_000)
	if got != 0.75 {
		t.Fatalf("cost = %v, want 0.75", got)
	}
	if c.Calculate("unknown-model", 1000, 1000) != 0 {
		t.Fatal("unknown model should cost 0")
	}
}

func TestCostCalculatorOverrides(t *testing.T) {
	c := NewCostCalculator(map[string]ModelPricing{
		"gpt-4o-mini": {1.00, 1.00},
		"my-model":    {0.50, 0.50},
	})
	if got := c.Calculate("gpt-4o-mini", 1_000_000, 0); got != 1.00 {
		t.Fatalf("override ignored: %v", got)
	}
	if got := c.Calculate("my-model", 2_000_000, 0); got != 1.00 {
		t.Fatalf("custom model: %v", got)
	}
}

type staticProvider struct{}

func (staticProvider) Name() string { return "static" }
func (staticProvider) Generate(context.Context, jimi.GenerateRequest) (*jimi.GenerateResult, error) {
	return &jimi.GenerateResult{
		Message: jimi.AssistantMessage("hi"),
		Usage:   &jimi.Usage{Prompt: 10, Completion: 5, Total: 15},
	}, nil
}

// Without Init, the wrapper must still pass results through on the
// no-op tracer backend.
func TestWrapProviderPassThrough(t *testing.T) {
	p := WrapProvider(staticProvider{}, "gpt-4o-mini", nil)
	if p.Name() != "static" {
		t.Fatalf("name %q", p.Name())
	}
	res, err := p.Generate(context.Background(), jimi.GenerateRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Message.Content != "hi" || res.Usage.Total != 15 {
		t.Fatalf("%+v", res)
	}
}

// The tracer bridge converts every attribute type.
func TestTracerBridgeAttrs(t *testing.T) {
	tr := NewTracer()
	_, span := tr.Start(context.Background(), "test.span",
		jimi.StringAttr("s", "v"),
		jimi.IntAttr("i", 1),
		jimi.BoolAttr("b", true),
		jimi.Float64Attr("f", 1.5),
	)
	span.SetAttr(jimi.SpanAttr{Key: "other", Value: []int{1, 2}})
	span.Event("happened", jimi.IntAttr("n", 2))
	span.Error(context.Canceled)
	span.End()
}
