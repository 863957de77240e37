package jimi

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type panicTool struct{}

func (panicTool) Definition() ToolDefinition {
	return ToolDefinition{Name: "boom", Description: "always panics"}
}

func (panicTool) Execute(context.Context, json.RawMessage) ToolResult {
	panic("kaboom")
}

func TestRegistryRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&echoTool{name: "echo"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&echoTool{name: "echo"}); err == nil {
		t.Fatal("duplicate registration should fail")
	}
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	res := r.Execute(context.Background(), "nope", `{}`)
	if res.Kind != ToolError || !strings.Contains(res.Message, "unknown tool") {
		t.Fatalf("got %+v", res)
	}
}

func TestRegistryExecuteValidatesSchema(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&echoTool{name: "echo"}); err != nil {
		t.Fatal(err)
	}

	res := r.Execute(context.Background(), "echo", `{"wrong":"field"}`)
	if res.Kind != ToolError || !strings.Contains(res.Message, "invalid arguments") {
		t.Fatalf("missing required field not rejected: %+v", res)
	}

	res = r.Execute(context.Background(), "echo", `{"text":"hi"}`)
	if res.Kind != ToolOk || res.Output != "echo: hi" {
		t.Fatalf("got %+v", res)
	}
}

func TestRegistryExecuteNormalizesArguments(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&echoTool{name: "echo"}); err != nil {
		t.Fatal(err)
	}
	// Quoted-escaped arguments with a trailing null, as some models emit.
	res := r.Execute(context.Background(), "echo", `"{\"text\": \"hi\"}"null`)
	if res.Kind != ToolOk || res.Output != "echo: hi" {
		t.Fatalf("got %+v", res)
	}
}

func TestRegistryExecuteRecoversPanics(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(panicTool{}); err != nil {
		t.Fatal(err)
	}
	res := r.Execute(context.Background(), "boom", `{}`)
	if res.Kind != ToolError || !strings.Contains(res.Message, "kaboom") {
		t.Fatalf("panic not converted to error result: %+v", res)
	}
}

func TestRegistrySchemasFiltersByWhitelist(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{name: "a"})
	r.Register(&echoTool{name: "b"})
	r.Register(&echoTool{name: "c"})

	defs := r.Schemas([]string{"c", "a"})
	if len(defs) != 2 {
		t.Fatalf("got %d defs", len(defs))
	}
	// Registration order is preserved, not whitelist order.
	if defs[0].Name != "a" || defs[1].Name != "c" {
		t.Fatalf("got %s, %s", defs[0].Name, defs[1].Name)
	}

	if got := len(r.Schemas(nil)); got != 3 {
		t.Fatalf("nil whitelist should allow all, got %d", got)
	}
	if got := len(r.Schemas([]string{})); got != 0 {
		t.Fatalf("empty whitelist should allow none, got %d", got)
	}
}

func TestRegistryCapabilityInjection(t *testing.T) {
	bus := NewWire()
	defer bus.Close()
	tool := NewAskUserTool()
	r := NewRegistry(RegistryBus(bus))
	if err := r.Register(tool); err != nil {
		t.Fatal(err)
	}
	if tool.bus != bus {
		t.Fatal("bus not injected at registration")
	}
}

func TestValidateCallsDropsBadEntries(t *testing.T) {
	r := NewRegistry()
	calls := []ToolCall{
		call("", "echo", `{}`),              // no id
		call("1", "", `{}`),                 // no name
		call("2", "echo", `{"text":"a"}`),   // ok
		call("2", "echo", `{"text":"dup"}`), // duplicate id
		call("3", "echo", `((( garbage`),    // unnormalizable args
		call("4", "echo", `{text: "b"}`),    // repairable args
	}
	out := r.ValidateCalls(calls)
	if len(out) != 2 {
		t.Fatalf("got %d surviving calls: %+v", len(out), out)
	}
	if out[0].ID != "2" || out[1].ID != "4" {
		t.Fatalf("wrong survivors: %+v", out)
	}
	if out[1].Function.Arguments != `{"text": "b"}` {
		t.Fatalf("args not normalized in place: %q", out[1].Function.Arguments)
	}
}
