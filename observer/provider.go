package observer

import (
	"context"
	"time"

	jimi "github.com/jimihq/jimi"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys for LLM instrumentation.
var (
	AttrLLMModel     = attribute.Key("llm.model")
	AttrLLMProvider  = attribute.Key("llm.provider")
	AttrToolCount    = attribute.Key("llm.tool_count")
	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")
	AttrDurationMs   = attribute.Key("llm.duration_ms")
)

// ObservedProvider wraps a jimi.ChatProvider with OTEL span and cost
// instrumentation.
type ObservedProvider struct {
	inner  jimi.ChatProvider
	tracer trace.Tracer
	cost   *CostCalculator
	model  string
}

// WrapProvider returns an instrumented provider. pricing may be nil
// for default pricing.
func WrapProvider(inner jimi.ChatProvider, model string, pricing map[string]ModelPricing) *ObservedProvider {
	return &ObservedProvider{
		inner:  inner,
		tracer: otel.Tracer(scopeName),
		cost:   NewCostCalculator(pricing),
		model:  model,
	}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) Generate(ctx context.Context, req jimi.GenerateRequest) (*jimi.GenerateResult, error) {
	ctx, span := o.tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrToolCount.Int(len(req.Tools)),
	))
	defer span.End()
	start := time.Now()

	res, err := o.inner.Generate(ctx, req)

	span.SetAttributes(AttrDurationMs.Float64(float64(time.Since(start).Milliseconds())))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	if res.Usage != nil {
		span.SetAttributes(
			AttrTokensInput.Int(res.Usage.Prompt),
			AttrTokensOutput.Int(res.Usage.Completion),
			AttrCostUSD.Float64(o.cost.Calculate(o.model, res.Usage.Prompt, res.Usage.Completion)),
		)
	}
	return res, err
}

// compile-time check
var _ jimi.ChatProvider = (*ObservedProvider)(nil)
