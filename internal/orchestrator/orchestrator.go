// Package orchestrator runs a generation request end to end: identity, model
// lookup, balance check, record creation, debit, provider invocation (batched
// in windows), asset persistence and exactly one terminal record transition.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jmylchreest/genstudio-api/internal/apperr"
	"github.com/jmylchreest/genstudio-api/internal/catalog"
	"github.com/jmylchreest/genstudio-api/internal/guard"
	"github.com/jmylchreest/genstudio-api/internal/logging"
	"github.com/jmylchreest/genstudio-api/internal/models"
	"github.com/jmylchreest/genstudio-api/internal/provider"
)

// UntrackedIdentity namespaces assets of callers that could not be resolved
// while running degraded.
const UntrackedIdentity = "anonymous"

// Stages of a request, in order. Each is a possible exit point.
const (
	StageResolveIdentity = "resolve_identity"
	StageLookupModel     = "lookup_model"
	StageCheckBalance    = "check_balance"
	StageCreateRecord    = "create_record"
	StageDebitLedger     = "debit_ledger"
	StageInvokeProviders = "invoke_providers"
	StagePersistAssets   = "persist_assets"
	StageFinalizeRecord  = "finalize_record"
)

// Ledger is the ledger client the orchestrator needs.
type Ledger interface {
	Balance(ctx context.Context, identity string) (int64, error)
	Debit(ctx context.Context, identity string, amount int64, generationID, description string) (int64, error)
}

// Records is the generation record store the orchestrator needs.
type Records interface {
	Create(ctx context.Context, g models.NewGeneration) (*models.Generation, error)
	MarkSuccess(ctx context.Context, id string, urls []string, metadata map[string]any) error
	MarkFailed(ctx context.Context, id, errorMessage string) error
}

// Assets is the durable asset store the orchestrator needs.
type Assets interface {
	Persist(ctx context.Context, identity, generationID, sourceURL string, kind models.GenerationKind) (string, error)
}

// Invoker runs one provider invocation.
type Invoker interface {
	Invoke(ctx context.Context, req provider.Request) (*provider.Result, error)
}

// Catalog resolves model ids.
type Catalog interface {
	Lookup(id string) *catalog.Model
}

// Options configures the orchestrator.
type Options struct {
	Concurrency       int           // Variants invoked concurrently per window
	MaxOutputs        int           // Upper bound on outputsCount
	RequestTimeout    time.Duration // Bounds the whole pipeline
	MockMode          bool          // Skip ledger, records and persistence
	AnonymousIdentity string        // Identity used when none was resolved ("" = none)
}

// Deps are the collaborators.
type Deps struct {
	Catalog Catalog
	Ledger  Ledger
	Records Records
	Assets  Assets
	Invoker Invoker
	Guard   *guard.Guard
	Logger  *slog.Logger
}

// Orchestrator is the single entry point for generation requests.
type Orchestrator struct {
	deps     Deps
	opts     Options
	logger   *slog.Logger
	tracer   trace.Tracer
	inFlight atomic.Int64
}

// New creates an orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 3
	}
	if opts.MaxOutputs < 1 {
		opts.MaxOutputs = 8
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 300 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Guard == nil {
		deps.Guard = guard.New(false, deps.Logger)
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: deps.Logger.With("component", "orchestrator"),
		tracer: otel.Tracer("github.com/jmylchreest/genstudio-api/internal/orchestrator"),
	}
}

// InFlight returns the number of requests currently being orchestrated.
func (o *Orchestrator) InFlight() int64 {
	return o.inFlight.Load()
}

// Request is a generation request.
type Request struct {
	ModelID      string
	Prompt       string
	ImageURL     string
	Params       map[string]any
	OutputsCount int
}

// Meta describes how a response was produced.
type Meta struct {
	ModelID         string   `json:"modelId"`
	GenerationID    string   `json:"generationId,omitempty"`
	ProviderTaskIDs []string `json:"providerTaskIds,omitempty"`
	DurationMs      int64    `json:"durationMs"`
	OutputsCount    int      `json:"outputsCount,omitempty"`
	SucceededCount  *int     `json:"succeededCount,omitempty"`
	FailedCount     *int     `json:"failedCount,omitempty"`
	Degraded        bool     `json:"degraded,omitempty"`
	DegradedReason  string   `json:"degradedReason,omitempty"`
}

// Response is a successful generation.
type Response struct {
	URLs       []string `json:"urls,omitempty"`
	Text       string   `json:"text,omitempty"`
	Meta       Meta     `json:"meta"`
	NewBalance *int64   `json:"newBalance,omitempty"`
}

// run is the state of one request.
type run struct {
	identity     string
	tracked      bool // ledger and records are consulted for this identity
	model        *catalog.Model
	params       map[string]any
	outputs      int
	cost         int64
	generationID string
	recordOpen   bool // a processing record exists and must be finalized
	debited      bool // the ledger holds a debit under generationID
	newBalance   *int64
	reasons      []apperr.Reason
	outcomes     []variantOutcome
	logger       *slog.Logger
	span         trace.Span
}

func (r *run) degrade(reason apperr.Reason) {
	if reason == "" {
		return
	}
	for _, existing := range r.reasons {
		if existing == reason {
			return
		}
	}
	r.reasons = append(r.reasons, reason)
}

func (r *run) stage(ctx context.Context, name string) {
	r.span.AddEvent("stage", trace.WithAttributes(attribute.String("stage", name)))
	r.logger.DebugContext(ctx, "stage", "stage", name)
}

// Generate runs the pipeline for identity ("" when none was resolved).
//
// The pipeline runs on a context detached from ctx's cancellation and bounded
// by the request timeout, so an abandoned connection never skips
// finalization.
func (o *Orchestrator) Generate(ctx context.Context, identity string, req Request) (resp *Response, err error) {
	start := time.Now()
	o.inFlight.Add(1)
	defer o.inFlight.Add(-1)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.RequestTimeout)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "orchestrator.Generate",
		trace.WithAttributes(attribute.String("model_id", req.ModelID)))
	defer span.End()

	r := &run{span: span, logger: o.logger.With("model_id", req.ModelID)}

	defer func() {
		if rec := recover(); rec != nil {
			resp, err = nil, apperr.Internal("internal error", fmt.Errorf("panic: %v", rec))
		}
		err = o.finalize(ctx, r, resp, err)
		if err != nil {
			resp = nil
			span.RecordError(err)
			span.SetStatus(codes.Error, apperr.PublicMessage(err))
			r.logger.WarnContext(ctx, "generation failed",
				"error", err,
				"kind", apperr.KindOf(err),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return
		}
		resp.Meta.DurationMs = time.Since(start).Milliseconds()
		o.markDegraded(r, resp)
		r.logger.InfoContext(ctx, "generation completed",
			"outputs", r.outputs,
			"degraded_reason", resp.Meta.DegradedReason,
			"duration_ms", resp.Meta.DurationMs,
		)
	}()

	r.stage(ctx, StageResolveIdentity)
	if err := o.resolveIdentity(r, identity); err != nil {
		return nil, err
	}
	ctx = logging.WithUserID(ctx, r.identity)
	span.SetAttributes(attribute.String("user_id", r.identity))

	r.stage(ctx, StageLookupModel)
	if err := o.prepare(r, req); err != nil {
		return nil, err
	}
	r.generationID = ulid.Make().String()
	ctx = logging.WithGenerationID(ctx, r.generationID)
	span.SetAttributes(attribute.String("generation_id", r.generationID))

	if o.opts.MockMode {
		return o.mockRun(ctx, r, req)
	}

	if r.tracked {
		r.stage(ctx, StageCheckBalance)
		balance, reason, err := guard.Call(ctx, o.deps.Guard, guard.Ledger, func(ctx context.Context) (int64, error) {
			return o.deps.Ledger.Balance(ctx, r.identity)
		})
		if err != nil {
			return nil, err
		}
		r.degrade(reason)
		if reason == "" {
			if balance < r.cost {
				return nil, apperr.InsufficientFunds(balance, r.cost)
			}
			r.newBalance = &balance
		}

		r.stage(ctx, StageCreateRecord)
		_, reason, err = guard.Call(ctx, o.deps.Guard, guard.Records, func(ctx context.Context) (*models.Generation, error) {
			return o.deps.Records.Create(ctx, models.NewGeneration{
				ID:          r.generationID,
				Identity:    r.identity,
				Kind:        r.model.Kind(),
				ModelID:     r.model.ID,
				Prompt:      req.Prompt,
				CreditsUsed: r.cost,
				Metadata: map[string]any{
					"params":       r.params,
					"outputsCount": r.outputs,
					"imageUrl":     req.ImageURL,
					"provider":     r.model.Provider,
				},
			})
		})
		if err != nil {
			return nil, err
		}
		r.degrade(reason)
		r.recordOpen = reason == ""

		if r.cost > 0 {
			r.stage(ctx, StageDebitLedger)
			newBalance, reason, err := guard.Call(ctx, o.deps.Guard, guard.Ledger, func(ctx context.Context) (int64, error) {
				return o.deps.Ledger.Debit(ctx, r.identity, r.cost, r.generationID, o.debitDescription(r))
			})
			if err != nil {
				return nil, err
			}
			r.degrade(reason)
			r.debited = reason == ""
			if r.debited {
				r.newBalance = &newBalance
			} else {
				r.newBalance = nil
			}
		}
	}

	r.stage(ctx, StageInvokeProviders)
	r.outcomes = o.invokeAll(ctx, r, req)
	if err := firstFailure(r.outcomes); err != nil {
		return nil, err
	}

	if r.model.Capability != catalog.CapabilityText {
		r.stage(ctx, StagePersistAssets)
		if err := o.persistAll(ctx, r); err != nil {
			return nil, err
		}
	}

	return o.respond(r), nil
}

// resolveIdentity applies the identity rules: a resolved identity is
// authoritative; otherwise the configured anonymous identity is used; otherwise
// degraded mode runs untracked and strict mode refuses.
func (o *Orchestrator) resolveIdentity(r *run, identity string) error {
	switch {
	case identity != "":
		r.identity, r.tracked = identity, true
	case o.opts.AnonymousIdentity != "":
		r.identity, r.tracked = o.opts.AnonymousIdentity, true
	case o.opts.MockMode:
		r.identity = UntrackedIdentity
	case o.deps.Guard.Degraded():
		r.identity = UntrackedIdentity
		r.degrade(apperr.ReasonAuth)
	default:
		return apperr.Unauthenticated("")
	}
	return nil
}

// prepare looks up the model and validates the request against it. Nothing
// has side effects before this returns.
func (o *Orchestrator) prepare(r *run, req Request) error {
	if strings.TrimSpace(req.ModelID) == "" {
		return apperr.Validation("modelId is required")
	}
	model := o.deps.Catalog.Lookup(req.ModelID)
	if model == nil {
		return apperr.NotFound("model %s not found", req.ModelID)
	}
	r.model = model

	if strings.TrimSpace(req.Prompt) == "" {
		return apperr.Validation("inputs.prompt is required")
	}
	if req.ImageURL != "" {
		u, err := url.Parse(req.ImageURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return apperr.Validation("inputs.imageUrl must be an http(s) URL")
		}
	}
	if model.NeedsImage() && req.ImageURL == "" {
		return apperr.Validation("model %s requires inputs.imageUrl", model.ID)
	}

	n := req.OutputsCount
	if n == 0 {
		n = 1
	}
	if limit := model.OutputLimit(o.opts.MaxOutputs); n < 1 || n > limit {
		return apperr.Validation("outputsCount must be between 1 and %d for model %s", limit, model.ID)
	}
	r.outputs = n

	params, err := model.ResolveParams(req.Params)
	if err != nil {
		return err
	}
	r.params = params
	r.cost = model.CreditCost * int64(n)
	return nil
}

func (o *Orchestrator) debitDescription(r *run) string {
	name := r.model.Title
	if name == "" {
		name = r.model.ID
	}
	if r.outputs > 1 {
		return fmt.Sprintf("Generation with %s (x%d)", name, r.outputs)
	}
	return "Generation with " + name
}

// mockRun returns synthetic output without touching the ledger, records or
// storage.
func (o *Orchestrator) mockRun(ctx context.Context, r *run, req Request) (*Response, error) {
	r.stage(ctx, StageInvokeProviders)
	r.outcomes = o.invokeAll(ctx, r, req)
	if err := firstFailure(r.outcomes); err != nil {
		return nil, err
	}
	for i := range r.outcomes {
		r.outcomes[i].refs = r.outcomes[i].result.URLs
	}
	return o.respond(r), nil
}

func (o *Orchestrator) respond(r *run) *Response {
	resp := &Response{
		Meta: Meta{
			ModelID:      r.model.ID,
			OutputsCount: r.outputs,
		},
		NewBalance: r.newBalance,
	}
	// The id is the refund key for a debit even when no record was written.
	if r.recordOpen || r.debited {
		resp.Meta.GenerationID = r.generationID
	}

	succeeded := 0
	for _, out := range r.outcomes {
		if out.err != nil {
			continue
		}
		succeeded++
		resp.URLs = append(resp.URLs, out.refs...)
		resp.Meta.ProviderTaskIDs = append(resp.Meta.ProviderTaskIDs, out.result.TaskID)
		if out.result.Text != "" {
			resp.Text = out.result.Text
		}
	}
	if r.outputs > 1 {
		failed := r.outputs - succeeded
		resp.Meta.SucceededCount = &succeeded
		resp.Meta.FailedCount = &failed
	}
	return resp
}

func (o *Orchestrator) markDegraded(r *run, resp *Response) {
	if len(r.reasons) == 0 {
		return
	}
	parts := make([]string, len(r.reasons))
	for i, reason := range r.reasons {
		parts[i] = string(reason)
	}
	resp.Meta.Degraded = true
	resp.Meta.DegradedReason = strings.Join(parts, ",")
}
