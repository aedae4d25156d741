package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/genstudio-api/internal/apperr"
	"github.com/jmylchreest/genstudio-api/internal/guard"
	"github.com/jmylchreest/genstudio-api/internal/provider"
)

// finalizeTimeout bounds the terminal record transition when the request
// context has already expired.
const finalizeTimeout = 10 * time.Second

// variantOutcome is the result of one variant. Exactly one of result and err
// is set.
type variantOutcome struct {
	result *provider.Result
	err    error
	refs   []string // Stable references, filled by persistence
}

// invokeAll runs every variant. A single variant runs inline; batches run in
// windows of Concurrency, each window awaited before the next starts. Variant
// failures are isolated: a failing variant never cancels its siblings.
func (o *Orchestrator) invokeAll(ctx context.Context, r *run, req Request) []variantOutcome {
	outcomes := make([]variantOutcome, r.outputs)
	if r.outputs == 1 {
		outcomes[0] = o.invokeVariant(ctx, r, req, 0)
		return outcomes
	}

	for start := 0; start < r.outputs; start += o.opts.Concurrency {
		end := min(start+o.opts.Concurrency, r.outputs)
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				outcomes[i] = o.invokeVariant(ctx, r, req, i)
				return nil
			})
		}
		_ = g.Wait()
	}
	return outcomes
}

func (o *Orchestrator) invokeVariant(ctx context.Context, r *run, req Request, i int) (out variantOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out = variantOutcome{err: apperr.Internal("internal error", fmt.Errorf("variant %d panic: %v", i, rec))}
		}
	}()

	res, err := o.deps.Invoker.Invoke(ctx, provider.Request{
		Model:    r.model,
		Prompt:   req.Prompt,
		ImageURL: req.ImageURL,
		Params:   r.params,
		Variant:  i,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "variant failed", "variant", i, "error", err)
		return variantOutcome{err: err}
	}
	return variantOutcome{result: res}
}

// firstFailure returns the lowest-index variant error when every variant
// failed, and nil if at least one succeeded.
func firstFailure(outcomes []variantOutcome) error {
	for _, out := range outcomes {
		if out.err == nil {
			return nil
		}
	}
	if len(outcomes) == 0 {
		return apperr.Internal("no variants were invoked", nil)
	}
	return outcomes[0].err
}

// assetID namespaces the j-th output of variant i under the generation id.
func assetID(generationID string, variant, j int) string {
	id := generationID
	if variant > 0 {
		id += "_v" + strconv.Itoa(variant)
	}
	if j > 0 {
		id += "_" + strconv.Itoa(j)
	}
	return id
}

// persistAll copies each successful variant's outputs to the asset store. When
// the store is unavailable and the guard tolerates it, the provider's own URL
// is returned in its place.
func (o *Orchestrator) persistAll(ctx context.Context, r *run) error {
	for i := range r.outcomes {
		out := &r.outcomes[i]
		if out.err != nil {
			continue
		}
		for j, src := range out.result.URLs {
			ref, reason, err := guard.Call(ctx, o.deps.Guard, guard.Assets, func(ctx context.Context) (string, error) {
				return o.deps.Assets.Persist(ctx, r.identity, assetID(r.generationID, i, j), src, r.model.Kind())
			})
			if err != nil {
				return err
			}
			if reason != "" {
				r.degrade(reason)
				ref = src
			}
			out.refs = append(out.refs, ref)
		}
	}
	return nil
}

// finalize performs the single terminal transition of an open record and
// returns the error the caller should see. A failed success transition is
// itself a failure in strict mode; a failed failure transition is only logged.
func (o *Orchestrator) finalize(ctx context.Context, r *run, resp *Response, err error) error {
	if !r.recordOpen {
		return err
	}
	r.stage(ctx, StageFinalizeRecord)

	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
		defer cancel()
	}

	if err == nil {
		reason, markErr := o.deps.Guard.Do(ctx, guard.Records, func(ctx context.Context) error {
			return o.deps.Records.MarkSuccess(ctx, r.generationID, resp.URLs, o.successMetadata(r, resp))
		})
		if markErr == nil {
			r.degrade(reason)
			return nil
		}
		err = markErr
	}

	if _, markErr := o.deps.Guard.Do(ctx, guard.Records, func(ctx context.Context) error {
		return o.deps.Records.MarkFailed(ctx, r.generationID, apperr.PublicMessage(err))
	}); markErr != nil {
		r.logger.ErrorContext(ctx, "failed to finalize generation",
			"error", markErr,
			"original_error", err,
		)
	}
	return err
}

func (o *Orchestrator) successMetadata(r *run, resp *Response) map[string]any {
	meta := map[string]any{
		"providerTaskIds": resp.Meta.ProviderTaskIDs,
	}
	if resp.Text != "" {
		meta["text"] = resp.Text
	}
	if resp.Meta.SucceededCount != nil {
		meta["succeededCount"] = *resp.Meta.SucceededCount
		meta["failedCount"] = *resp.Meta.FailedCount
	}
	variantErrors := map[string]string{}
	for i, out := range r.outcomes {
		if out.err != nil {
			variantErrors[strconv.Itoa(i)] = apperr.PublicMessage(out.err)
		}
	}
	if len(variantErrors) > 0 {
		meta["variantErrors"] = variantErrors
	}
	if len(r.reasons) > 0 {
		reasons := make([]string, len(r.reasons))
		for i, reason := range r.reasons {
			reasons[i] = string(reason)
		}
		meta["degradedReasons"] = reasons
	}
	return meta
}
