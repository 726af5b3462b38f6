// Package batch groups fragments into token-bounded batches and drives the
// translation provider chain: bounded-parallel dispatch, per-batch retry
// with exponential backoff, and fallback to the next provider for all
// remaining batches once the current one is exhausted. Results are
// reassembled into the original fragment order by each batch's index range,
// so slow or reordered completions never desynchronize final ordering.
package batch

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvgharbigit/booktranslator/fragment"
	"github.com/kvgharbigit/booktranslator/provider"
)

// ---------------------------------------------------------------------------
// Token estimation
// ---------------------------------------------------------------------------

// EstimateTokens approximates the token cost of a text. The heuristic
// (bytes/4, floor 1) only has to be stable and monotone; budgets are set
// against it.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Batch is a contiguous, order-preserving slice of the fragment sequence.
type Batch struct {
	// Ordinal is the batch's position in the job.
	Ordinal int
	// Start is the index of the batch's first fragment.
	Start int
	// Texts are the protected fragment texts, in fragment order.
	Texts []string
	// Tokens is the estimated token cost.
	Tokens int
}

// Audit records which provider served a batch, for observability.
type Audit struct {
	Batch    int
	Start    int
	Size     int
	Tokens   int
	Provider string
	Attempts int
}

// Options controls the batch translator.
type Options struct {
	// SourceLang and TargetLang are language codes handed to providers.
	SourceLang string
	TargetLang string
	// MaxBatchTokens bounds one batch's estimated cost (default 1500).
	MaxBatchTokens int
	// MaxJobTokens bounds the whole job; exceeding it fails fast before any
	// provider call (0 = unlimited).
	MaxJobTokens int
	// MaxRetries is the attempt limit per batch on one provider (default 3).
	MaxRetries int
	// Concurrency bounds parallel batch dispatch (default 1).
	Concurrency int
	// OnProgress is called with fragment counts after each finished batch.
	OnProgress func(done, total int)
	// OnLog emits log messages during translation.
	OnLog func(format string, args ...any)
	// Verbose enables per-attempt logging.
	Verbose bool
}

func (o *Options) effectiveMaxBatchTokens() int {
	if o.MaxBatchTokens > 0 {
		return o.MaxBatchTokens
	}
	return 1500
}

func (o *Options) effectiveMaxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return 3
}

func (o *Options) effectiveConcurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return 1
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// JobTooLargeError reports a job whose total estimated cost exceeds the
// configured budget. Raised before any provider call; always fatal.
type JobTooLargeError struct {
	Tokens int
	Budget int
}

func (e *JobTooLargeError) Error() string {
	return fmt.Sprintf("job estimated at %d tokens exceeds budget of %d", e.Tokens, e.Budget)
}

// MismatchError reports a provider response whose length differs from the
// batch input. Treated like a transient failure (retry, then fallback);
// never silently truncated, padded, or shifted.
type MismatchError struct {
	Provider string
	Want     int
	Got      int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: batch of %d texts got %d translations", e.Provider, e.Want, e.Got)
}

// ChainExhaustedError reports that every provider in the fallback chain was
// exhausted for some batch. Always fatal for the job.
type ChainExhaustedError struct {
	Batch int
	Err   error
}

func (e *ChainExhaustedError) Error() string {
	return fmt.Sprintf("provider chain exhausted on batch %d: %v", e.Batch, e.Err)
}

func (e *ChainExhaustedError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Partitioning
// ---------------------------------------------------------------------------

// Partition splits fragments into contiguous batches under the per-batch
// token budget. Batches partition the sequence without gaps or overlaps; a
// single over-budget fragment still gets its own batch.
func Partition(frags []*fragment.Fragment, maxTokens int) []Batch {
	var batches []Batch
	var texts []string
	start, tokens := 0, 0

	flush := func(next int) {
		if len(texts) == 0 {
			return
		}
		batches = append(batches, Batch{
			Ordinal: len(batches),
			Start:   start,
			Texts:   texts,
			Tokens:  tokens,
		})
		texts, start, tokens = nil, next, 0
	}

	for i, frag := range frags {
		cost := EstimateTokens(frag.ProtectedText)
		if len(texts) > 0 && tokens+cost > maxTokens {
			flush(i)
		}
		texts = append(texts, frag.ProtectedText)
		tokens += cost
	}
	flush(len(frags))
	return batches
}

// ---------------------------------------------------------------------------
// Translator
// ---------------------------------------------------------------------------

// Translator submits batches to a fallback-ordered provider chain.
type Translator struct {
	chain  []provider.Client
	meters *provider.Meters
	opts   Options

	// chainPos is the index of the provider currently serving new attempts.
	// It only moves forward: once a provider exhausts its retries for any
	// batch, every remaining batch in the job uses the next provider.
	mu       sync.Mutex
	chainPos int
}

// New builds a Translator. The meters object is the explicit cross-job
// rate/cost state; it is shared by all jobs targeting the same providers.
func New(chain []provider.Client, meters *provider.Meters, opts Options) *Translator {
	if meters == nil {
		meters = provider.NewMeters()
	}
	return &Translator{chain: chain, meters: meters, opts: opts}
}

// Translate translates all fragments and returns the raw translated strings
// positionally aligned 1:1 with frags, plus the per-batch provider audit.
func (t *Translator) Translate(ctx context.Context, frags []*fragment.Fragment) ([]string, []Audit, error) {
	total := 0
	for _, frag := range frags {
		total += EstimateTokens(frag.ProtectedText)
	}
	if t.opts.MaxJobTokens > 0 && total > t.opts.MaxJobTokens {
		return nil, nil, &JobTooLargeError{Tokens: total, Budget: t.opts.MaxJobTokens}
	}

	batches := Partition(frags, t.opts.effectiveMaxBatchTokens())
	if len(batches) == 0 {
		return make([]string, 0), nil, nil
	}

	results := make([]string, len(frags))
	audits := make([]Audit, len(batches))
	var done int64

	err := t.runParallel(ctx, batches, func(ctx context.Context, b Batch) error {
		translations, audit, err := t.translateBatch(ctx, b)
		if err != nil {
			return err
		}
		// Reassembly by fragment index range: completion order is
		// irrelevant, each batch writes only its own slots.
		copy(results[b.Start:b.Start+len(b.Texts)], translations)
		audits[b.Ordinal] = audit

		if t.opts.OnProgress != nil {
			n := atomic.AddInt64(&done, int64(len(b.Texts)))
			t.opts.OnProgress(int(n), len(frags))
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return results, audits, nil
}

// translateBatch walks the provider chain for one batch, retrying each
// provider up to the retry limit before advancing the shared chain cursor.
func (t *Translator) translateBatch(ctx context.Context, b Batch) ([]string, Audit, error) {
	var lastErr error
	for {
		pos := t.currentPos()
		if pos >= len(t.chain) {
			return nil, Audit{}, &ChainExhaustedError{Batch: b.Ordinal, Err: lastErr}
		}
		client := t.chain[pos]

		translations, attempts, err := t.attemptWithRetries(ctx, client, b)
		if err == nil {
			return translations, Audit{
				Batch:    b.Ordinal,
				Start:    b.Start,
				Size:     len(b.Texts),
				Tokens:   b.Tokens,
				Provider: client.ID(),
				Attempts: attempts,
			}, nil
		}
		if ctx.Err() != nil {
			return nil, Audit{}, ctx.Err()
		}
		lastErr = err
		t.opts.log("provider %s exhausted on batch %d after %d attempts: %v", client.ID(), b.Ordinal, attempts, err)
		t.advancePast(pos)
	}
}

// attemptWithRetries performs up to MaxRetries attempts against one
// provider with exponential backoff, honoring server-requested rate-limit
// delays.
func (t *Translator) attemptWithRetries(ctx context.Context, client provider.Client, b Batch) ([]string, int, error) {
	meter := t.meters.Meter(client.ID())
	maxRetries := t.opts.effectiveMaxRetries()

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := meter.Wait(ctx); err != nil {
			return nil, attempt, err
		}

		if t.opts.Verbose {
			t.opts.log("batch %d attempt %d/%d via %s (%d texts, ~%d tokens)",
				b.Ordinal, attempt, maxRetries, client.ID(), len(b.Texts), b.Tokens)
		}

		translations, err := client.TranslateBatch(ctx, b.Texts, t.opts.SourceLang, t.opts.TargetLang)
		if err == nil {
			if len(translations) != len(b.Texts) {
				// Ordering invariant: a misaligned response is retried like
				// any transient failure.
				err = &MismatchError{Provider: client.ID(), Want: len(b.Texts), Got: len(translations)}
			} else {
				meter.Record(b.Tokens)
				return translations, attempt, nil
			}
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		if !retryable(err) {
			return nil, attempt, err
		}
		if attempt == maxRetries {
			break
		}

		wait := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
		if d, ok := provider.RetryDelay(err); ok {
			wait = d
		}
		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, maxRetries, lastErr
}

func retryable(err error) bool {
	if provider.Retryable(err) {
		return true
	}
	_, ok := err.(*MismatchError)
	return ok
}

func (t *Translator) currentPos() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chainPos
}

// advancePast moves the chain cursor past pos unless another batch already
// advanced it further.
func (t *Translator) advancePast(pos int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.chainPos <= pos {
		t.chainPos = pos + 1
	}
}

// runParallel dispatches batches with bounded parallelism, returning the
// first error.
func (t *Translator) runParallel(ctx context.Context, batches []Batch, fn func(context.Context, Batch) error) error {
	concurrency := t.opts.effectiveConcurrency()
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once

	for _, b := range batches {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)

		go func(b Batch) {
			defer func() {
				<-sem
				wg.Done()
			}()
			if err := fn(ctx, b); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}(b)
	}

	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
