// Package pipeline drives a translation job end to end: read the book
// container, extract fragments, protect entities, translate in batches over
// the provider chain, restore and reconstruct, optionally compose a
// bilingual edition, and render the requested outputs.
//
// Stages run strictly in order; cancellation is honored at every stage
// boundary and inside the translation dispatch. Per-fragment restore
// failures degrade to the original text with a warning instead of failing
// the job; structural misalignment between extraction and reconstruction is
// fatal.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kvgharbigit/booktranslator/batch"
	"github.com/kvgharbigit/booktranslator/bilingual"
	"github.com/kvgharbigit/booktranslator/cache"
	"github.com/kvgharbigit/booktranslator/container"
	"github.com/kvgharbigit/booktranslator/document"
	"github.com/kvgharbigit/booktranslator/fragment"
	"github.com/kvgharbigit/booktranslator/langmeta"
	"github.com/kvgharbigit/booktranslator/protect"
	"github.com/kvgharbigit/booktranslator/provider"
	"github.com/kvgharbigit/booktranslator/render"
)

// Step names the pipeline stage a progress event belongs to.
type Step string

const (
	StepRead        Step = "read"
	StepExtract     Step = "extract"
	StepProtect     Step = "protect"
	StepTranslate   Step = "translate"
	StepReconstruct Step = "reconstruct"
	StepCompose     Step = "compose"
	StepRender      Step = "render"
)

// Progress is one progress event. Percent covers the current step only.
type Progress struct {
	Step    Step
	Current int
	Total   int
}

// Options configures a job.
type Options struct {
	SourceLang string
	TargetLang string

	// Bilingual composes a dual-language edition.
	Bilingual bool

	// Selector controls fragment extraction. Zero value means
	// fragment.DefaultSelector().
	Selector *fragment.Selector

	// Providers is the fallback-ordered provider chain.
	Providers []provider.Config

	// Batch carries token budgets, retry limits and dispatch concurrency.
	Batch batch.Options

	// Outputs lists the render targets to produce; empty means all three.
	Outputs []string
	// Required marks outputs whose failure fails the job.
	Required map[string]bool
	// ConverterBinary overrides the external HTML-to-PDF converter.
	ConverterBinary string

	// Cache is the per-book translation memory; nil disables caching.
	Cache *cache.Cache

	// Meters is the shared per-provider rate/cost state. Nil allocates a
	// job-private set.
	Meters *provider.Meters

	OnLog      func(format string, args ...any)
	OnProgress func(Progress)
	Verbose    bool
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) progress(step Step, current, total int) {
	if o.OnProgress != nil {
		o.OnProgress(Progress{Step: step, Current: current, Total: total})
	}
}

func (o *Options) selector() fragment.Selector {
	if o.Selector != nil {
		return *o.Selector
	}
	return fragment.DefaultSelector()
}

func (o *Options) outputs() []string {
	if len(o.Outputs) > 0 {
		return o.Outputs
	}
	return []string{"packaged", "paginated", "linearized"}
}

// Result is the outcome of a completed job.
type Result struct {
	// JobID is the unique job identifier.
	JobID string

	Artifacts []render.Artifact
	Manifest  render.Manifest
	Statuses  []render.Status

	// Audits records which provider served each batch.
	Audits []batch.Audit

	// Warnings lists non-fatal degradations (sentinel loss, cache
	// misses on save, optional render failures).
	Warnings []string

	// Fragments is the number of extracted fragments; Fallbacks counts
	// those rendered with their original text.
	Fragments int
	Fallbacks int
	// Cached counts fragments served from the translation memory.
	Cached int
}

// Translate runs a job over a book file on disk.
func Translate(ctx context.Context, path string, opts Options) (*Result, error) {
	book, err := container.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading book: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return run(ctx, book, base, opts)
}

// TranslateBook runs a job over an already-loaded container. baseName is
// the artifact name stem without the language suffix.
func TranslateBook(ctx context.Context, book *container.Book, baseName string, opts Options) (*Result, error) {
	return run(ctx, book, baseName, opts)
}

func run(ctx context.Context, book *container.Book, baseName string, opts Options) (*Result, error) {
	res := &Result{JobID: uuid.NewString()}

	baseName = fmt.Sprintf("%s.%s", baseName, langmeta.HTMLLang(opts.TargetLang))

	// Parse every chapter into a tree. Trees stay aligned with
	// book.Chapters for the whole job.
	opts.progress(StepRead, 0, len(book.Chapters))
	trees := make([]*document.Tree, len(book.Chapters))
	for i, ch := range book.Chapters {
		tree, err := document.ParseBytes(ch.Path, ch.Data)
		if err != nil {
			return nil, fmt.Errorf("parsing chapter %s: %w", ch.Path, err)
		}
		trees[i] = tree
		opts.progress(StepRead, i+1, len(book.Chapters))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Extraction.
	sel := opts.selector()
	frags := fragment.Extract(trees, sel)
	res.Fragments = len(frags)
	opts.progress(StepExtract, len(frags), len(frags))
	opts.log("extracted %d fragments from %d chapters", len(frags), len(trees))

	if len(frags) > 0 {
		if err := translateFragments(ctx, frags, opts, res); err != nil {
			return nil, err
		}
	}

	// Reconstruction. Structural misalignment here is fatal: it means the
	// extraction and reconstruction traversals disagree.
	if err := fragment.Reconstruct(trees, frags, sel); err != nil {
		return nil, fmt.Errorf("reconstructing chapters: %w", err)
	}
	for _, frag := range frags {
		if frag.Fallback {
			res.Fallbacks++
		}
	}
	opts.progress(StepReconstruct, len(frags), len(frags))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Bilingual composition reuses the reconstruction markers, so it runs
	// before they are stripped.
	if opts.Bilingual {
		if err := bilingual.Compose(trees, frags, opts.SourceLang); err != nil {
			return nil, fmt.Errorf("composing bilingual edition: %w", err)
		}
		opts.progress(StepCompose, len(frags), len(frags))
	}
	bilingual.MarkDocumentLanguage(trees, opts.TargetLang)
	fragment.StripMarkers(trees)

	// Rendering under the partial-success model.
	targets, err := buildTargets(opts)
	if err != nil {
		return nil, err
	}
	opts.progress(StepRender, 0, len(targets))
	in := &render.Input{
		Book:       book,
		Trees:      trees,
		Frags:      frags,
		Bilingual:  opts.Bilingual,
		SourceLang: opts.SourceLang,
		TargetLang: opts.TargetLang,
		BaseName:   baseName,
	}
	artifacts, manifest, statuses, renderErr := render.Run(ctx, targets, in, render.Options{
		Required: opts.Required,
		OnLog:    opts.OnLog,
		OnStatus: func(s render.Status) {
			if s.State == render.StateFailed {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("output %s failed: %v", s.Target, s.Err))
			}
		},
	})
	res.Artifacts = artifacts
	res.Manifest = manifest
	res.Statuses = statuses
	opts.progress(StepRender, len(targets), len(targets))

	if renderErr != nil {
		return res, renderErr
	}
	return res, nil
}

// translateFragments protects, translates and restores the fragments in
// place, consulting the translation memory when one is configured.
func translateFragments(ctx context.Context, frags []*fragment.Fragment, opts Options, res *Result) error {
	// Cache lookup: fragments already in the memory skip the provider
	// round trip entirely.
	pending := frags
	if opts.Cache != nil {
		pending = pending[:0:0]
		for _, frag := range frags {
			if cached, ok := opts.Cache.Get(opts.TargetLang, frag.OriginalText); ok {
				frag.TranslatedText = cached
				res.Cached++
				continue
			}
			pending = append(pending, frag)
		}
		if res.Cached > 0 {
			opts.log("%d of %d fragments served from cache", res.Cached, len(frags))
		}
	}
	if len(pending) == 0 {
		return nil
	}

	// Protection. The maps stay aligned with pending by index.
	maps := make([]*protect.Map, len(pending))
	for i, frag := range pending {
		frag.ProtectedText, maps[i] = protect.Protect(frag.OriginalText)
	}
	opts.progress(StepProtect, len(pending), len(pending))
	if err := ctx.Err(); err != nil {
		return err
	}

	chain, err := provider.NewChain(opts.Providers)
	if err != nil {
		return fmt.Errorf("building provider chain: %w", err)
	}

	bopts := opts.Batch
	bopts.SourceLang = opts.SourceLang
	bopts.TargetLang = opts.TargetLang
	bopts.OnLog = opts.OnLog
	bopts.Verbose = opts.Verbose
	if opts.OnProgress != nil {
		bopts.OnProgress = func(done, total int) {
			opts.progress(StepTranslate, done, total)
		}
	}

	translator := batch.New(chain, opts.Meters, bopts)
	raw, audits, err := translator.Translate(ctx, pending)
	if err != nil {
		return fmt.Errorf("translating: %w", err)
	}
	res.Audits = audits

	// Restoration. A lost sentinel degrades that fragment to its original
	// text; the job keeps going.
	for i, frag := range pending {
		restored, err := protect.Restore(raw[i], maps[i])
		if err != nil {
			var lost *protect.SentinelLostError
			if errors.As(err, &lost) {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("fragment %s: placeholder %s lost in translation, keeping original",
						frag.Coordinate, lost.Token))
				frag.TranslatedText = ""
				continue
			}
			return fmt.Errorf("restoring fragment %s: %w", frag.Coordinate, err)
		}
		frag.TranslatedText = restored
		if opts.Cache != nil {
			opts.Cache.Put(opts.TargetLang, frag.OriginalText, restored)
		}
	}

	if opts.Cache != nil {
		if err := opts.Cache.Save(); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("saving translation cache: %v", err))
		}
	}
	return nil
}

// buildTargets maps output names to render targets.
func buildTargets(opts Options) ([]render.Target, error) {
	var targets []render.Target
	for _, name := range opts.outputs() {
		switch name {
		case "packaged":
			targets = append(targets, render.Packaged{})
		case "paginated":
			p := render.NewPaginated(opts.ConverterBinary)
			p.OnLog = opts.OnLog
			targets = append(targets, p)
		case "linearized":
			targets = append(targets, render.Linearized{})
		default:
			return nil, fmt.Errorf("unknown output %q (want packaged, paginated or linearized)", name)
		}
	}
	return targets, nil
}
