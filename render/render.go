// Package render converts the final document trees into the three output
// encodings: the packaged container, a paginated print-quality document,
// and linearized plain text. Each target runs a small
// pending → rendering → {done, failed} state machine; a failed optional
// target is omitted from the artifact set without aborting the job.
package render

import (
	"context"
	"fmt"

	"github.com/kvgharbigit/booktranslator/container"
	"github.com/kvgharbigit/booktranslator/document"
	"github.com/kvgharbigit/booktranslator/fragment"
)

// State is a render target's lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRendering State = "rendering"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Artifact is one named output byte stream.
type Artifact struct {
	Name string
	MIME string
	Data []byte
}

// Manifest maps artifact names to MIME types.
type Manifest map[string]string

// Input carries everything a target needs. Trees are handed over read-only:
// targets must not mutate them.
type Input struct {
	// Book is the source container, chapters not yet updated.
	Book *container.Book
	// Trees are the final chapter trees (monolingual or bilingual), aligned
	// with Book.Chapters.
	Trees []*document.Tree
	// Frags are the job's fragments, used by text-flow targets.
	Frags []*fragment.Fragment
	// Bilingual marks dual-language output.
	Bilingual bool
	// SourceLang and TargetLang are language codes.
	SourceLang string
	TargetLang string
	// BaseName is the artifact name stem (e.g. "moby-dick.es").
	BaseName string
}

// Target renders one output encoding.
type Target interface {
	// Name identifies the target ("packaged", "paginated", "linearized").
	Name() string
	// Render produces the target's artifact.
	Render(ctx context.Context, in *Input) (*Artifact, error)
}

// Status is one target's final state machine position.
type Status struct {
	Target string
	State  State
	Err    error
}

// Options controls the render pass.
type Options struct {
	// Required marks targets whose failure fails the job. Optional targets
	// that fail are merely omitted and recorded.
	Required map[string]bool
	// OnStatus is called on every target state transition.
	OnStatus func(Status)
	// OnLog emits log messages.
	OnLog func(format string, args ...any)
}

func (o *Options) status(s Status) {
	if o.OnStatus != nil {
		o.OnStatus(s)
	}
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

// RequiredFailedError reports required render targets that failed after
// exhausting their fallback tiers.
type RequiredFailedError struct {
	Targets []string
	Err     error
}

func (e *RequiredFailedError) Error() string {
	return fmt.Sprintf("required render target(s) failed: %v: %v", e.Targets, e.Err)
}

func (e *RequiredFailedError) Unwrap() error { return e.Err }

// Run renders all targets under the partial-success model: optional target
// failures are recorded and skipped; the returned error is non-nil only
// when a required target failed. Artifacts of completed targets are always
// returned, so job-level policy can still surface siblings of a failed
// required target.
func Run(ctx context.Context, targets []Target, in *Input, opts Options) ([]Artifact, Manifest, []Status, error) {
	var artifacts []Artifact
	manifest := Manifest{}
	statuses := make([]Status, 0, len(targets))
	var failedRequired []string
	var firstRequiredErr error

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return artifacts, manifest, statuses, err
		}
		opts.status(Status{Target: target.Name(), State: StatePending})
		opts.status(Status{Target: target.Name(), State: StateRendering})

		artifact, err := target.Render(ctx, in)
		if err != nil {
			st := Status{Target: target.Name(), State: StateFailed, Err: err}
			statuses = append(statuses, st)
			opts.status(st)
			opts.log("render target %s failed: %v", target.Name(), err)
			if opts.Required[target.Name()] {
				failedRequired = append(failedRequired, target.Name())
				if firstRequiredErr == nil {
					firstRequiredErr = err
				}
			}
			continue
		}

		st := Status{Target: target.Name(), State: StateDone}
		statuses = append(statuses, st)
		opts.status(st)
		artifacts = append(artifacts, *artifact)
		manifest[artifact.Name] = artifact.MIME
	}

	if len(failedRequired) > 0 {
		return artifacts, manifest, statuses, &RequiredFailedError{Targets: failedRequired, Err: firstRequiredErr}
	}
	return artifacts, manifest, statuses, nil
}
