package admission

import (
	"context"
	"net/http"
)

// Rejection wraps a stage error with the stage that produced it, so the
// transport layer can report and count rejections per stage.
type Rejection struct {
	Stage string
	Err   error
}

func (r *Rejection) Error() string { return r.Stage + ": " + r.Err.Error() }
func (r *Rejection) Unwrap() error { return r.Err }

// Pipeline applies its stages in construction order. The order is a fixed
// property of the deployment, not an emergent effect of middleware nesting.
type Pipeline struct {
	stages []Stage
}

// NewPipeline builds a pipeline; disabled stages are simply not passed in.
func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Admit runs every stage in order. On success it returns the possibly
// annotated context and one Release covering all acquired capacity; on
// rejection it releases anything already acquired and returns a *Rejection.
func (p *Pipeline) Admit(ctx context.Context, r *http.Request) (context.Context, Release, error) {
	var releases []Release

	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, st := range p.stages {
		next, release, err := st.Admit(ctx, r)
		if err != nil {
			releaseAll()
			return ctx, nil, &Rejection{Stage: st.Name(), Err: err}
		}
		if next != nil {
			ctx = next
		}
		if release != nil {
			releases = append(releases, release)
		}
	}

	if len(releases) == 0 {
		return ctx, func() {}, nil
	}
	var once bool
	return ctx, func() {
		if once {
			return
		}
		once = true
		releaseAll()
	}, nil
}
