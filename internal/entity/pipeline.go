package entity

import (
	"context"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hanpama/entityflow/internal/selection"
	"github.com/hanpama/entityflow/internal/transform"
)

// Options tunes a Pipeline.
type Options struct {
	// MaxConcurrentGroups bounds the group fetches running at once within one
	// request. 0 means unbounded.
	MaxConcurrentGroups int
	// ParallelTransformThreshold is the number of unique documents from
	// which the transform stage fans out across goroutines. 0 uses 64;
	// a negative value always transforms serially.
	ParallelTransformThreshold int
	// Observer receives stage boundary notifications. Nil disables them.
	Observer Observer
	// Logger receives group failures. Defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger
}

type Option func(*Options)

func WithMaxConcurrentGroups(n int) Option {
	return func(o *Options) { o.MaxConcurrentGroups = n }
}
func WithParallelTransformThreshold(n int) Option {
	return func(o *Options) { o.ParallelTransformThreshold = n }
}
func WithObserver(obs Observer) Option       { return func(o *Options) { o.Observer = obs } }
func WithLogger(l logrus.FieldLogger) Option { return func(o *Options) { o.Logger = l } }

// Pipeline resolves `_entities` representations against a Registry. A
// Pipeline holds no per-request state and may serve concurrent requests;
// every Run allocates its own indexes.
type Pipeline struct {
	reg *Registry
	opt Options
	obs Observer
	log logrus.FieldLogger
}

// New creates a Pipeline over reg.
func New(reg *Registry, opts ...Option) *Pipeline {
	o := Options{ParallelTransformThreshold: 64}
	for _, f := range opts {
		f(&o)
	}
	if o.ParallelTransformThreshold == 0 {
		o.ParallelTransformThreshold = 64
	}
	p := &Pipeline{reg: reg, opt: o, obs: o.Observer, log: o.Logger}
	if p.obs == nil {
		p.obs = nopObserver{}
	}
	if p.log == nil {
		p.log = logrus.StandardLogger()
	}
	return p
}

// Result is the positionally aligned outcome of one request.
type Result struct {
	// Values holds one transformed value per representation; nil where the
	// position failed.
	Values []any
	// Typenames holds the type tag of each representation, "" when absent.
	Typenames []string
	// Errors lists every failed position in ascending order.
	Errors []PositionError
	Stats  Stats
}

// PositionError is an entity-level failure at one output position.
type PositionError struct {
	Position int
	Err      *Error
}

// Run executes the pipeline for one request. selections may be nil, in
// which case documents are returned unprojected. The only errors are
// ErrInvalidRepresentations and ctx.Err() when the request was cancelled;
// in both cases no partial result is returned.
func (p *Pipeline) Run(ctx context.Context, representations any, selections selection.PerType) (*Result, error) {
	sctx := p.obs.StageStart(ctx, StageCollect, nil)
	refs, err := Collect(p.reg, representations)
	if err != nil {
		p.obs.StageEnd(sctx, StageCollect, Attrs{"error": err})
		return nil, err
	}
	p.obs.StageEnd(sctx, StageCollect, Attrs{"references": len(refs)})

	sctx = p.obs.StageStart(ctx, StageDedup, nil)
	d := Dedup(refs)
	groups := Plan(p.reg, d)
	d.Stats.Groups = len(groups)
	p.obs.StageEnd(sctx, StageDedup, Attrs{
		"total":       d.Stats.Total,
		"malformed":   d.Stats.Malformed,
		"unique":      d.Stats.Unique,
		"groups":      d.Stats.Groups,
		"dedup_ratio": d.Stats.DedupRatio(),
	})

	resolved := map[CanonicalKey]*Resolved{}
	if len(groups) > 0 {
		sctx = p.obs.StageStart(ctx, StageResolve, Attrs{"groups": len(groups)})
		resolved, err = p.resolveGroups(sctx, groups)
		p.obs.StageEnd(sctx, StageResolve, Attrs{"groups": len(groups), "error": err})
		if err != nil {
			return nil, err
		}
	}

	sctx = p.obs.StageStart(ctx, StageScatter, nil)
	slots := Scatter(refs, d, resolved)
	p.obs.StageEnd(sctx, StageScatter, Attrs{"positions": len(slots)})

	sctx = p.obs.StageStart(ctx, StageTransform, Attrs{"unique": len(resolved)})
	values, err := p.transformAll(sctx, resolved, selections)
	p.obs.StageEnd(sctx, StageTransform, Attrs{"unique": len(resolved), "error": err})
	if err != nil {
		return nil, err
	}

	res := &Result{Values: make([]any, len(slots)), Typenames: make([]string, len(slots)), Stats: d.Stats}
	for i, s := range slots {
		res.Typenames[i] = refs[i].Typename
		var perr *Error
		switch {
		case s.Malformed != nil:
			perr = s.Malformed
		case s.Resolved.Err != nil:
			perr = s.Resolved.Err
		default:
			t := values[s.Resolved.Key]
			if t.err != nil {
				perr = t.err
			} else {
				res.Values[i] = t.value
			}
		}
		if perr != nil {
			res.Errors = append(res.Errors, PositionError{Position: i, Err: perr})
		}
	}
	return res, nil
}

type transformed struct {
	value any
	err   *Error
}

// transformAll transforms every successfully resolved document once. Each
// worker writes only its own index, so no locking is needed.
func (p *Pipeline) transformAll(ctx context.Context, resolved map[CanonicalKey]*Resolved, selections selection.PerType) (map[CanonicalKey]transformed, error) {
	todo := make([]*Resolved, 0, len(resolved))
	for _, r := range resolved {
		if r.Err == nil {
			todo = append(todo, r)
		}
	}
	outs := make([]transformed, len(todo))
	one := func(i int) {
		r := todo[i]
		set, ok := selections.For(r.Key.Typename)
		if !ok {
			set = nil
		}
		v, err := transform.Entity(r.Document, set, r.Key.Typename)
		if err != nil {
			outs[i] = transformed{err: schemaConflict(err)}
			return
		}
		outs[i] = transformed{value: v}
	}

	if p.opt.ParallelTransformThreshold > 0 && len(todo) >= p.opt.ParallelTransformThreshold {
		eg, gctx := errgroup.WithContext(ctx)
		eg.SetLimit(runtime.GOMAXPROCS(0))
		for i := range todo {
			i := i
			eg.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				one(i)
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range todo {
			one(i)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[CanonicalKey]transformed, len(todo))
	for i, r := range todo {
		out[r.Key] = outs[i]
	}
	return out, nil
}

