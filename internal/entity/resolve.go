package entity

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Plan builds one resolution group per (typename, strategy) pair. Groups
// keep the first-seen order of their typenames. A typename reg does not bind
// still gets a group; resolving it fails every key with ErrUnbound.
func Plan(reg *Registry, d *Deduped) []Group {
	type groupKey struct {
		typename string
		strategy Strategy
	}
	groups := make([]Group, 0, len(d.ByType))
	idx := map[groupKey]int{}
	for _, tk := range d.ByType {
		var strategy Strategy
		if b := reg.Lookup(tk.Typename); b != nil {
			strategy = b.Strategy
		}
		k := groupKey{typename: tk.Typename, strategy: strategy}
		if gi, ok := idx[k]; ok {
			groups[gi].Keys = append(groups[gi].Keys, tk.Keys...)
			continue
		}
		idx[k] = len(groups)
		groups = append(groups, Group{Typename: tk.Typename, Strategy: strategy, Keys: tk.Keys})
	}
	return groups
}

// resolveGroups issues exactly one Resolve call per group and joins them.
// Groups run concurrently; each writes only its own slot of the output, so
// no locking is needed. When ctx is done after the join, the partial results
// are discarded and ctx.Err() is returned.
func (p *Pipeline) resolveGroups(ctx context.Context, groups []Group) (map[CanonicalKey]*Resolved, error) {
	outs := make([][]*Resolved, len(groups))

	eg, gctx := errgroup.WithContext(ctx)
	if p.opt.MaxConcurrentGroups > 0 {
		eg.SetLimit(p.opt.MaxConcurrentGroups)
	}
	for i := range groups {
		i := i
		eg.Go(func() error {
			outs[i] = p.runGroup(gctx, groups[i])
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	total := 0
	for _, o := range outs {
		total += len(o)
	}
	resolved := make(map[CanonicalKey]*Resolved, total)
	for _, o := range outs {
		for _, r := range o {
			resolved[r.Key] = r
		}
	}
	return resolved, nil
}

// runGroup resolves one group and returns one Resolved per key, in key order.
func (p *Pipeline) runGroup(ctx context.Context, g Group) (out []*Resolved) {
	b := p.reg.Lookup(g.Typename)
	ctx = p.obs.StageStart(ctx, StageFetch, Attrs{
		"typename": g.Typename,
		"strategy": g.Strategy.String(),
		"keys":     len(g.Keys),
	})

	var groupErr error
	defer func() {
		if rec := recover(); rec != nil {
			groupErr = fmt.Errorf("resolver panic: %v", rec)
			out = failGroup(g, groupErr)
		}
		status := "ok"
		if groupErr != nil {
			status = "error"
			p.log.WithFields(logrus.Fields{
				"typename": g.Typename,
				"strategy": g.Strategy.String(),
				"keys":     len(g.Keys),
			}).WithError(groupErr).Warn("entity group resolution failed")
		}
		p.obs.StageEnd(ctx, StageFetch, Attrs{
			"typename": g.Typename,
			"strategy": g.Strategy.String(),
			"keys":     len(g.Keys),
			"status":   status,
			"error":    groupErr,
		})
	}()

	if b == nil {
		groupErr = fmt.Errorf("%w for %s", ErrUnbound, g.Typename)
		return failGroup(g, groupErr)
	}
	fetched, err := b.Resolver.Resolve(ctx, g.Typename, g.Keys)
	if err != nil {
		groupErr = err
		return failGroup(g, err)
	}

	out = make([]*Resolved, len(g.Keys))
	for i, k := range g.Keys {
		r := &Resolved{Key: k.Canonical}
		f, ok := fetched[k.Canonical]
		switch {
		case ok && f.Err != nil:
			r.Err = resolverFailure(g.Typename, f.Err)
		case !ok || f.Document == nil:
			r.Err = notFound(k.Canonical)
		default:
			r.Document = f.Document
		}
		out[i] = r
	}
	return out
}

// failGroup records err uniformly for every key of g.
func failGroup(g Group, err error) []*Resolved {
	e := resolverFailure(g.Typename, err)
	out := make([]*Resolved, len(g.Keys))
	for i, k := range g.Keys {
		out[i] = &Resolved{Key: k.Canonical, Err: e}
	}
	return out
}
