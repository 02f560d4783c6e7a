package entity

import "context"

// Attrs are free-form key/value attributes attached to a stage boundary.
type Attrs map[string]any

// Observer is notified at stage boundaries. It must be safe for concurrent
// use: fetch stages of one request start and end from parallel goroutines.
// A nil Observer disables notifications.
type Observer interface {
	// StageStart is called before a stage runs. The returned context is used
	// for the stage, which lets tracers parent work under a span.
	StageStart(ctx context.Context, stage Stage, attrs Attrs) context.Context
	// StageEnd is called after the stage with its outcome attributes.
	StageEnd(ctx context.Context, stage Stage, attrs Attrs)
}

type nopObserver struct{}

func (nopObserver) StageStart(ctx context.Context, _ Stage, _ Attrs) context.Context { return ctx }
func (nopObserver) StageEnd(context.Context, Stage, Attrs)                           {}

// MultiObserver fans notifications out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) StageStart(ctx context.Context, stage Stage, attrs Attrs) context.Context {
	for _, o := range m {
		ctx = o.StageStart(ctx, stage, attrs)
	}
	return ctx
}

func (m MultiObserver) StageEnd(ctx context.Context, stage Stage, attrs Attrs) {
	for i := len(m) - 1; i >= 0; i-- {
		m[i].StageEnd(ctx, stage, attrs)
	}
}
