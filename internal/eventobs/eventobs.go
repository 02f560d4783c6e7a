// Package eventobs publishes pipeline stage boundaries on the event bus.
package eventobs

import (
	"context"
	"time"

	"github.com/hanpama/entityflow/internal/entity"
	eventbus "github.com/hanpama/entityflow/internal/eventbus"
	events "github.com/hanpama/entityflow/internal/events"
	reqid "github.com/hanpama/entityflow/internal/reqid"
)

type startKey struct {
	stage    entity.Stage
	typename string
}

// Observer implements entity.Observer on top of the global event bus. With
// no bus installed it only records start times. A stage started outside a
// request gets a request ID of its own, so subscribers can pair its events.
type Observer struct{}

var _ entity.Observer = Observer{}

func (Observer) StageStart(ctx context.Context, stage entity.Stage, attrs entity.Attrs) context.Context {
	tn := typename(attrs)
	if reqid.Scope(ctx) == nil {
		ctx, _ = reqid.NewContext(ctx)
	}
	eventbus.Publish(ctx, events.StageStart{Stage: stage, Typename: tn, Attrs: attrs})
	return context.WithValue(ctx, startKey{stage, tn}, time.Now())
}

func (Observer) StageEnd(ctx context.Context, stage entity.Stage, attrs entity.Attrs) {
	tn := typename(attrs)
	var d time.Duration
	if start, ok := ctx.Value(startKey{stage, tn}).(time.Time); ok {
		d = time.Since(start)
	}
	err, _ := attrs["error"].(error)
	eventbus.Publish(ctx, events.StageFinish{Stage: stage, Typename: tn, Attrs: attrs, Err: err, Duration: d})
}

func typename(attrs entity.Attrs) string {
	tn, _ := attrs["typename"].(string)
	return tn
}
