package events

import (
	"time"

	"github.com/hanpama/entityflow/internal/entity"
)

// EntitiesStart is emitted before resolving an `_entities` request.
type EntitiesStart struct {
	OperationName   string
	Representations int
}

// EntitiesFinish is emitted after an `_entities` request was resolved or
// rejected. Stats is zero when Err is set.
type EntitiesFinish struct {
	OperationName string
	Stats         entity.Stats
	ErrorCount    int
	Err           error
	Duration      time.Duration
}

// StageStart is emitted at the start of a pipeline stage. Typename is set
// for group fetches.
type StageStart struct {
	Stage    entity.Stage
	Typename string
	Attrs    entity.Attrs
}

// StageFinish is emitted at the end of a pipeline stage.
type StageFinish struct {
	Stage    entity.Stage
	Typename string
	Attrs    entity.Attrs
	Err      error
	Duration time.Duration
}
