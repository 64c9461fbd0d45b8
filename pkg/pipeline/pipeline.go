package pipeline

import (
	"errors"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/common"
)

// Job names used for tracing spans and metrics labels.
const (
	JobTrigger = "trigger"
	JobAction  = "action"
	JobFlush   = "flush"
)

var (
	// ErrQueueFull is returned when a job cannot be queued without blocking.
	ErrQueueFull = errors.New("pipeline queue full")
	// ErrStopped is returned after the manager has been stopped.
	ErrStopped = errors.New("pipeline stopped")
)

// Job is one unit of serialized work. Run receives the span of the job;
// scope.Ctx carries it to whatever the job calls.
type Job struct {
	Name string
	Run  func(scope *common.Scope) error
}
