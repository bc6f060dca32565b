package planning

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mkarlsen/planr/internal/ledger"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"
)

// DefaultFanOut is the default number of concurrent requests per batch
// phase, chosen to stay under the ledger's rate limits.
const DefaultFanOut = 5

// Tuple identifies the resource/project/task combination a plan applies to.
type Tuple struct {
	ProjectNumber  string
	TaskNumber     string
	ResourceNumber string
}

func (t Tuple) String() string {
	return t.ProjectNumber + "/" + t.TaskNumber + "/" + t.ResourceNumber
}

// WriteGateway is the slice of the ledger client the executor needs.
type WriteGateway interface {
	CreatePlanningLine(ctx context.Context, line ledger.NewPlanningLine) (*ledger.PlanningLine, error)
	UpdatePlanningLine(ctx context.Context, id string, hours decimal.Decimal, etag string) (*ledger.PlanningLine, error)
	DeletePlanningLine(ctx context.Context, id string, etag string) error
}

// Failure records one operation that could not be applied.
type Failure struct {
	Operation    string // "create", "update" or "delete"
	Date         string
	RemoteLineID string
	Err          error
}

// BatchResult aggregates the outcome of executing a plan. Individual
// failures never abort the batch.
type BatchResult struct {
	CreatedCount int
	UpdatedCount int
	DeletedCount int
	Failures     []Failure
}

// Summary renders the user-facing one-line outcome.
func (r BatchResult) Summary() string {
	return fmt.Sprintf("%d created, %d updated, %d deleted, %d failed",
		r.CreatedCount, r.UpdatedCount, r.DeletedCount, len(r.Failures))
}

// HasConflict reports whether any failure was a stale concurrency token.
func (r BatchResult) HasConflict() bool {
	for _, f := range r.Failures {
		if ledger.IsConflict(f.Err) {
			return true
		}
	}
	return false
}

// Executor applies a reconciliation plan against the ledger with bounded
// concurrency. Phases run strictly in delete, update, create order so a
// duplicate being replaced never collides with its corrected line.
type Executor struct {
	gateway WriteGateway
	fanOut  int64
	logger  *slog.Logger
}

func NewExecutor(gateway WriteGateway, fanOut int, logger *slog.Logger) *Executor {
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{gateway: gateway, fanOut: int64(fanOut), logger: logger}
}

// Execute runs every operation in the plan and returns the aggregate
// result. One operation failing does not cancel the others in its phase;
// transient failures get exactly one in-place retry.
func (e *Executor) Execute(ctx context.Context, tuple Tuple, plan Plan) BatchResult {
	var (
		mu     sync.Mutex
		result BatchResult
	)

	record := func(op, date, lineID string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Failures = append(result.Failures, Failure{Operation: op, Date: date, RemoteLineID: lineID, Err: err})
			return
		}
		switch op {
		case "create":
			result.CreatedCount++
		case "update":
			result.UpdatedCount++
		case "delete":
			result.DeletedCount++
		}
	}

	e.runPhase(ctx, len(plan.ToDelete), func(i int) {
		op := plan.ToDelete[i]
		err := e.withRetry(ctx, func() error {
			return e.gateway.DeletePlanningLine(ctx, op.RemoteLineID, op.ConcurrencyToken)
		})
		record("delete", "", op.RemoteLineID, err)
	}, func(i int, err error) {
		record("delete", "", plan.ToDelete[i].RemoteLineID, err)
	})

	e.runPhase(ctx, len(plan.ToUpdate), func(i int) {
		op := plan.ToUpdate[i]
		err := e.withRetry(ctx, func() error {
			_, err := e.gateway.UpdatePlanningLine(ctx, op.RemoteLineID, op.Hours, op.ConcurrencyToken)
			return err
		})
		record("update", "", op.RemoteLineID, err)
	}, func(i int, err error) {
		record("update", "", plan.ToUpdate[i].RemoteLineID, err)
	})

	e.runPhase(ctx, len(plan.ToCreate), func(i int) {
		op := plan.ToCreate[i]
		err := e.withRetry(ctx, func() error {
			_, err := e.gateway.CreatePlanningLine(ctx, ledger.NewPlanningLine{
				ProjectNumber:  tuple.ProjectNumber,
				TaskNumber:     tuple.TaskNumber,
				ResourceNumber: tuple.ResourceNumber,
				Date:           op.Date,
				Hours:          op.Hours,
			})
			return err
		})
		record("create", op.Date, "", err)
	}, func(i int, err error) {
		record("create", plan.ToCreate[i].Date, "", err)
	})

	e.logger.Debug("batch executed", "tuple", tuple.String(), "result", result.Summary())
	return result
}

// runPhase executes n independent operations with bounded fan-out and waits
// for all of them before returning. Operations that can no longer start
// because the context is gone are handed to skip, so the aggregate result
// still accounts for every operation in the plan.
func (e *Executor) runPhase(ctx context.Context, n int, run func(i int), skip func(i int, err error)) {
	if n == 0 {
		return
	}

	sem := semaphore.NewWeighted(e.fanOut)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < n; j++ {
				skip(j, err)
			}
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			run(i)
		}(i)
	}
	wg.Wait()
}

// withRetry retries a single operation once when the failure is transient.
// Validation and concurrency failures surface immediately.
func (e *Executor) withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || ctx.Err() != nil {
		return err
	}
	if ledger.KindOf(err) != ledger.KindTransient {
		return err
	}
	e.logger.Debug("retrying transient batch operation", "error", err)
	return op()
}
