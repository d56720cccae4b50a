package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// ErrReauthRequired indicates the stored session died mid-batch. The whole
// run halts: every remaining item would fail the same way until the user
// authenticates again.
var ErrReauthRequired = errors.New("re-authentication required")

// ItemFunc performs the work for a single batch item
type ItemFunc func(ctx context.Context, item models.Task) ([]byte, error)

// ProgressFunc is called after each item finishes, success or failure, with
// the cumulative number of finished items. Calls are serialized.
type ProgressFunc func(completed, total int)

// Result is the outcome for one item, index-aligned with the input slice
type Result struct {
	Index int
	Data  []byte
	Err   error
}

// Orchestrator runs batches of extraction items in concurrency-sized groups.
// Each group is awaited in full before the next starts, so a failing site
// never has more than one group's worth of work outstanding.
type Orchestrator struct {
	limiter *Limiter
	retry   *RetryPolicy
	config  common.BatchConfig
	logger  arbor.ILogger
}

// NewOrchestrator creates a batch orchestrator from configuration
func NewOrchestrator(config common.BatchConfig, logger arbor.ILogger) *Orchestrator {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.MaxInFlight < 1 {
		config.MaxInFlight = config.Concurrency
	}
	return &Orchestrator{
		limiter: NewLimiter(config.MaxInFlight, config.MinInterval.Duration()),
		retry:   NewRetryPolicy(config),
		config:  config,
		logger:  logger,
	}
}

// Process runs fn over every item and returns one Result per item at the
// item's input index. concurrency is the group size for this run; values
// below 1 fall back to the configured default. Individual item failures are
// recorded and the batch continues; ErrReauthRequired from any item halts
// the run, marks the remaining items with the same error, and returns it
// with the succeeded count. onProgress may be nil.
func (o *Orchestrator) Process(ctx context.Context, items []models.Task, fn ItemFunc, concurrency int, onProgress ProgressFunc) ([]Result, error) {
	results := make([]Result, len(items))
	for i := range results {
		results[i].Index = i
	}
	if len(items) == 0 {
		return results, nil
	}

	if concurrency < 1 {
		concurrency = o.config.Concurrency
	}

	batchID := common.NewBatchID()
	o.logger.Info().
		Str("batch_id", batchID).
		Int("items", len(items)).
		Int("concurrency", concurrency).
		Msg("Starting batch")

	finished := 0
	succeeded := 0
	for start := 0; start < len(items); start += concurrency {
		end := start + concurrency
		if end > len(items) {
			end = len(items)
		}

		o.processGroup(ctx, items, results, start, end, fn, func(idx int) {
			finished++
			if results[idx].Err == nil {
				succeeded++
			}
			if onProgress != nil {
				onProgress(finished, len(items))
			}
		})

		if idx, halted := firstReauthFailure(results[start:end]); halted {
			for i := end; i < len(items); i++ {
				results[i].Err = ErrReauthRequired
			}
			o.logger.Warn().
				Str("batch_id", batchID).
				Int("failed_index", start+idx).
				Int("completed", succeeded).
				Msg("Session rejected mid-batch, halting")
			return results, fmt.Errorf("%w after %d of %d items", ErrReauthRequired, succeeded, len(items))
		}

		if err := ctx.Err(); err != nil {
			for i := end; i < len(items); i++ {
				results[i].Err = err
			}
			return results, err
		}
	}

	o.logger.Info().
		Str("batch_id", batchID).
		Int("completed", succeeded).
		Int("failed", len(items)-succeeded).
		Msg("Batch finished")

	return results, nil
}

// processGroup runs items[start:end] concurrently under the limiter and
// waits for all of them. onItemDone runs on the waiting goroutine as each
// item finishes, after its result slot is written.
func (o *Orchestrator) processGroup(ctx context.Context, items []models.Task, results []Result, start, end int, fn ItemFunc, onItemDone func(idx int)) {
	done := make(chan int)

	for i := start; i < end; i++ {
		go func(idx int) {
			results[idx].Data, results[idx].Err = o.processItem(ctx, items[idx], fn)
			done <- idx
		}(i)
	}

	for pending := end - start; pending > 0; pending-- {
		idx := <-done
		if onItemDone != nil {
			onItemDone(idx)
		}
	}
}

// processItem runs one item through the limiter and the retry policy
func (o *Orchestrator) processItem(ctx context.Context, item models.Task, fn ItemFunc) ([]byte, error) {
	var data []byte
	err := o.limiter.Execute(ctx, func(callCtx context.Context) error {
		_, callErr := o.retry.ExecuteWithRetry(callCtx, o.logger, func() (int, error) {
			// A dead session is permanent for this run; never retry it
			d, itemErr := fn(callCtx, item)
			if errors.Is(itemErr, ErrReauthRequired) {
				return 0, itemErr
			}
			if itemErr == nil {
				data = d
			}
			return 0, itemErr
		})
		return callErr
	})
	return data, err
}

func firstReauthFailure(group []Result) (int, bool) {
	for i, r := range group {
		if errors.Is(r.Err, ErrReauthRequired) {
			return i, true
		}
	}
	return 0, false
}
