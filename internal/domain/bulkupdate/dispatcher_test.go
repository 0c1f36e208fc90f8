package bulkupdate

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jan-server/tools/model-updater/internal/domain/model"
	"jan-server/tools/model-updater/internal/utils/platformerrors"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	oldBase = "openrouter.google/gemini-2.5-pro-exp-03-25:free"
	newBase = "openrouter.microsoft/phi-4-multimodal-instruct"
)

// fakeService is an in-memory ModelService.
type fakeService struct {
	records []model.Record
	listErr error
	// failures maps a model id to the error its write returns
	failures map[string]error
	delay    time.Duration

	mu       sync.Mutex
	writes   []string
	inFlight int32
	peak     int32
}

func (f *fakeService) ListModels(ctx context.Context) ([]model.Record, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.records, nil
}

func (f *fakeService) UpdateModel(ctx context.Context, id string, payload map[string]any) error {
	current := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&f.peak)
		if current <= peak || atomic.CompareAndSwapInt32(&f.peak, peak, current) {
			break
		}
	}

	f.mu.Lock()
	f.writes = append(f.writes, id)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if payload["base_model_id"] != newBase {
		return fmt.Errorf("payload for %s was not re-pointed", id)
	}
	return f.failures[id]
}

func (f *fakeService) writeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func matching(ids ...string) []model.Record {
	records := make([]model.Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, model.NewRecord(map[string]any{
			"id":            id,
			"name":          "Model " + id,
			"base_model_id": oldBase,
		}))
	}
	return records
}

func validationError(id string) error {
	return platformerrors.NewError(context.Background(), platformerrors.LayerInfrastructure, platformerrors.ErrorTypeValidation,
		fmt.Sprintf("update model %s: status 400", id), nil, "")
}

func testRule(t *testing.T) model.Rule {
	t.Helper()
	rule, err := model.NewRule(oldBase, newBase, false, true)
	require.NoError(t, err)
	return rule
}

func TestParallelAttemptsEveryPlanExactlyOnce(t *testing.T) {
	ids := []string{"m0", "m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8", "m9"}
	svc := &fakeService{records: matching(ids...), delay: 20 * time.Millisecond}

	d := NewDispatcher(svc, testRule(t), Options{Mode: ModeParallel, Concurrency: 3}, zerolog.Nop())
	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, summary.Attempted())
	assert.ElementsMatch(t, ids, summary.Succeeded)
	assert.Empty(t, summary.Failed)

	writes := svc.writeCalls()
	assert.Len(t, writes, 10)
	assert.ElementsMatch(t, ids, writes, "no duplicates, none missing")
	assert.LessOrEqual(t, atomic.LoadInt32(&svc.peak), int32(3))
	assert.Greater(t, atomic.LoadInt32(&svc.peak), int32(1), "writes should overlap")

	// Outcomes are reported in plan order regardless of completion order
	assert.Equal(t, ids, summary.Succeeded)
}

func TestSequentialContinuesAfterFailure(t *testing.T) {
	svc := &fakeService{
		records:  matching("A", "B", "C", "D", "E"),
		failures: map[string]error{"C": validationError("C")},
	}

	d := NewDispatcher(svc, testRule(t), Options{Mode: ModeSequential}, zerolog.Nop())
	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, svc.writeCalls(), "listing order, every item attempted")
	assert.Equal(t, []string{"A", "B", "D", "E"}, summary.Succeeded)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, "C", summary.Failed[0].ID)
	assert.True(t, strings.HasPrefix(summary.Failed[0].Detail, "ValidationError: "), summary.Failed[0].Detail)
	assert.True(t, summary.HasFailures())
	assert.False(t, summary.Aborted)
}

func TestListingFailureAbortsBeforeWrites(t *testing.T) {
	listErr := platformerrors.NewError(context.Background(), platformerrors.LayerInfrastructure, platformerrors.ErrorTypeConnection,
		"list models", fmt.Errorf("dial tcp 127.0.0.1:1: connect: connection refused"), "")
	svc := &fakeService{records: matching("A"), listErr: listErr}

	for _, mode := range []Mode{ModeSequential, ModeParallel} {
		t.Run(string(mode), func(t *testing.T) {
			d := NewDispatcher(svc, testRule(t), Options{Mode: mode}, zerolog.Nop())
			summary, err := d.Run(context.Background())
			require.Error(t, err)
			assert.Nil(t, summary)
			assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeConnection))
			assert.Equal(t, "ConnectionError: list models: dial tcp 127.0.0.1:1: connect: connection refused",
				platformerrors.Detail(err))
			assert.Empty(t, svc.writeCalls())
		})
	}
}

func TestDryRunPrintsPlansWithoutWriting(t *testing.T) {
	svc := &fakeService{records: matching("A", "B", "C", "D", "E")}
	var out bytes.Buffer

	d := NewDispatcher(svc, testRule(t), Options{DryRun: true, PlanOutput: &out}, zerolog.Nop())
	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 5)
	assert.Contains(t, lines[0], "A (Model A): "+oldBase+" -> "+newBase)
	assert.Empty(t, svc.writeCalls())
	assert.Len(t, summary.Planned, 5)
	assert.Zero(t, summary.Attempted())
	assert.True(t, summary.DryRun)
	assert.False(t, summary.HasFailures())
}

func TestSkippedRecordsAreNotFailures(t *testing.T) {
	records := append(matching("A"),
		model.NewRecord(map[string]any{"id": "other", "base_model_id": "gpt-4o"}),
		model.NewRecord(map[string]any{"id": "done", "base_model_id": newBase}),
		model.NewRecord(map[string]any{"id": "base", "base_model_id": nil}),
		model.NewRecord(map[string]any{"id": "nofield"}),
		model.NewRecord(map[string]any{"name": "no id", "base_model_id": oldBase}),
		model.NewRecord(map[string]any{"id": "A", "base_model_id": oldBase}),
	)
	svc := &fakeService{records: records}

	d := NewDispatcher(svc, testRule(t), Options{Mode: ModeSequential}, zerolog.Nop())
	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, summary.Considered)
	assert.Equal(t, 6, summary.Skipped)
	assert.Equal(t, []string{"A"}, summary.Succeeded)
	assert.Empty(t, summary.Failed)
	assert.Equal(t, []string{"A"}, svc.writeCalls(), "duplicate ids are written once")
}

func TestAuthErrorAbortsRun(t *testing.T) {
	authErr := platformerrors.NewError(context.Background(), platformerrors.LayerInfrastructure, platformerrors.ErrorTypeUnauthorized,
		"update model B: status 401", nil, "")

	t.Run("sequential", func(t *testing.T) {
		svc := &fakeService{
			records:  matching("A", "B", "C"),
			failures: map[string]error{"B": authErr},
		}
		d := NewDispatcher(svc, testRule(t), Options{Mode: ModeSequential}, zerolog.Nop())
		summary, err := d.Run(context.Background())
		require.Error(t, err)
		assert.True(t, platformerrors.IsFatal(err))
		require.NotNil(t, summary)
		assert.True(t, summary.Aborted)
		assert.Equal(t, []string{"A", "B"}, svc.writeCalls())
		assert.Equal(t, []string{"A"}, summary.Succeeded)
		require.Len(t, summary.Failed, 1)
		assert.Equal(t, "B", summary.Failed[0].ID)
	})

	t.Run("parallel", func(t *testing.T) {
		ids := []string{"B", "c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8", "c9"}
		svc := &fakeService{
			records:  matching(ids...),
			failures: map[string]error{"B": authErr},
			delay:    20 * time.Millisecond,
		}
		d := NewDispatcher(svc, testRule(t), Options{Mode: ModeParallel, Concurrency: 1}, zerolog.Nop())
		summary, err := d.Run(context.Background())
		require.Error(t, err)
		require.NotNil(t, summary)
		assert.True(t, summary.Aborted)
		assert.Equal(t, []string{"B"}, svc.writeCalls(), "no plan is written after the auth failure")
		assert.Equal(t, 1, summary.Attempted())
		assert.Empty(t, summary.Succeeded)
	})
}

func TestObserverSeesEveryDecisionAndWrite(t *testing.T) {
	obs := &countingObserver{}
	records := append(matching("A", "B"), model.NewRecord(map[string]any{"id": "x", "base_model_id": "gpt-4o"}))
	svc := &fakeService{records: records, failures: map[string]error{"B": validationError("B")}}

	d := NewDispatcher(svc, testRule(t), Options{Mode: ModeParallel, Concurrency: 2, Observer: obs}, zerolog.Nop())
	_, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&obs.planned))
	assert.Equal(t, int32(1), atomic.LoadInt32(&obs.skipped))
	assert.Equal(t, int32(1), atomic.LoadInt32(&obs.succeeded))
	assert.Equal(t, int32(1), atomic.LoadInt32(&obs.failed))
}

func TestNewDispatcherDefaults(t *testing.T) {
	d := NewDispatcher(&fakeService{}, testRule(t), Options{Concurrency: -1}, zerolog.Nop())
	assert.Equal(t, ModeParallel, d.opts.Mode)
	assert.Equal(t, DefaultConcurrency, d.opts.Concurrency)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Considered)
	assert.NotNil(t, summary.Succeeded)
	assert.NotNil(t, summary.Failed)
}

type countingObserver struct {
	planned, skipped, succeeded, failed int32
}

func (c *countingObserver) RecordDecision(decision string) {
	if decision == "planned" {
		atomic.AddInt32(&c.planned, 1)
		return
	}
	atomic.AddInt32(&c.skipped, 1)
}

func (c *countingObserver) RecordWrite(err error, _ time.Duration) {
	if err != nil {
		atomic.AddInt32(&c.failed, 1)
		return
	}
	atomic.AddInt32(&c.succeeded, 1)
}
