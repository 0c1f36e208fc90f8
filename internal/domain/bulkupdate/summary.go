package bulkupdate

import (
	"sort"
	"sync"
	"time"

	"jan-server/tools/model-updater/internal/domain/model"
	"jan-server/tools/model-updater/internal/utils/platformerrors"
)

// Outcome is the result of one attempted write.
type Outcome struct {
	Index int
	ID    string
	Err   error
}

// Failure is a failed write as shown to the operator.
type Failure struct {
	ID     string `json:"id" yaml:"id"`
	Detail string `json:"detail" yaml:"detail"`
}

// Summary aggregates a whole run.
type Summary struct {
	RunID      string             `json:"run_id" yaml:"run_id"`
	DryRun     bool               `json:"dry_run" yaml:"dry_run"`
	Mode       Mode               `json:"mode" yaml:"mode"`
	Considered int                `json:"considered" yaml:"considered"`
	Skipped    int                `json:"skipped" yaml:"skipped"`
	Planned    []model.UpdatePlan `json:"planned,omitempty" yaml:"planned,omitempty"`
	Succeeded  []string           `json:"succeeded" yaml:"succeeded"`
	Failed     []Failure          `json:"failed" yaml:"failed"`
	Aborted    bool               `json:"aborted,omitempty" yaml:"aborted,omitempty"`
	Duration   time.Duration      `json:"duration" yaml:"duration"`
}

// HasFailures reports whether any write failed or the run was cut short.
func (s *Summary) HasFailures() bool {
	return s != nil && (len(s.Failed) > 0 || s.Aborted)
}

// Attempted is the number of writes that produced an outcome.
func (s *Summary) Attempted() int {
	if s == nil {
		return 0
	}
	return len(s.Succeeded) + len(s.Failed)
}

// outcomeSink is the only state shared between workers.
type outcomeSink struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (s *outcomeSink) add(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
}

// drain returns the outcomes in plan order. Call it only after all workers are done.
func (s *outcomeSink) drain() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.outcomes
	s.outcomes = nil
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (s *Summary) apply(outcomes []Outcome) {
	for _, o := range outcomes {
		if o.Err == nil {
			s.Succeeded = append(s.Succeeded, o.ID)
			continue
		}
		s.Failed = append(s.Failed, Failure{ID: o.ID, Detail: platformerrors.Detail(o.Err)})
	}
}
