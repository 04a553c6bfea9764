package application

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openkraft/anvil/internal/domain"
)

// Query kinds accepted by QueryService.Query.
const (
	QueryRuns             = "runs"
	QueryRun              = "run"
	QueryEntity           = "entity"
	QuerySuccessRate      = "success-rate"
	QueryFlaky            = "flaky"
	QueryFailedInLast     = "failed-in-last"
	QueryFileErrors       = "file-errors"
	QueryProblematicFiles = "problematic-files"
	QueryValidatorTrend   = "validator-trend"
	QueryEntities         = "entities"
)

// QueryKinds lists every supported kind in display order.
var QueryKinds = []string{
	QueryRuns, QueryRun, QueryEntity, QuerySuccessRate, QueryFlaky, QueryFailedInLast,
	QueryFileErrors, QueryProblematicFiles, QueryValidatorTrend, QueryEntities,
}

const (
	defaultRunsLimit         = 20
	defaultHistoryLimit      = 20
	defaultFlakyThreshold    = 0.1
	defaultProblematicRate   = 0.5
	defaultProblematicMinRun = 3
	defaultTrendDays         = 30
)

// QueryParams are the optional inputs of a query. Each kind reads the
// fields it needs and ignores the rest.
type QueryParams struct {
	RunID      string
	EntityID   string
	EntityType domain.EntityType
	Validator  string
	Branch     string
	Commit     string
	Since      time.Time
	Until      time.Time
	Limit      int
	Window     int
	MinRuns    int
	Days       int
	Threshold  float64
}

// QueryResult holds the answer of one query. Only the fields relevant to
// the kind are set.
type QueryResult struct {
	Kind        string                      `json:"kind"`
	Runs        []domain.ValidationRun      `json:"runs,omitempty"`
	Report      *domain.RunReport           `json:"report,omitempty"`
	Entity      *domain.EntityStatistics    `json:"entity,omitempty"`
	History     []domain.Execution          `json:"history,omitempty"`
	SuccessRate *float64                    `json:"success_rate,omitempty"`
	Executed    int                         `json:"executed,omitempty"`
	Entities    []domain.EntityStatistics   `json:"entities,omitempty"`
	IDs         []string                    `json:"ids,omitempty"`
	Files       []domain.FileErrorFrequency `json:"files,omitempty"`
	Trend       []domain.TrendPoint         `json:"trend,omitempty"`
}

// QueryService answers read-only questions about run history.
type QueryService struct {
	store domain.StatsStore
}

func NewQueryService(store domain.StatsStore) *QueryService {
	return &QueryService{store: store}
}

// Query dispatches on kind. Unknown kinds and missing required parameters
// are configuration errors; unknown ids wrap domain.ErrNotFound.
func (q *QueryService) Query(ctx context.Context, kind string, p QueryParams) (*QueryResult, error) {
	res := &QueryResult{Kind: kind}
	switch kind {
	case QueryRuns:
		runs, err := q.store.ListRuns(ctx, domain.RunFilter{
			Limit:  orDefault(p.Limit, defaultRunsLimit),
			Branch: p.Branch,
			Commit: p.Commit,
			Since:  p.Since,
			Until:  p.Until,
		})
		if err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		res.Runs = runs

	case QueryRun:
		report, err := q.store.RunReport(ctx, p.RunID)
		if err != nil {
			return nil, fmt.Errorf("loading run %q: %w", p.RunID, err)
		}
		res.Report = report

	case QueryEntity:
		if p.EntityID == "" {
			return nil, domain.ConfigError("query %s requires an entity id", kind)
		}
		st, err := q.store.Entity(ctx, p.EntityID)
		if err != nil {
			return nil, fmt.Errorf("loading entity %q: %w", p.EntityID, err)
		}
		history, err := q.store.History(ctx, p.EntityID, orDefault(p.Limit, defaultHistoryLimit))
		if err != nil {
			return nil, fmt.Errorf("loading history of %q: %w", p.EntityID, err)
		}
		res.Entity = st
		res.History = history

	case QuerySuccessRate:
		if p.EntityID == "" {
			return nil, domain.ConfigError("query %s requires an entity id", kind)
		}
		rate, n, err := q.store.SuccessRate(ctx, p.EntityID, p.Window)
		if err != nil {
			return nil, fmt.Errorf("computing success rate of %q: %w", p.EntityID, err)
		}
		res.SuccessRate = &rate
		res.Executed = n

	case QueryFlaky:
		threshold := p.Threshold
		if threshold <= 0 {
			threshold = defaultFlakyThreshold
		}
		flaky, err := q.store.Flaky(ctx, threshold, p.Window)
		if err != nil {
			return nil, fmt.Errorf("finding flaky entities: %w", err)
		}
		res.Entities = flaky

	case QueryFailedInLast:
		ids, err := q.store.FailedInLast(ctx, orDefault(p.Window, domain.DefaultFailedInLastWindow))
		if err != nil {
			return nil, fmt.Errorf("finding recent failures: %w", err)
		}
		res.IDs = ids

	case QueryFileErrors:
		files, err := q.store.FileErrorFrequency(ctx, p.Validator, p.MinRuns)
		if err != nil {
			return nil, fmt.Errorf("computing file error frequency: %w", err)
		}
		res.Files = files

	case QueryProblematicFiles:
		threshold := p.Threshold
		if threshold <= 0 {
			threshold = defaultProblematicRate
		}
		files, err := q.store.FileErrorFrequency(ctx, p.Validator, orDefault(p.MinRuns, defaultProblematicMinRun))
		if err != nil {
			return nil, fmt.Errorf("computing file error frequency: %w", err)
		}
		for _, f := range files {
			if f.Frequency >= threshold {
				res.Files = append(res.Files, f)
			}
		}

	case QueryValidatorTrend:
		if p.Validator == "" {
			return nil, domain.ConfigError("query %s requires a validator", kind)
		}
		trend, err := q.store.ValidatorTrend(ctx, p.Validator, orDefault(p.Days, defaultTrendDays))
		if err != nil {
			return nil, fmt.Errorf("computing trend of %q: %w", p.Validator, err)
		}
		res.Trend = trend

	case QueryEntities:
		all, err := q.store.EntityStatistics(ctx, p.EntityType)
		if err != nil {
			return nil, fmt.Errorf("listing entities: %w", err)
		}
		res.Entities = make([]domain.EntityStatistics, 0, len(all))
		for _, st := range all {
			res.Entities = append(res.Entities, st)
		}
		sort.Slice(res.Entities, func(i, j int) bool { return res.Entities[i].EntityID < res.Entities[j].EntityID })

	default:
		return nil, domain.ConfigError("unknown query kind %q (valid: %s)", kind, strings.Join(QueryKinds, ", "))
	}
	return res, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
