package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

const (
	defaultTestcaseCacheTTL      = 10 * time.Minute
	defaultTestcaseCacheEmptyTTL = time.Minute
	testcaseCacheKeyPrefix       = "judge:testcases:"
)

// TestcaseSource resolves a problem to its testcases.
type TestcaseSource interface {
	ListByProblem(ctx context.Context, problemID int64) ([]model.Testcase, error)
}

// TestcaseRepository reads testcases from MySQL with an optional Redis cache.
type TestcaseRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewTestcaseRepository creates a testcase repository. cacheClient may be nil.
func NewTestcaseRepository(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *TestcaseRepository {
	if ttl <= 0 {
		ttl = defaultTestcaseCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultTestcaseCacheEmptyTTL
	}
	return &TestcaseRepository{db: database, cache: cacheClient, ttl: ttl, emptyTTL: emptyTTL}
}

// ListByProblem returns the testcases of a problem ordered by id. A problem
// without testcases yields an empty slice.
func (r *TestcaseRepository) ListByProblem(ctx context.Context, problemID int64) ([]model.Testcase, error) {
	if problemID <= 0 {
		return nil, appErr.ValidationError("problem_id", "required")
	}
	if r.cache == nil {
		return r.listFromDB(ctx, problemID)
	}
	return cache.GetWithCached[[]model.Testcase](
		ctx,
		r.cache,
		testcaseCacheKey(problemID),
		r.ttl,
		r.emptyTTL,
		func(tests []model.Testcase) bool { return len(tests) == 0 },
		marshalTestcases,
		unmarshalTestcases,
		func(ctx context.Context) ([]model.Testcase, error) {
			return r.listFromDB(ctx, problemID)
		},
	)
}

func (r *TestcaseRepository) listFromDB(ctx context.Context, problemID int64) ([]model.Testcase, error) {
	if r.db == nil {
		return nil, appErr.New(appErr.DatabaseError).WithMessage("database is not initialized")
	}
	query := `SELECT id, input, output, weight, is_sample FROM testcases WHERE problem_id = ? ORDER BY id`
	rows, err := r.db.Query(ctx, query, problemID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query testcases failed")
	}
	defer rows.Close()

	var tests []model.Testcase
	for rows.Next() {
		var (
			tc     model.Testcase
			weight sql.NullInt64
		)
		if err := rows.Scan(&tc.ID, &tc.Input, &tc.Output, &weight, &tc.IsSample); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan testcase failed")
		}
		if weight.Valid {
			w := int(weight.Int64)
			tc.Weight = &w
		}
		tests = append(tests, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate testcases failed")
	}
	return tests, nil
}

func testcaseCacheKey(problemID int64) string {
	return fmt.Sprintf("%s%d", testcaseCacheKeyPrefix, problemID)
}

func marshalTestcases(tests []model.Testcase) (string, error) {
	data, err := json.Marshal(tests)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalTestcases(data string) ([]model.Testcase, error) {
	var tests []model.Testcase
	if err := json.Unmarshal([]byte(data), &tests); err != nil {
		return nil, err
	}
	return tests, nil
}
