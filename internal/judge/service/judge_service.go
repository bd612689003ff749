package service

import (
	"context"
	"fmt"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/sandbox"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/runner"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxSourceBytes = 64 << 10
	defaultSlotWait       = 2 * time.Second
	defaultLockTTL        = 10 * time.Minute
)

// Executor runs one judging pass.
type Executor interface {
	Execute(ctx context.Context, req sandbox.JudgeRequest) (result.JudgeResult, error)
}

// StatusStore keeps live judge status.
type StatusStore interface {
	Get(ctx context.Context, submissionKey string) (model.JudgeStatusResponse, error)
	Save(ctx context.Context, status model.JudgeStatusResponse) error
}

// Service handles judge tasks.
type Service struct {
	worker         Executor
	testcases      repository.TestcaseSource
	submissions    repository.SubmissionWriter
	statusRepo     StatusStore
	lock           cache.LockOps
	storage        storage.ObjectStorage
	retryQueue     mq.Producer
	sourceBucket   string
	retry          RetryPolicy
	limits         runner.Limits
	maxSourceBytes int
	workerTimeout  time.Duration
	storageTimeout time.Duration
	statusTimeout  time.Duration
	lockTTL        time.Duration
	slotWait       time.Duration
	sem            chan struct{}
}

// Config holds service dependencies and settings. Optional dependencies may
// be nil: StatusRepo, Lock, Storage and RetryQueue.
type Config struct {
	Worker         Executor
	Testcases      repository.TestcaseSource
	Submissions    repository.SubmissionWriter
	StatusRepo     StatusStore
	Lock           cache.LockOps
	Storage        storage.ObjectStorage
	SourceBucket   string
	RetryQueue     mq.Producer
	Retry          RetryPolicy
	Limits         runner.Limits
	MaxSourceBytes int
	WorkerTimeout  time.Duration
	StorageTimeout time.Duration
	StatusTimeout  time.Duration
	LockTTL        time.Duration
	SlotWait       time.Duration
	WorkerPoolSize int
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Worker == nil {
		return nil, fmt.Errorf("worker is required")
	}
	if cfg.Testcases == nil {
		return nil, fmt.Errorf("testcase source is required")
	}
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission writer is required")
	}
	if cfg.Storage != nil && cfg.SourceBucket == "" {
		return nil, fmt.Errorf("source bucket is required with storage")
	}
	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = defaultMaxSourceBytes
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.SlotWait <= 0 {
		cfg.SlotWait = defaultSlotWait
	}
	return &Service{
		worker:         cfg.Worker,
		testcases:      cfg.Testcases,
		submissions:    cfg.Submissions,
		statusRepo:     cfg.StatusRepo,
		lock:           cfg.Lock,
		storage:        cfg.Storage,
		retryQueue:     cfg.RetryQueue,
		sourceBucket:   cfg.SourceBucket,
		retry:          cfg.Retry,
		limits:         cfg.Limits,
		maxSourceBytes: cfg.MaxSourceBytes,
		workerTimeout:  cfg.WorkerTimeout,
		storageTimeout: cfg.StorageTimeout,
		statusTimeout:  cfg.StatusTimeout,
		lockTTL:        cfg.LockTTL,
		slotWait:       cfg.SlotWait,
		sem:            make(chan struct{}, poolSize),
	}, nil
}

// Judge runs one submission to completion and writes its terminal row once.
// A failed write leaves SubmissionID nil but still returns the result.
// Cancelling ctx only aborts the wait for a worker slot.
func (s *Service) Judge(ctx context.Context, req model.SubmissionRequest) (result.JudgeResult, error) {
	if req.SubmissionKey == "" {
		req.SubmissionKey = uuid.NewString()
	}
	if req.ReceivedAt == 0 {
		req.ReceivedAt = time.Now().Unix()
	}
	ctx = context.WithValue(ctx, contextkey.SubmissionID, req.SubmissionKey)

	if err := s.validate(req); err != nil {
		return result.JudgeResult{}, err
	}
	if err := s.acquireSlot(ctx); err != nil {
		return result.JudgeResult{}, err
	}
	defer s.releaseSlot()
	// Once admitted, a run is bounded by the worker timeout only, so a caller
	// that goes away still gets its row and final status written.
	ctx = context.WithoutCancel(ctx)

	testcases, err := s.testcases.ListByProblem(ctx, req.ProblemID)
	if err != nil {
		return result.JudgeResult{}, s.handleFailure(ctx, req, err)
	}
	tests := toTestcaseSpecs(testcases)

	s.saveStatus(ctx, model.JudgeStatusResponse{
		SubmissionKey: req.SubmissionKey,
		Status:        result.StatusRunning,
		Language:      req.Language,
		Progress:      model.Progress{TotalTests: len(tests)},
		Timestamps:    model.Timestamps{ReceivedAt: req.ReceivedAt},
	})

	ctxWorker := ctx
	if s.workerTimeout > 0 {
		var cancel context.CancelFunc
		ctxWorker, cancel = context.WithTimeout(ctx, s.workerTimeout)
		defer cancel()
	}
	res, err := s.worker.Execute(ctxWorker, sandbox.JudgeRequest{
		SubmissionID: req.SubmissionKey,
		LanguageID:   req.Language,
		Source:       req.Source,
		Tests:        tests,
		Limits:       s.limits,
		ReceivedAt:   req.ReceivedAt,
	})
	if err != nil {
		return result.JudgeResult{}, s.handleFailure(ctx, req, err)
	}

	s.persist(ctx, req, &res)

	s.saveStatus(ctx, model.JudgeStatusResponse{
		SubmissionKey: req.SubmissionKey,
		Status:        result.StatusFinished,
		Language:      req.Language,
		Progress:      model.Progress{TotalTests: len(tests), DoneTests: len(res.Tests)},
		Result:        &res,
		Timestamps:    model.Timestamps{ReceivedAt: req.ReceivedAt, FinishedAt: time.Now().Unix()},
	})
	logger.Info(ctx, "submission judged",
		zap.String("status", string(res.Status)),
		zap.String("verdict", string(res.Verdict)),
		zap.Int("score", res.Score),
		zap.Int("total", res.Total),
		zap.Int64("execution_time_ms", res.ExecutionTimeMs),
	)
	return res, nil
}

func (s *Service) validate(req model.SubmissionRequest) error {
	if req.ProblemID <= 0 {
		return appErr.ValidationError("problem_id", "required")
	}
	if req.Language == "" {
		return appErr.ValidationError("language", "required")
	}
	if req.Source == "" {
		return appErr.ValidationError("source", "required")
	}
	if len(req.Source) > s.maxSourceBytes {
		return appErr.New(appErr.CodeTooLarge).WithDetail("max_bytes", s.maxSourceBytes)
	}
	return nil
}

// persist writes the terminal row. Failures are logged and leave
// res.SubmissionID nil.
func (s *Service) persist(ctx context.Context, req model.SubmissionRequest, res *result.JudgeResult) {
	record := &model.SubmissionRecord{
		SubmissionKey:   req.SubmissionKey,
		UserID:          req.UserID,
		ProblemID:       req.ProblemID,
		Language:        req.Language,
		Source:          req.Source,
		Status:          string(res.Status),
		Verdict:         string(res.Verdict),
		Score:           res.Score,
		Total:           res.Total,
		CompileLog:      res.CompileLog,
		RuntimeLog:      res.RuntimeLog,
		ExecutionTimeMs: res.ExecutionTimeMs,
	}
	id, err := s.submissions.Create(context.WithoutCancel(ctx), record)
	if err != nil {
		logger.Error(ctx, "persist submission failed", zap.Error(err))
		return
	}
	res.SubmissionID = &id
}

func (s *Service) acquireSlot(ctx context.Context) error {
	timer := time.NewTimer(s.slotWait)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return appErr.Wrapf(ctx.Err(), appErr.JudgeSystemError, "wait for worker slot canceled")
	case <-timer.C:
		return appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
	}
}

func (s *Service) releaseSlot() {
	select {
	case <-s.sem:
	default:
	}
}

func toTestcaseSpecs(testcases []model.Testcase) []sandbox.TestcaseSpec {
	specs := make([]sandbox.TestcaseSpec, 0, len(testcases))
	for _, tc := range testcases {
		specs = append(specs, sandbox.TestcaseSpec{
			ID:       tc.ID,
			Input:    tc.Input,
			Expected: tc.Output,
			Weight:   tc.Weight,
			Sample:   tc.IsSample,
		})
	}
	return specs
}
