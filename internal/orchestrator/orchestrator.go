// Package orchestrator runs one quiz evaluation job end to end: it loads
// the quiz through the Redis read-through caches, partitions submissions
// into fixed-size batches, grades each batch with bounded concurrency,
// persists results, and generates the quiz report.
//
// A run moves through five phases, each published to the progress
// snapshot: validating, loading, evaluating, saving, finalizing. Job
// status itself (queued, started, finished) belongs to the caller; the
// orchestrator only maintains the durable job row's counts while it
// works.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"desceval/internal/config"
	"desceval/internal/evaluation"
	"desceval/internal/jobqueue"
	"desceval/internal/logging"
	"desceval/internal/metrics"
	"desceval/internal/progress"
	"desceval/internal/quiz"
	"desceval/internal/report"
	"desceval/internal/services"
)

// Store is the durable state the orchestrator reads and writes. The
// SQLite store satisfies it.
type Store interface {
	GetQuiz(ctx context.Context, quizID string) (*quiz.Quiz, error)
	QuestionsForQuiz(ctx context.Context, quizID string) ([]*quiz.Question, error)
	SetGuidelines(ctx context.Context, questionID, guidelines string) error
	SubmissionsForQuiz(ctx context.Context, quizID string) ([]*quiz.Submission, error)
	MarkSubmissionsUnevaluated(ctx context.Context, quizID string) (int64, error)
	SaveEvaluation(ctx context.Context, submissionID string, responses map[string]*quiz.Response, score float64) error
	MarkJobEvaluating(ctx context.Context, jobID, worker string, total int) error
	UpdateJobCounts(ctx context.Context, jobID string, evaluated, failed, skipped int) error
	SaveReport(ctx context.Context, quizID string, reportJSON []byte) error
	SetQuizEvaluated(ctx context.Context, quizID string, state quiz.EvaluationState) error
}

// Client is the subset of Redis commands the orchestrator needs for its
// caches and progress snapshots.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	SetEx(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// GuidelineGenerator produces a grading rubric for a descriptive
// question. The grading model client satisfies it.
type GuidelineGenerator interface {
	GenerateGuidelines(ctx context.Context, question, expectedAnswer string, totalScore float64) (string, error)
}

// Result summarizes one finished run.
type Result struct {
	JobID     string
	QuizID    string
	Total     int
	Evaluated int
	Failed    int
	Skipped   int
	Elapsed   time.Duration
	Report    *report.Report
}

// Orchestrator executes evaluation jobs for one deployment.
type Orchestrator struct {
	cfg         config.Evaluation
	store       Store
	client      Client
	scorer      evaluation.Scorer
	runner      evaluation.CodeRunner
	guides      GuidelineGenerator
	metrics     *metrics.Collector
	artifactDir string
	logger      *slog.Logger
	now         func() time.Time
	sleep       func(time.Duration)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithScorer sets the grading model client used for descriptive and
// fill-in-the-blank items.
func WithScorer(scorer evaluation.Scorer) Option {
	return func(o *Orchestrator) { o.scorer = scorer }
}

// WithCodeRunner sets the code execution client used for coding items.
func WithCodeRunner(runner evaluation.CodeRunner) Option {
	return func(o *Orchestrator) { o.runner = runner }
}

// WithGuidelineGenerator sets the client used to build missing grading
// rubrics during the loading phase.
func WithGuidelineGenerator(guides GuidelineGenerator) Option {
	return func(o *Orchestrator) { o.guides = guides }
}

// WithMetrics wires run outcomes into the Prometheus collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = collector }
}

// WithArtifactDir enables report artifact files under dir.
func WithArtifactDir(dir string) Option {
	return func(o *Orchestrator) { o.artifactDir = dir }
}

// WithLogger sets the run logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSleeper overrides the retry backoff sleep.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// New builds an orchestrator over the given store and Redis client.
// Zero-valued cfg fields fall back to repository defaults.
func New(store Store, client Client, cfg config.Evaluation, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		store:  store,
		client: client,
		logger: logging.NewNop(),
		now:    time.Now,
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one evaluation job under the named worker. The returned
// Result carries whatever counts were reached even when Run errors; the
// error reports whole-run failures only, never individual submission
// outcomes.
func (o *Orchestrator) Run(ctx context.Context, req *jobqueue.Request, worker string) (*Result, error) {
	if req == nil || req.JobID == "" || req.QuizID == "" {
		return nil, services.Wrap(services.ErrValidation, "orchestrator", "run", "request requires job and quiz ids", nil)
	}

	started := o.now()
	res := &Result{JobID: req.JobID, QuizID: req.QuizID}
	log := o.logger.With(
		logging.String(logging.FieldJobID, req.JobID),
		logging.String(logging.FieldQuizID, req.QuizID),
		logging.String(logging.FieldWorker, worker))

	if req.OverrideCache {
		o.clearQuizCaches(ctx, req.QuizID)
	}

	tracker := progress.NewTracker(o.client, req.QuizID, 0,
		progress.WithLogger(log), progress.WithClock(o.now))
	tracker.SetPhase(ctx, progress.PhaseValidating)

	qz, err := o.store.GetQuiz(ctx, req.QuizID)
	if err != nil {
		return res, services.Wrap(services.ErrExternalService, "orchestrator", "load quiz", req.QuizID, err)
	}
	if qz == nil {
		return res, services.Wrap(services.ErrNotFound, "orchestrator", "validate", "quiz "+req.QuizID+" does not exist", nil)
	}

	questions, err := o.loadQuestions(ctx, req.QuizID, req.OverrideCache)
	if err != nil {
		return res, err
	}
	if err := evaluation.ValidateQuestions(questions); err != nil {
		return res, err
	}

	ev, err := evaluation.New(req.QuizID, questions, qz.Settings,
		evaluation.WithScorer(o.scorer),
		evaluation.WithCodeRunner(o.runner),
		evaluation.WithMaxRetries(o.cfg.MaxRetries),
		evaluation.WithTypes(o.parseTypes(log, req.Types)),
		evaluation.WithLogger(log))
	if err != nil {
		return res, err
	}

	submissions, err := o.loadSubmissions(ctx, req.QuizID, req.OverrideCache)
	if err != nil {
		return res, err
	}
	if len(submissions) == 0 {
		return res, services.Wrap(services.ErrValidation, "orchestrator", "validate", "quiz "+req.QuizID+" has no submissions", nil)
	}

	tracker.SetPhase(ctx, progress.PhaseLoading)
	if req.OverrideEvaluated {
		if _, err := o.store.MarkSubmissionsUnevaluated(ctx, req.QuizID); err != nil {
			return res, services.Wrap(services.ErrExternalService, "orchestrator", "reset submissions", req.QuizID, err)
		}
	}

	var eligible []*quiz.Submission
	for _, sub := range submissions {
		if !req.OverrideEvaluated && sub.IsEvaluated == quiz.Evaluated {
			res.Skipped++
			continue
		}
		eligible = append(eligible, sub)
	}
	res.Total = len(submissions)
	tracker.SetTotal(res.Total)

	if err := o.store.MarkJobEvaluating(ctx, req.JobID, worker, res.Total); err != nil {
		log.Warn("failed to mark job evaluating", logging.Error(err))
	}
	if res.Skipped > 0 {
		tracker.AdvanceBy(ctx, res.Skipped, progress.PhaseLoading)
		if o.metrics != nil {
			for i := 0; i < res.Skipped; i++ {
				o.metrics.SubmissionSettled(metrics.SubmissionSkipped, 0)
			}
		}
	}

	if len(eligible) == 0 {
		tracker.SetPhase(ctx, progress.PhaseFinalizing)
		o.updateJobCounts(ctx, log, req.JobID, res)
		res.Elapsed = o.now().Sub(started)
		log.Info("no submissions need evaluation",
			logging.Int("skipped", res.Skipped),
			logging.Duration("elapsed", res.Elapsed))
		return res, nil
	}

	o.warmGuidelines(ctx, questions, req.OverrideCache)

	timeout := o.submissionTimeout(ev.TypeCounts(), req.TimeoutSeconds)
	batchSize := o.batchSize()
	batchCount := (len(eligible) + batchSize - 1) / batchSize

	tracker.SetPhase(ctx, progress.PhaseEvaluating)
	log.Info("evaluation run starting",
		logging.Int("submissions", len(eligible)),
		logging.Int("skipped", res.Skipped),
		logging.Int(logging.FieldBatchCount, batchCount),
		logging.Int("batch_size", batchSize),
		logging.Duration("submission_timeout", timeout))

	counts := tally{sampler: logging.NewProgressSampler(5)}
	for index := 0; index*batchSize < len(eligible); index++ {
		if ctx.Err() != nil {
			break
		}
		start := index * batchSize
		end := min(start+batchSize, len(eligible))
		o.runBatch(ctx, log, ev, tracker, eligible[start:end], index+1, batchCount, timeout, &counts)

		res.Evaluated = counts.evaluated
		res.Failed = counts.failed
		o.updateJobCounts(ctx, log, req.JobID, res)
	}

	if err := ctx.Err(); err != nil {
		return res, services.Wrap(services.ErrTimeout, "orchestrator", "evaluate", "run interrupted", err)
	}

	if res.Evaluated > 0 {
		// Cached submissions predate the writes above.
		o.clearQuizCaches(ctx, req.QuizID)
	}

	tracker.SetPhase(ctx, progress.PhaseSaving)
	if err := o.saveReport(ctx, log, req.QuizID, questions, res); err != nil {
		return res, err
	}

	tracker.SetPhase(ctx, progress.PhaseFinalizing)
	o.updateJobCounts(ctx, log, req.JobID, res)
	res.Elapsed = o.now().Sub(started)
	log.Info("evaluation run complete",
		logging.Int("evaluated", res.Evaluated),
		logging.Int("failed", res.Failed),
		logging.Int("skipped", res.Skipped),
		logging.Duration("elapsed", res.Elapsed))
	return res, nil
}

// saveReport regenerates and stores the quiz report from every evaluated
// submission on record. It is a no-op when none exist yet.
func (o *Orchestrator) saveReport(ctx context.Context, log *slog.Logger, quizID string, questions []*quiz.Question, res *Result) error {
	all, err := o.store.SubmissionsForQuiz(ctx, quizID)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "orchestrator", "load results", quizID, err)
	}
	var evaluated []*quiz.Submission
	for _, sub := range all {
		if sub.IsEvaluated == quiz.Evaluated && sub.Score != nil {
			evaluated = append(evaluated, sub)
		}
	}
	if len(evaluated) == 0 {
		log.Info("skipping report, no evaluated submissions on record")
		return nil
	}

	rep, err := report.Generate(quizID, questions, evaluated, log)
	if err != nil {
		return err
	}

	opts := []report.SaverOption{
		report.WithMaxRetries(o.dbRetries()),
		report.WithLogger(log),
		report.WithSleeper(o.sleep),
	}
	if o.artifactDir != "" {
		opts = append(opts, report.WithArtifactDir(o.artifactDir))
	}
	if err := report.NewSaver(o.store, opts...).Save(ctx, rep); err != nil {
		return err
	}
	res.Report = rep
	return nil
}

func (o *Orchestrator) updateJobCounts(ctx context.Context, log *slog.Logger, jobID string, res *Result) {
	if err := o.store.UpdateJobCounts(ctx, jobID, res.Evaluated, res.Failed, res.Skipped); err != nil {
		log.Warn("failed to update job counts", logging.Error(err))
	}
}

func (o *Orchestrator) parseTypes(log *slog.Logger, raw map[string]bool) map[quiz.ItemType]bool {
	if len(raw) == 0 {
		return nil
	}
	types := make(map[quiz.ItemType]bool, len(raw))
	for value, on := range raw {
		if !on {
			continue
		}
		itemType, ok := quiz.ParseItemType(value)
		if !ok {
			logging.WarnWithContext(log, "ignoring unknown question type filter", "unknown_item_type",
				logging.String("item_type", value),
				logging.String(logging.FieldImpact, "filter entry has no effect"))
			continue
		}
		types[itemType] = true
	}
	if len(types) == 0 {
		return nil
	}
	return types
}

// submissionTimeout sizes the per-attempt deadline from the quiz's mix
// of model-graded questions, floored so short quizzes still get a
// workable window. A positive request override wins.
func (o *Orchestrator) submissionTimeout(typeCounts map[quiz.ItemType]int, overrideSeconds int) time.Duration {
	if overrideSeconds > 0 {
		return time.Duration(overrideSeconds) * time.Second
	}
	descriptive := o.cfg.DescriptiveSeconds
	if descriptive <= 0 {
		descriptive = 20
	}
	fillBlank := o.cfg.FillBlankSeconds
	if fillBlank <= 0 {
		fillBlank = 20
	}
	minimum := o.cfg.MinTimeout
	if minimum <= 0 {
		minimum = 90
	}

	seconds := typeCounts[quiz.TypeDescriptive]*descriptive + typeCounts[quiz.TypeFillInBlank]*fillBlank
	if seconds < minimum {
		seconds = minimum
	}
	return time.Duration(seconds) * time.Second
}

func (o *Orchestrator) batchSize() int {
	size := o.cfg.BatchSize
	if size <= 0 {
		size = 5
	}
	if limit := o.cfg.MaxBatchSize; limit > 0 && size > limit {
		size = limit
	}
	return size
}

func (o *Orchestrator) batchTimeout() time.Duration {
	if o.cfg.BatchTimeout > 0 {
		return time.Duration(o.cfg.BatchTimeout) * time.Second
	}
	return 300 * time.Second
}

func (o *Orchestrator) heartbeatInterval() time.Duration {
	if o.cfg.HeartbeatInterval > 0 {
		return time.Duration(o.cfg.HeartbeatInterval) * time.Second
	}
	return 10 * time.Second
}

func (o *Orchestrator) evalRetries() int {
	if o.cfg.MaxRetries > 0 {
		return o.cfg.MaxRetries
	}
	return 10
}

func (o *Orchestrator) dbRetries() int {
	if o.cfg.DBMaxRetries > 0 {
		return o.cfg.DBMaxRetries
	}
	return 3
}

func (o *Orchestrator) cacheTTL() time.Duration {
	if o.cfg.CacheTTL > 0 {
		return time.Duration(o.cfg.CacheTTL) * time.Second
	}
	return time.Hour
}

func (o *Orchestrator) guidelineTTL() time.Duration {
	if o.cfg.GuidelineCacheTTL > 0 {
		return time.Duration(o.cfg.GuidelineCacheTTL) * time.Second
	}
	return 24 * time.Hour
}
