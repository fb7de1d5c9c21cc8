package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"desceval/internal/logging"
	"desceval/internal/quiz"
	"desceval/internal/services"
	"desceval/internal/services/judge"
	"desceval/internal/services/llm"
	"desceval/internal/textutil"
)

const defaultMaxRetries = 10

// Scorer grades free-text answers through the grading model.
type Scorer interface {
	Score(ctx context.Context, in llm.ScoreInput) (llm.ScoreResult, error)
	ScoreFillInBlank(ctx context.Context, in llm.ScoreInput) (llm.FillBlankResult, error)
}

// CodeRunner executes a coding answer against its driver code.
type CodeRunner interface {
	Evaluate(ctx context.Context, in judge.RunInput) (judge.Result, error)
}

// Evaluator scores submissions against one quiz's question set. It is
// safe for concurrent use: state lives in the items and submissions it
// is handed, never on the evaluator itself.
type Evaluator struct {
	quizID     string
	ordered    []*quiz.Question
	questions  map[string]*quiz.Question
	counts     map[quiz.ItemType]int
	totalMark  float64
	settings   quiz.Settings
	types      map[quiz.ItemType]bool
	scorer     Scorer
	runner     CodeRunner
	maxRetries int
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithScorer wires the grading model used for descriptive and
// fill-in-the-blank answers. Without one, fill-in-the-blank falls back
// to static blank matching and descriptive items error out unless the
// answer matches exactly.
func WithScorer(scorer Scorer) Option {
	return func(e *Evaluator) {
		e.scorer = scorer
	}
}

// WithCodeRunner wires the code execution service for coding answers.
func WithCodeRunner(runner CodeRunner) Option {
	return func(e *Evaluator) {
		e.runner = runner
	}
}

// WithLogger sets the evaluator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxRetries overrides the per-item grading retry ceiling.
func WithMaxRetries(retries int) Option {
	return func(e *Evaluator) {
		if retries > 0 {
			e.maxRetries = retries
		}
	}
}

// WithTypes restricts evaluation to the listed question types. Items of
// other types are skipped, keeping any score they already carry.
func WithTypes(types map[quiz.ItemType]bool) Option {
	return func(e *Evaluator) {
		e.types = types
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// New builds an evaluator over a quiz's questions. Questions should
// already have passed ValidateQuestions; rows that slip through with
// missing answer data reject their items instead of failing the run.
func New(quizID string, questions []*quiz.Question, settings quiz.Settings, opts ...Option) (*Evaluator, error) {
	if len(questions) == 0 {
		return nil, services.Wrap(services.ErrValidation, "evaluation", "new evaluator", "quiz has no questions", nil)
	}
	e := &Evaluator{
		quizID:     quizID,
		ordered:    questions,
		questions:  make(map[string]*quiz.Question, len(questions)),
		counts:     make(map[quiz.ItemType]int),
		settings:   settings,
		maxRetries: defaultMaxRetries,
		logger:     logging.NewNop(),
		now:        time.Now,
	}
	for _, q := range questions {
		e.questions[q.ID] = q
		e.totalMark += q.Mark
		if itemType, ok := quiz.ParseItemType(q.Type); ok {
			e.counts[itemType]++
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// TotalMark returns the sum of all question marks.
func (e *Evaluator) TotalMark() float64 { return e.totalMark }

// TypeCounts returns how many questions carry each known type.
func (e *Evaluator) TypeCounts() map[quiz.ItemType]int {
	counts := make(map[quiz.ItemType]int, len(e.counts))
	for itemType, n := range e.counts {
		counts[itemType] = n
	}
	return counts
}

// Question returns the quiz question with the given id, if known.
func (e *Evaluator) Question(id string) (*quiz.Question, bool) {
	q, ok := e.questions[id]
	return q, ok
}

// wantsType reports whether the type filter admits a question type. An
// empty filter admits everything; a non-empty filter admits only the
// types it lists as true.
func (e *Evaluator) wantsType(itemType quiz.ItemType) bool {
	if len(e.types) == 0 {
		return true
	}
	return e.types[itemType]
}

// ValidateQuestions checks that every question carries the fields its
// type needs to be graded. All problems are reported at once so the
// quiz can be fixed in one pass.
func ValidateQuestions(questions []*quiz.Question) error {
	var issues []string
	for _, q := range questions {
		var problems []string
		if strings.TrimSpace(q.Type) == "" {
			problems = append(problems, "missing type")
		}
		if q.Mark <= 0 {
			problems = append(problems, "missing mark")
		}
		if itemType, known := quiz.ParseItemType(q.Type); known {
			switch itemType {
			case quiz.TypeMCQ, quiz.TypeTrueFalse:
				if len(q.AnswerKeys) == 0 {
					problems = append(problems, "missing answer")
				}
			case quiz.TypeCoding:
				if strings.TrimSpace(q.DriverCode) == "" {
					problems = append(problems, "missing driver code")
				}
			case quiz.TypeFillInBlank, quiz.TypeDescriptive:
				if strings.TrimSpace(q.ExpectedAnswer) == "" {
					problems = append(problems, "missing expected answer")
				}
			}
		}
		if len(problems) > 0 {
			issues = append(issues, fmt.Sprintf("question %s: %s", q.ID, strings.Join(problems, ", ")))
		}
	}
	if len(issues) > 0 {
		return services.Wrap(services.ErrValidation, "evaluation", "validate questions", strings.Join(issues, "; "), nil)
	}
	return nil
}

// EvaluateSubmission walks the quiz's questions in order and scores the
// submission's answer to each. Item failures are recorded on the item
// and never abort the walk; the only error returned is context
// cancellation, which abandons the attempt so the caller can retry it
// from scratch.
func (e *Evaluator) EvaluateSubmission(ctx context.Context, sub *quiz.Submission) (*Outcome, error) {
	started := e.now()
	logger := e.logger.With(
		logging.String(logging.FieldQuizID, e.quizID),
		logging.String(logging.FieldStudentID, sub.StudentID))
	logger.Info("evaluating submission")

	sub.TotalScore = e.totalMark
	outcome := &Outcome{Submission: sub, TotalScore: e.totalMark}

	for _, q := range e.ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, ok := sub.Response(q.ID)
		if !ok {
			logger.Warn("no response for question", logging.String(logging.FieldQuestionID, q.ID))
			outcome.Skipped++
			continue
		}
		itemType, known := quiz.ParseItemType(q.Type)
		if !known {
			logging.WarnWithContext(logger, "unhandled question type", "unknown_item_type",
				logging.String(logging.FieldQuestionID, q.ID),
				logging.String("question_type", q.Type),
				logging.String(logging.FieldImpact, "item skipped, submission continues"))
			outcome.Skipped++
			continue
		}
		if !e.wantsType(itemType) {
			logger.Info("question type excluded from this run",
				logging.String(logging.FieldQuestionID, q.ID),
				logging.String("question_type", string(itemType)))
			outcome.Skipped++
			continue
		}

		item := &Item{
			QuestionID: q.ID,
			Type:       itemType,
			Question:   q,
			Response:   resp,
			State:      quiz.StatePending,
		}
		outcome.Items = append(outcome.Items, item)
		if err := e.evaluateItem(ctx, logger, item); err != nil {
			return nil, err
		}
		switch item.State {
		case quiz.StateScored:
			outcome.Scored++
		case quiz.StateRejected:
			outcome.Rejected++
		case quiz.StateErrored:
			outcome.Errored++
		}
	}

	// Answers that reference no known question are hard per-item errors:
	// they cannot be graded, but they must not sink the submission.
	for _, questionID := range orphanResponseIDs(sub, e.questions) {
		resp, _ := sub.Response(questionID)
		item := &Item{QuestionID: questionID, Response: resp, State: quiz.StatePending}
		e.rejectItem(item, "response references unknown question")
		outcome.Items = append(outcome.Items, item)
		outcome.Rejected++
		logging.WarnWithContext(logger, "response references unknown question", "response_question_mismatch",
			logging.String(logging.FieldQuestionID, questionID),
			logging.String(logging.FieldImpact, "item rejected, submission continues"))
	}

	score := quiz.FinalScore(sub.Responses)
	sub.Score = &score
	outcome.Score = score
	outcome.Elapsed = e.now().Sub(started)

	logger.Info("submission evaluated",
		logging.Float64("score", score),
		logging.Float64("total_score", e.totalMark),
		logging.Int("scored", outcome.Scored),
		logging.Int("rejected", outcome.Rejected),
		logging.Int("errored", outcome.Errored),
		logging.Int("skipped", outcome.Skipped),
		logging.Duration("elapsed", outcome.Elapsed))
	return outcome, nil
}

// evaluateItem validates and scores a single item. The returned error is
// non-nil only for context cancellation.
func (e *Evaluator) evaluateItem(ctx context.Context, logger *slog.Logger, item *Item) error {
	started := e.now()
	defer func() { item.Duration = e.now().Sub(started) }()

	item.advance(quiz.StateValidated)
	switch item.Type {
	case quiz.TypeMCQ:
		e.scoreMCQItem(item)
	case quiz.TypeTrueFalse:
		e.scoreTrueFalseItem(item)
	case quiz.TypeFillInBlank:
		return e.scoreFillBlankItem(ctx, logger, item)
	case quiz.TypeDescriptive:
		return e.scoreDescriptiveItem(ctx, logger, item)
	case quiz.TypeCoding:
		return e.scoreCodingItem(ctx, logger, item)
	}
	return nil
}

func (e *Evaluator) scoreMCQItem(item *Item) {
	item.Method = MethodAuto
	q, resp := item.Question, item.Response
	if !resp.Answered() {
		e.recordEmpty(item, "No answer provided")
		return
	}
	if len(q.AnswerKeys) == 0 {
		e.rejectItem(item, "question has no answer keys")
		return
	}

	var score float64
	if e.settings.MCQPartialMarking {
		score = ScoreMCQPartial(resp.StudentAnswer, q.AnswerKeys, q.Mark)
	} else {
		score = ScoreMCQ(resp.StudentAnswer, q.AnswerKeys, q.Mark)
	}
	e.recordScore(item, score, "")
	e.applyNegative(item, score)
}

func (e *Evaluator) scoreTrueFalseItem(item *Item) {
	item.Method = MethodAuto
	q, resp := item.Question, item.Response
	if !resp.Answered() {
		e.recordEmpty(item, "No answer provided")
		return
	}
	if len(q.AnswerKeys) == 0 {
		e.rejectItem(item, "question has no answer keys")
		return
	}

	score := ScoreTrueFalse(firstAnswer(resp), q.AnswerKeys, q.Mark)
	e.recordScore(item, score, "")
	e.applyNegative(item, score)
}

func (e *Evaluator) scoreFillBlankItem(ctx context.Context, logger *slog.Logger, item *Item) error {
	q, resp := item.Question, item.Response
	if !resp.Answered() {
		item.Method = MethodAuto
		e.recordEmpty(item, "No answer provided")
		return nil
	}

	answer := firstAnswer(resp)
	if DirectMatch(answer, q.ExpectedAnswer) {
		item.Method = MethodExactMatch
		e.recordScore(item, q.Mark, "Exact Match")
		return nil
	}

	if e.scorer == nil {
		item.Method = MethodAuto
		score := ScoreFillBlankStatic(answer, q.ExpectedAnswer, q.Mark)
		e.recordScore(item, score, "Blank matching")
		return nil
	}

	item.Method = MethodLLM
	in := llm.ScoreInput{
		Question:       strings.TrimSpace(textutil.StripHTML(q.Text)),
		StudentAnswer:  answer,
		ExpectedAnswer: q.ExpectedAnswer,
		TotalScore:     q.Mark,
	}

	var last llm.FillBlankResult
	var attemptErrs []string
	settled := false
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		item.Attempts = attempt
		result, err := e.scorer.ScoreFillInBlank(ctx, in)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			attemptErrs = append(attemptErrs, err.Error())
			continue
		}
		last = result
		if !result.Status.Retryable() {
			settled = true
			break
		}
		attemptErrs = append(attemptErrs, result.Reason)
	}
	if !settled {
		e.erroredItem(item, quiz.EvalLLMError, gradingFailureNote(item.Attempts, attemptErrs))
		logging.ErrorWithContext(logger, "fill-in-blank grading exhausted retries", "item_grading_failed",
			logging.String(logging.FieldQuestionID, q.ID),
			logging.Int("attempts", item.Attempts),
			logging.String(logging.FieldImpact, "item scored zero"))
		return nil
	}

	item.Status = last.Status
	resp.SetScore(last.Score)
	resp.Remarks = last.Reason
	item.advance(quiz.StateScored)
	return nil
}

func (e *Evaluator) scoreDescriptiveItem(ctx context.Context, logger *slog.Logger, item *Item) error {
	q, resp := item.Question, item.Response
	if !resp.Answered() {
		item.Method = MethodAuto
		e.recordEmpty(item, "No answer provided")
		return nil
	}

	answer := firstAnswer(resp)
	if DirectMatch(answer, q.ExpectedAnswer) {
		item.Method = MethodExactMatch
		resp.SetScore(q.Mark)
		resp.Remarks = "Exact Match"
		resp.Breakdown = "Exact Match - LLM not used"
		item.Status = quiz.EvalSuccess
		item.advance(quiz.StateScored)
		return nil
	}

	if e.scorer == nil {
		e.erroredItem(item, quiz.EvalInvalidInput, "grading model not configured")
		return nil
	}

	item.Method = MethodLLM
	in := llm.ScoreInput{
		Question:       strings.TrimSpace(textutil.StripHTML(q.Text)),
		StudentAnswer:  answer,
		ExpectedAnswer: q.ExpectedAnswer,
		Guidelines:     q.Guidelines,
		TotalScore:     q.Mark,
	}

	var last llm.ScoreResult
	var attemptErrs []string
	settled := false
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		item.Attempts = attempt
		result, err := e.scorer.Score(ctx, in)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			attemptErrs = append(attemptErrs, err.Error())
			continue
		}
		last = result
		if !result.Status.Retryable() {
			settled = true
			break
		}
		attemptErrs = append(attemptErrs, result.Reason)
	}
	if !settled {
		e.erroredItem(item, quiz.EvalLLMError, gradingFailureNote(item.Attempts, attemptErrs))
		logging.ErrorWithContext(logger, "descriptive grading exhausted retries", "item_grading_failed",
			logging.String(logging.FieldQuestionID, q.ID),
			logging.Int("attempts", item.Attempts),
			logging.String(logging.FieldImpact, "item scored zero"))
		return nil
	}

	item.Status = last.Status
	resp.SetScore(last.Score)
	resp.Remarks = last.Reason
	if last.Breakdown != "" {
		resp.Breakdown = last.Breakdown
	}
	item.advance(quiz.StateScored)
	return nil
}

func (e *Evaluator) scoreCodingItem(ctx context.Context, logger *slog.Logger, item *Item) error {
	item.Method = MethodTestCases
	q, resp := item.Question, item.Response
	if !resp.Answered() {
		e.recordEmpty(item, "No code submitted")
		return nil
	}
	if e.runner == nil {
		e.erroredItem(item, quiz.EvalInvalidInput, "code execution service not configured")
		return nil
	}

	code, err := decodeCodeAnswer(firstAnswer(resp))
	if err != nil {
		e.rejectItem(item, "code answer payload does not decode")
		return nil
	}

	in := judge.RunInput{
		Code:          code.Content,
		Language:      code.Language,
		DriverCode:    q.DriverCode,
		ExpectedCases: len(q.TestCases),
	}

	var result judge.Result
	var lastErr error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		item.Attempts = attempt
		result, lastErr = e.runner.Evaluate(ctx, in)
		if lastErr == nil {
			break
		}
		if errors.Is(lastErr, judge.ErrNoTestCases) {
			e.rejectItem(item, "driver code has no test cases")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	if lastErr != nil {
		e.erroredItem(item, quiz.EvalLLMError, "code execution failed: "+lastErr.Error())
		logging.ErrorWithContext(logger, "code execution exhausted retries", "item_grading_failed",
			logging.String(logging.FieldQuestionID, q.ID),
			logging.Int("attempts", item.Attempts),
			logging.String(logging.FieldImpact, "item scored zero"))
		return nil
	}

	var score float64
	switch {
	case result.Total <= 0:
		score = 0
	case e.settings.CodingPartialMarking:
		score = Round2(q.Mark * float64(result.Passed) / float64(result.Total))
	case result.Passed == result.Total:
		score = q.Mark
	}
	e.recordScore(item, score, result.Output)
	return nil
}

// recordScore finalizes a successfully scored item.
func (e *Evaluator) recordScore(item *Item, score float64, remarks string) {
	item.Response.SetScore(score)
	if remarks != "" {
		item.Response.Remarks = remarks
	}
	item.Status = quiz.EvalSuccess
	item.advance(quiz.StateScored)
}

// recordEmpty scores an unanswered item at zero. Blanks are scored, not
// failed, and never draw a negative mark.
func (e *Evaluator) recordEmpty(item *Item, remarks string) {
	item.Response.SetScore(0)
	item.Response.Remarks = remarks
	item.Status = quiz.EvalEmptyAnswer
	item.advance(quiz.StateScored)
}

func (e *Evaluator) rejectItem(item *Item, note string) {
	if item.Response != nil {
		item.Response.SetScore(0)
		item.Response.Remarks = note
	}
	item.reject(note)
}

func (e *Evaluator) erroredItem(item *Item, status quiz.EvalStatus, note string) {
	if item.Response != nil {
		item.Response.SetScore(0)
		item.Response.Remarks = note
	}
	item.errored(status, note)
}

// applyNegative records the penalty for a wrong answer-key response when
// the quiz enables negative marking.
func (e *Evaluator) applyNegative(item *Item, score float64) {
	penalty := NegativeMark(item.Question, e.settings, score, item.Response.Answered())
	if penalty != 0 {
		item.Response.SetNegative(penalty)
	}
}

type codeAnswer struct {
	Content  string `json:"content"`
	Language string `json:"language"`
}

// decodeCodeAnswer unpacks a coding response payload: a JSON array whose
// first element carries the program text and language.
func decodeCodeAnswer(raw string) (*codeAnswer, error) {
	var entries []codeAnswer
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode code answer: %w", err)
	}
	if len(entries) == 0 {
		return nil, errors.New("code answer payload is empty")
	}
	return &entries[0], nil
}

func firstAnswer(resp *quiz.Response) string {
	if resp == nil || len(resp.StudentAnswer) == 0 {
		return ""
	}
	return resp.StudentAnswer[0]
}

func gradingFailureNote(attempts int, errs []string) string {
	note := fmt.Sprintf("Evaluation failed after %d attempts", attempts)
	if len(errs) == 0 {
		return note
	}
	const keep = 3
	if len(errs) > keep {
		errs = errs[len(errs)-keep:]
	}
	return note + ": " + strings.Join(errs, "; ")
}

func orphanResponseIDs(sub *quiz.Submission, questions map[string]*quiz.Question) []string {
	var orphans []string
	for questionID := range sub.Responses {
		if _, ok := questions[questionID]; !ok {
			orphans = append(orphans, questionID)
		}
	}
	sort.Strings(orphans)
	return orphans
}
