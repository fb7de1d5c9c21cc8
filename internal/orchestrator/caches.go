package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"desceval/internal/logging"
	"desceval/internal/quiz"
	"desceval/internal/services"
	"desceval/internal/textutil"
)

// QuestionsCacheKey returns the Redis key caching a quiz's question set:
// questions:{quiz_id}_questions_evalcache
func QuestionsCacheKey(quizID string) string {
	return "questions:" + quizID + "_questions_evalcache"
}

// ResponsesCacheKey returns the Redis key caching a quiz's submissions:
// responses:{quiz_id}_responses_evalcache
func ResponsesCacheKey(quizID string) string {
	return "responses:" + quizID + "_responses_evalcache"
}

// GuidelineCacheKey returns the Redis key caching one question's grading
// rubric: guidelines:{question_id}_guidelines_cache
func GuidelineCacheKey(questionID string) string {
	return "guidelines:" + questionID + "_guidelines_cache"
}

// loadQuestions returns the quiz's questions, reading through the Redis
// cache unless the run bypasses it. Cache failures degrade to a store
// read; they never fail the run.
func (o *Orchestrator) loadQuestions(ctx context.Context, quizID string, bypass bool) ([]*quiz.Question, error) {
	key := QuestionsCacheKey(quizID)
	if !bypass {
		var cached []*quiz.Question
		if o.readCache(ctx, key, &cached) && len(cached) > 0 {
			return cached, nil
		}
	}

	questions, err := o.store.QuestionsForQuiz(ctx, quizID)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "orchestrator", "load questions", quizID, err)
	}
	if len(questions) > 0 {
		o.writeCache(ctx, key, questions, o.cacheTTL())
	}
	return questions, nil
}

// loadSubmissions returns the quiz's submissions, reading through the
// Redis cache unless the run bypasses it.
func (o *Orchestrator) loadSubmissions(ctx context.Context, quizID string, bypass bool) ([]*quiz.Submission, error) {
	key := ResponsesCacheKey(quizID)
	if !bypass {
		var cached []*quiz.Submission
		if o.readCache(ctx, key, &cached) && len(cached) > 0 {
			return cached, nil
		}
	}

	submissions, err := o.store.SubmissionsForQuiz(ctx, quizID)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "orchestrator", "load submissions", quizID, err)
	}
	if len(submissions) > 0 {
		o.writeCache(ctx, key, submissions, o.cacheTTL())
	}
	return submissions, nil
}

func (o *Orchestrator) readCache(ctx context.Context, key string, dest any) bool {
	raw, err := o.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return false
	}
	if err != nil {
		logging.WarnWithContext(o.logger, "evaluation cache read failed", "cache_read_failed",
			logging.String("cache_key", key),
			logging.String(logging.FieldImpact, "falling back to the store"),
			logging.Error(err))
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		logging.WarnWithContext(o.logger, "dropping undecodable cache entry", "cache_entry_corrupt",
			logging.String("cache_key", key),
			logging.Error(err))
		_ = o.client.Del(ctx, key).Err()
		return false
	}
	return true
}

func (o *Orchestrator) writeCache(ctx context.Context, key string, value any, ttl time.Duration) {
	payload, err := json.Marshal(value)
	if err != nil {
		o.logger.Warn("failed to encode cache entry",
			logging.String("cache_key", key), logging.Error(err))
		return
	}
	if err := o.client.SetEx(ctx, key, payload, ttl).Err(); err != nil {
		o.logger.Warn("failed to write cache entry",
			logging.String("cache_key", key), logging.Error(err))
	}
}

// clearQuizCaches drops the quiz's question and submission cache entries.
// Runs call this up front when the cache override is set and again after
// evaluation, when the cached submissions no longer match the store.
func (o *Orchestrator) clearQuizCaches(ctx context.Context, quizID string) {
	keys := []string{QuestionsCacheKey(quizID), ResponsesCacheKey(quizID)}
	if err := o.client.Del(ctx, keys...).Err(); err != nil {
		o.logger.Warn("failed to clear quiz caches",
			logging.String(logging.FieldQuizID, quizID), logging.Error(err))
	}
}

// warmGuidelines fills in grading rubrics for descriptive questions that
// lack one, consulting the guideline cache before asking the model. A
// generated rubric is persisted on the question row and cached; failures
// are logged and the question grades without a rubric.
func (o *Orchestrator) warmGuidelines(ctx context.Context, questions []*quiz.Question, bypass bool) {
	for _, q := range questions {
		if q.Type != string(quiz.TypeDescriptive) || strings.TrimSpace(q.Guidelines) != "" {
			continue
		}
		key := GuidelineCacheKey(q.ID)

		if !bypass {
			raw, err := o.client.Get(ctx, key).Result()
			if err == nil && strings.TrimSpace(raw) != "" {
				q.Guidelines = raw
				continue
			}
			if err != nil && !errors.Is(err, goredis.Nil) {
				o.logger.Warn("guideline cache read failed",
					logging.String(logging.FieldQuestionID, q.ID), logging.Error(err))
			}
		}

		if o.guides == nil {
			continue
		}
		text, err := o.guides.GenerateGuidelines(ctx, textutil.StripHTML(q.Text), q.ExpectedAnswer, q.Mark)
		if err != nil {
			logging.WarnWithContext(o.logger, "guideline generation failed", "guideline_generation_failed",
				logging.String(logging.FieldQuestionID, q.ID),
				logging.String(logging.FieldImpact, "question grades without a rubric"),
				logging.Error(err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		q.Guidelines = text
		if err := o.store.SetGuidelines(ctx, q.ID, text); err != nil {
			o.logger.Warn("failed to persist generated guidelines",
				logging.String(logging.FieldQuestionID, q.ID), logging.Error(err))
		}
		if err := o.client.SetEx(ctx, key, text, o.guidelineTTL()).Err(); err != nil {
			o.logger.Warn("failed to cache generated guidelines",
				logging.String(logging.FieldQuestionID, q.ID), logging.Error(err))
		}
	}
}
