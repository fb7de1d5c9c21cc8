package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"desceval/internal/config"
)

const userAgent = "desceval/0.1.0"

// Service defines the notification surface exposed to the daemon and
// workers.
type Service interface {
	NotifyJobCompleted(ctx context.Context, quizID string, evaluated, failed int, elapsed time.Duration) error
	NotifyJobFailed(ctx context.Context, quizID, jobID string, cause error) error
	NotifyJobStopped(ctx context.Context, quizID, jobID string) error
	NotifyWorkerKilled(ctx context.Context, worker, reason string) error
	NotifyWorkerReaped(ctx context.Context, worker string, requeued int) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by the configured
// webhook. When no webhook URL is configured, a noop implementation is
// returned.
func NewService(cfg *config.Config) Service {
	endpoint := strings.TrimSpace(cfg.Notifications.WebhookURL)
	if endpoint == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &webhookService{
		endpoint:   endpoint,
		categories: cfg.Notifications,
		client:     &http.Client{Timeout: timeout},
	}
}

// Noop returns a Service that silently drops every notification.
func Noop() Service { return noopService{} }

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type webhookService struct {
	endpoint   string
	categories config.Notifications
	client     *http.Client
}

func (n *webhookService) NotifyJobCompleted(ctx context.Context, quizID string, evaluated, failed int, elapsed time.Duration) error {
	if !n.categories.Evaluation {
		return nil
	}
	elapsed = elapsed.Round(time.Second)
	if elapsed < 0 {
		elapsed = 0
	}

	var title, message string
	if failed == 0 {
		title = "desceval - Evaluation Complete"
		message = fmt.Sprintf("✅ Quiz %s evaluated: %d submissions in %s", quizID, evaluated, elapsed)
	} else {
		title = "desceval - Evaluation Complete (with failures)"
		message = fmt.Sprintf("Quiz %s evaluated: %d succeeded, %d failed in %s", quizID, evaluated, failed, elapsed)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"desceval", "evaluation", "completed"},
	}
	return n.send(ctx, data)
}

func (n *webhookService) NotifyJobFailed(ctx context.Context, quizID, jobID string, cause error) error {
	if !n.categories.Evaluation {
		return nil
	}
	reason := "unknown"
	if cause != nil {
		reason = strings.TrimSpace(cause.Error())
	}
	data := payload{
		title:    "desceval - Evaluation Failed",
		message:  fmt.Sprintf("❌ Quiz %s evaluation failed (job %s): %s", quizID, jobID, reason),
		tags:     []string{"desceval", "evaluation", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *webhookService) NotifyJobStopped(ctx context.Context, quizID, jobID string) error {
	if !n.categories.Evaluation {
		return nil
	}
	data := payload{
		title:   "desceval - Evaluation Stopped",
		message: fmt.Sprintf("🛑 Quiz %s evaluation stopped (job %s)", quizID, jobID),
		tags:    []string{"desceval", "evaluation", "stopped"},
	}
	return n.send(ctx, data)
}

func (n *webhookService) NotifyWorkerKilled(ctx context.Context, worker, reason string) error {
	if !n.categories.Workers {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "operator request"
	}
	data := payload{
		title:   "desceval - Worker Killed",
		message: fmt.Sprintf("Worker %s killed: %s", worker, reason),
		tags:    []string{"desceval", "worker", "killed"},
	}
	return n.send(ctx, data)
}

func (n *webhookService) NotifyWorkerReaped(ctx context.Context, worker string, requeued int) error {
	if !n.categories.Workers {
		return nil
	}
	message := fmt.Sprintf("⚠️ Dead worker %s reaped", worker)
	if requeued > 0 {
		message = fmt.Sprintf("%s; %d job(s) requeued", message, requeued)
	}
	data := payload{
		title:    "desceval - Worker Reaped",
		message:  message,
		tags:     []string{"desceval", "worker", "reaped"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *webhookService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.categories.Errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "desceval - Error",
		message:  builder.String(),
		tags:     []string{"desceval", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *webhookService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "desceval - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"desceval", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *webhookService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, string, int, int, time.Duration) error {
	return nil
}
func (noopService) NotifyJobFailed(context.Context, string, string, error) error { return nil }
func (noopService) NotifyJobStopped(context.Context, string, string) error       { return nil }
func (noopService) NotifyWorkerKilled(context.Context, string, string) error     { return nil }
func (noopService) NotifyWorkerReaped(context.Context, string, int) error        { return nil }
func (noopService) NotifyError(context.Context, error, string) error             { return nil }
func (noopService) TestNotification(context.Context) error                       { return nil }
