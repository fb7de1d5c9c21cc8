package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Language IDs understood by the code execution service.
const (
	LanguagePython = 71
	LanguageOctave = 66
	LanguageJava   = 62
)

const (
	passMarker = "Test case successful!"
	failMarker = "Test case failed!"

	defaultTimeout = 120 * time.Second
)

// ErrNoTestCases indicates the driver code emits no test case markers, so
// there is nothing to grade against. Callers should treat the question as
// invalid rather than retry.
var ErrNoTestCases = errors.New("no test cases in driver code")

var languageIDs = map[string]int{
	"python": LanguagePython,
	"octave": LanguageOctave,
	"java":   LanguageJava,
}

// LanguageID resolves a language name to the execution service's ID.
func LanguageID(language string) (int, bool) {
	id, ok := languageIDs[strings.ToLower(strings.TrimSpace(language))]
	return id, ok
}

// Config captures the connection settings for the code execution service.
type Config struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
}

// Client submits student code plus driver code to a Judge0-compatible
// execution service and grades the run by counting test case markers in
// the program output.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs an execution service client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			APIKey:         strings.TrimSpace(cfg.APIKey),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// RunInput describes one coding answer to execute.
type RunInput struct {
	Code       string
	Language   string
	DriverCode string
	// ExpectedCases is the number of test cases the driver should report.
	// Zero means infer it from the driver code; -1 skips the check.
	ExpectedCases int
}

// Result is the graded outcome of one run.
type Result struct {
	Passed int
	Total  int
	Output string
}

// Evaluate runs the student's code against the driver and counts the test
// case markers in stdout. Data problems that should score zero without a
// retry (no code, unsupported language, marker count mismatch) come back
// as a zero Result with explanatory Output and a nil error; transport
// failures and non-201 responses return an error so the caller can retry.
func (c *Client) Evaluate(ctx context.Context, in RunInput) (Result, error) {
	expected := in.ExpectedCases
	if expected == 0 {
		expected = strings.Count(in.DriverCode, "successful!")
		if expected == 0 {
			return Result{}, ErrNoTestCases
		}
	}

	if strings.TrimSpace(in.Code) == "" {
		return Result{Total: expected}, nil
	}

	languageID, ok := LanguageID(in.Language)
	if !ok {
		return Result{Total: expected, Output: fmt.Sprintf("Unsupported language %s", in.Language)}, nil
	}

	cleaned, err := CleanCode(in.Code, languageID)
	if err != nil {
		return Result{}, err
	}

	run, err := c.submit(ctx, cleaned, in.DriverCode, languageID)
	if err != nil {
		return Result{}, err
	}

	if strings.TrimSpace(run.Stdout) == "" {
		return Result{Total: expected, Output: run.Stdout + run.Stderr}, nil
	}

	passed, total := CountTestCases(run.Stdout)
	if total == 0 {
		// No markers in a non-empty stdout usually means the code blocked on
		// input or spun forever before reaching the driver.
		return Result{Total: expected, Output: run.Stdout + run.Stderr}, nil
	}
	if expected != -1 && total != expected {
		return Result{Total: expected, Output: run.Stdout + run.Stderr}, nil
	}
	return Result{Passed: passed, Total: total, Output: run.Stdout}, nil
}

type runOutput struct {
	Stdout string
	Stderr string
}

type submissionRequest struct {
	SourceCode string `json:"source_code"`
	LanguageID int    `json:"language_id"`
}

type submissionResponse struct {
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Status        *struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
}

func (c *Client) submit(ctx context.Context, code, driverCode string, languageID int) (runOutput, error) {
	var out runOutput
	if c.cfg.BaseURL == "" {
		return out, errors.New("judge submit: base url not configured")
	}

	source := code
	if languageID == LanguageOctave {
		// Octave prints the value of the first statement unless assigned;
		// a throwaway assignment suppresses that noise.
		source = "_temp = 1;\n" + source
	}
	if driverCode != "" {
		source = source + "\n" + driverCode
	}

	encoded, err := json.Marshal(submissionRequest{SourceCode: source, LanguageID: languageID})
	if err != nil {
		return out, fmt.Errorf("judge submit: encode body: %w", err)
	}
	endpoint := c.cfg.BaseURL + "/submissions/?base64_encoded=false&wait=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return out, fmt.Errorf("judge submit: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-Auth-Token", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("judge submit: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, fmt.Errorf("judge submit: read body: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return out, fmt.Errorf("judge submit returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded submissionResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return out, fmt.Errorf("judge submit: decode response: %w", err)
	}
	if decoded.Stdout != nil {
		out.Stdout = *decoded.Stdout
	}
	if decoded.Stderr != nil {
		out.Stderr = *decoded.Stderr
	}
	return out, nil
}

// CountTestCases counts the pass/fail markers the driver code prints, one
// per line. Returns passed and total (passed + failed).
func CountTestCases(output string) (int, int) {
	var passed, failed int
	for _, line := range strings.Split(output, "\n") {
		switch line {
		case passMarker:
			passed++
		case failMarker:
			failed++
		}
	}
	return passed, passed + failed
}

var (
	javaPrintPattern   = regexp.MustCompile(`(?m)^\s*System\.out\.(?:print(?:ln)?|printf)\s*\(.*?\)\s*;?\s*$`)
	pythonPrintPattern = regexp.MustCompile(`(?m)^\s*print\(.*\)\s*;?`)
	octavePrintPattern = regexp.MustCompile(`(?m)^\s*(?:disp|fprintf)\(.*\)\s*;?`)
	octaveStmtPattern  = regexp.MustCompile(`(?m)([^\s;]+)(\s*)(%.*)?$`)
)

// CleanCode prepares student code for grading by commenting out print
// statements, so stray output cannot forge test case markers. Octave code
// additionally gets semicolons appended to bare statements to suppress
// value echoing.
func CleanCode(code string, languageID int) (string, error) {
	switch languageID {
	case LanguageJava:
		return javaPrintPattern.ReplaceAllString(code, "// ${0}"), nil
	case LanguagePython:
		return pythonPrintPattern.ReplaceAllString(code, "# ${0}"), nil
	case LanguageOctave:
		cleaned := octavePrintPattern.ReplaceAllString(code, "% ${0}")
		return octaveStmtPattern.ReplaceAllString(cleaned, "${1};${2}${3}"), nil
	default:
		return "", fmt.Errorf("unsupported language id %d", languageID)
	}
}
