package quality

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Verdict struct {
	SessionRef string  `json:"session_ref"`
	Score      float64 `json:"score"`
	Passed     bool    `json:"passed"`
}

// Oracle scores a delivered session. The verdict is advisory input to the
// release-vs-dispute decision; its internal methodology is not validated
// here.
type Oracle interface {
	Evaluate(ctx context.Context, sessionRef string) (*Verdict, error)
}

// HTTPOracle talks to the external meeting-analysis service.
type HTTPOracle struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewHTTPOracle(baseURL string, timeout time.Duration, log *zap.Logger) *HTTPOracle {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPOracle{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (c *HTTPOracle) Evaluate(ctx context.Context, sessionRef string) (*Verdict, error) {
	body, err := json.Marshal(map[string]string{"session_ref": sessionRef})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/internal/sessions/evaluate", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quality oracle unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("quality oracle returned %d: %s", resp.StatusCode, string(respBody))
	}

	var verdict Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("decode oracle verdict: %w", err)
	}
	verdict.SessionRef = sessionRef
	return &verdict, nil
}
