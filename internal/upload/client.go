package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"nori/internal/transcript"
)

const userAgent = "nori-watch/0.1.0"

// Request is one transcript ready for upload.
type Request struct {
	SessionID string
	OrgID     string
	Records   []transcript.Record
	Raw       []byte
}

// Uploader sends a transcript to a remote destination. A nil error means the
// destination accepted it.
type Uploader interface {
	Upload(ctx context.Context, req Request) error
}

// StatusError reports a non-2xx response from the transcript endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("transcript endpoint returned %d", e.StatusCode)
	}
	return fmt.Sprintf("transcript endpoint returned %d: %s", e.StatusCode, e.Body)
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Client uploads transcripts to the nori API over HTTPS.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient builds a Client. A non-positive timeout uses sixty seconds.
func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		token:   strings.TrimSpace(opts.APIToken),
		client:  httpClient,
	}
}

type transcriptPayload struct {
	SessionID string            `json:"sessionId"`
	OrgID     string            `json:"orgId"`
	Messages  []json.RawMessage `json:"messages"`
}

// Upload posts the transcript's records to <base>/orgs/<org>/transcripts.
func (c *Client) Upload(ctx context.Context, req Request) error {
	if c == nil || c.client == nil {
		return errors.New("upload client not configured")
	}
	if c.baseURL == "" {
		return errors.New("upload base url is required")
	}

	messages := make([]json.RawMessage, 0, len(req.Records))
	for _, record := range req.Records {
		messages = append(messages, record.Raw)
	}
	body, err := json.Marshal(transcriptPayload{
		SessionID: req.SessionID,
		OrgID:     req.OrgID,
		Messages:  messages,
	})
	if err != nil {
		return fmt.Errorf("encode transcript payload: %w", err)
	}

	endpoint := c.baseURL + "/orgs/" + url.PathEscape(req.OrgID) + "/transcripts"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
