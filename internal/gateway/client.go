// Package gateway implements the HTTP client for the remote AI service.
//
// The client is stateless apart from the replica session handle: every
// call carries a bearer credential and a bounded timeout, and every
// transport/HTTP outcome is classified into one of five buckets so the
// reconciler and poller can choose retry behavior without inspecting
// status codes themselves.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cartella-shop/cartella/internal/domain"
	"github.com/cartella-shop/cartella/internal/infra/observability"
)

// ─── Outcome Classification ─────────────────────────────────────────────────

// Outcome classifies the result of a remote call.
type Outcome int

const (
	OutcomeSuccess     Outcome = iota
	OutcomeRateLimited         // HTTP 429
	OutcomeServerError         // HTTP 5xx
	OutcomeClientError         // HTTP 4xx other than 429
	OutcomeTimeout             // Deadline exceeded or transport timeout
)

// String returns a human-readable outcome label.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeRateLimited:
		return "RATE_LIMITED"
	case OutcomeServerError:
		return "SERVER_ERROR"
	case OutcomeClientError:
		return "CLIENT_ERROR"
	case OutcomeTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Transient reports whether the outcome is worth retrying. Timeouts are
// treated the same as server faults, never as success.
func (o Outcome) Transient() bool {
	return o == OutcomeRateLimited || o == OutcomeServerError || o == OutcomeTimeout
}

// RemoteError is a classified failure from the remote service.
type RemoteError struct {
	Op         string
	Outcome    Outcome
	StatusCode int // 0 for transport-level failures
	Message    string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway %s: %s (HTTP %d): %s", e.Op, e.Outcome, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway %s: %s: %s", e.Op, e.Outcome, e.Message)
}

// OutcomeOf extracts the classified outcome from an error returned by
// this package. A nil error is Success; an unrecognized error is treated
// as a server fault.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Outcome
	}
	return OutcomeServerError
}

// ─── Client ─────────────────────────────────────────────────────────────────

// Config configures the gateway client.
type Config struct {
	BaseURL     string
	APIKey      string        // Bearer credential
	ReplicaName string        // Name used when establishing the replica session
	Timeout     time.Duration // Per-call bound (default 30s)
}

// Client is the remote AI service client.
type Client struct {
	cfg  Config
	http *http.Client

	sess sessionHolder
}

// NewClient creates a gateway client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{},
	}
}

// ─── Wire Types ─────────────────────────────────────────────────────────────

type replicaRequest struct {
	Name string `json:"name"`
}

type replicaResponse struct {
	ID string `json:"id"`
}

type knowledgeRequest struct {
	Text    string `json:"text,omitempty"`
	FileRef string `json:"file_ref,omitempty"`
}

type knowledgeResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Content string `json:"content"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ─── Operations ─────────────────────────────────────────────────────────────

// CreateReplica creates a new remote assistant replica and returns its ID.
func (c *Client) CreateReplica(ctx context.Context, name string) (string, error) {
	var out replicaResponse
	err := c.do(ctx, "create_replica", http.MethodPost, "/v1/replicas", replicaRequest{Name: name}, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// CreateTextEntry indexes a text snippet and returns the remote entry ID.
func (c *Client) CreateTextEntry(ctx context.Context, text string) (string, error) {
	sess, err := c.Session(ctx)
	if err != nil {
		return "", err
	}
	var out knowledgeResponse
	path := fmt.Sprintf("/v1/replicas/%s/knowledge", sess.ReplicaID)
	if err := c.do(ctx, "create_entry", http.MethodPost, path, knowledgeRequest{Text: text}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// CreateFileEntry submits an uploaded file for asynchronous ingestion
// and returns the remote entry ID. The entry is not queryable until the
// ingestion pipeline reports it ready; track with GetEntryStatus.
func (c *Client) CreateFileEntry(ctx context.Context, fileRef string) (string, error) {
	sess, err := c.Session(ctx)
	if err != nil {
		return "", err
	}
	var out knowledgeResponse
	path := fmt.Sprintf("/v1/replicas/%s/knowledge", sess.ReplicaID)
	if err := c.do(ctx, "create_file_entry", http.MethodPost, path, knowledgeRequest{FileRef: fileRef}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// UpdateEntry replaces the content of an existing remote entry.
func (c *Client) UpdateEntry(ctx context.Context, remoteID, text string) error {
	sess, err := c.Session(ctx)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/v1/replicas/%s/knowledge/%s", sess.ReplicaID, remoteID)
	return c.do(ctx, "update_entry", http.MethodPut, path, knowledgeRequest{Text: text}, nil)
}

// DeleteEntry removes a remote entry.
func (c *Client) DeleteEntry(ctx context.Context, remoteID string) error {
	sess, err := c.Session(ctx)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/v1/replicas/%s/knowledge/%s", sess.ReplicaID, remoteID)
	return c.do(ctx, "delete_entry", http.MethodDelete, path, nil, nil)
}

// GetEntryStatus queries the ingestion state of a remote entry.
func (c *Client) GetEntryStatus(ctx context.Context, remoteID string) (domain.IngestionStatus, error) {
	sess, err := c.Session(ctx)
	if err != nil {
		return "", err
	}
	var out statusResponse
	path := fmt.Sprintf("/v1/replicas/%s/knowledge/%s/status", sess.ReplicaID, remoteID)
	if err := c.do(ctx, "entry_status", http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return mapIngestionStatus(out.Status), nil
}

// ChatCompletion sends a user message to the assistant and returns the
// generated reply.
func (c *Client) ChatCompletion(ctx context.Context, message string) (string, error) {
	sess, err := c.Session(ctx)
	if err != nil {
		return "", err
	}
	var out chatResponse
	path := fmt.Sprintf("/v1/replicas/%s/chat/completions", sess.ReplicaID)
	if err := c.do(ctx, "chat", http.MethodPost, path, chatRequest{Message: message}, &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

// mapIngestionStatus folds the remote service's status vocabulary into
// the domain's four states. Several remote markers mean "ready"; anything
// unrecognized is treated as still in flight.
func mapIngestionStatus(s string) domain.IngestionStatus {
	switch strings.ToUpper(s) {
	case "READY", "PROCESSED", "VECTOR_CREATED":
		return domain.IngestReady
	case "UNPROCESSABLE", "ERR":
		return domain.IngestUnprocessable
	case "SUBMITTED", "NEW", "QUEUED":
		return domain.IngestSubmitted
	default:
		return domain.IngestProcessing
	}
}

// ─── Transport ──────────────────────────────────────────────────────────────

// do executes one HTTP call with the configured timeout, classifies the
// result, and records metrics. out may be nil for calls without a body.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		outcome := OutcomeServerError
		if isTimeout(err) {
			outcome = OutcomeTimeout
		}
		observability.GatewayRequests.WithLabelValues(op, outcome.String()).Inc()
		return &RemoteError{Op: op, Outcome: outcome, Message: err.Error()}
	}
	defer resp.Body.Close()

	outcome := classifyStatus(resp.StatusCode)
	observability.GatewayRequests.WithLabelValues(op, outcome.String()).Inc()

	if outcome != OutcomeSuccess {
		msg := readErrorMessage(resp.Body)
		return &RemoteError{Op: op, Outcome: outcome, StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &RemoteError{Op: op, Outcome: OutcomeServerError, StatusCode: resp.StatusCode,
				Message: fmt.Sprintf("decode response: %v", err)}
		}
	}
	return nil
}

// classifyStatus maps an HTTP status to an outcome bucket.
func classifyStatus(code int) Outcome {
	switch {
	case code >= 200 && code < 300:
		return OutcomeSuccess
	case code == http.StatusTooManyRequests:
		return OutcomeRateLimited
	case code >= 500:
		return OutcomeServerError
	default:
		return OutcomeClientError
	}
}

// isTimeout reports whether a transport error is a deadline/timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// readErrorMessage pulls a short error string out of a failed response
// body, tolerating non-JSON bodies.
func readErrorMessage(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(b) == 0 {
		return ""
	}
	var er errorResponse
	if json.Unmarshal(b, &er) == nil && er.Error != "" {
		return er.Error
	}
	return strings.TrimSpace(string(b))
}
