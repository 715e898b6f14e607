// internal/provisionclient/client.go
package provisionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"matchday/pkg/problems"
	"matchday/pkg/retry"
	"matchday/pkg/tokens"
)

// Client calls the provision service on behalf of the account service.
// Calls run under the same retry policy the provisioning actor applies to
// individual plan steps, so both layers share one backoff contract.
//
// Every attempt mints a fresh internal-service credential. Those tokens are
// single-use (the receiving side burns the jti), so re-sending one across
// retries would be rejected as a replay.
type Client struct {
	baseURL string
	httpc   *http.Client
	issuer  *tokens.Issuer
	policy  retry.Policy
	log     *zap.SugaredLogger
}

func New(baseURL string, issuer *tokens.Issuer, policy retry.Policy, log *zap.SugaredLogger) *Client {
	if policy.Retryable == nil {
		policy.Retryable = problems.IsTransient
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpc:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		issuer:  issuer,
		policy:  policy,
		log:     log,
	}
}

// RunState is the provision service's view of one tenant's run.
// Checkpoints hold completed step names only.
type RunState struct {
	TenantID    string    `json:"tenant_id"`
	Status      string    `json:"status"`
	CurrentStep string    `json:"current_step"`
	Checkpoints []string  `json:"checkpoints"`
	Attempt     int       `json:"attempt"`
	LastError   string    `json:"last_error"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StatusView mirrors GET /tenants/{id}/provision-status.
type StatusView struct {
	Status    string    `json:"status"`
	Step      string    `json:"step"`
	Reason    string    `json:"reason"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunError is a provisioning run the remote actor reported as failed.
// Attempts counts the step attempts the actor burned before giving up.
type RunError struct {
	Code     string
	Message  string
	Attempts int
	Status   int
}

func (e *RunError) Error() string {
	return fmt.Sprintf("provisioning failed after %d attempt(s): %s", e.Attempts, e.Message)
}

type provisionRequest struct {
	TenantID string `json:"tenant_id"`
	Plan     string `json:"plan,omitempty"`
}

// Provision queues the tenant and immediately runs its plan. On failure the
// returned error carries a *RunError when the run itself failed; transport
// and availability errors surface as transient problems.
func (c *Client) Provision(ctx context.Context, tenantID, plan string) (RunState, error) {
	var out struct {
		State RunState `json:"state"`
	}
	err := c.call(ctx, http.MethodPost, "/internal/provision/queue",
		provisionRequest{TenantID: tenantID, Plan: plan}, &out)
	return out.State, err
}

// Retry re-runs a failed plan from its checkpoints.
func (c *Client) Retry(ctx context.Context, tenantID string) (RunState, error) {
	var out struct {
		State RunState `json:"state"`
	}
	err := c.call(ctx, http.MethodPost, "/internal/provision/retry",
		provisionRequest{TenantID: tenantID}, &out)
	return out.State, err
}

// Status fetches the run status for one tenant.
func (c *Client) Status(ctx context.Context, tenantID string) (StatusView, error) {
	var out StatusView
	err := c.call(ctx, http.MethodGet, "/tenants/"+tenantID+"/provision-status", nil, &out)
	return out, err
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	outcome := c.policy.Do(ctx, func(actx context.Context) error {
		return c.once(actx, method, path, in, out)
	})
	if outcome.Err != nil && c.log != nil {
		c.log.Warnw("provision call failed",
			"method", method, "path", path, "attempts", outcome.Attempts, "err", outcome.Err)
	}
	return outcome.Err
}

func (c *Client) once(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return problems.Permanent("encode request", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return problems.Permanent("build request", err)
	}
	token, _, err := c.issuer.InternalService("account-service")
	if err != nil {
		return problems.Wrap(problems.KindInternal, "", "mint internal credential", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return problems.Transient("provision service unreachable", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return problems.Transient("read provision response", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return problems.Permanent("decode provision response", err)
		}
		return nil
	}
	return c.remoteError(resp.StatusCode, raw)
}

// remoteError turns a non-2xx body into an error that keeps the remote
// verdict inspectable. Run failures keep their attempt count; everything
// else maps onto the local taxonomy by status code so the retry policy can
// tell transient from terminal.
func (c *Client) remoteError(status int, raw []byte) error {
	var env struct {
		Error struct {
			Code     string `json:"code"`
			Message  string `json:"message"`
			Attempts int    `json:"attempts"`
		} `json:"error"`
	}
	_ = json.Unmarshal(raw, &env)
	code, message := env.Error.Code, env.Error.Message
	if message == "" {
		message = fmt.Sprintf("provision service returned %d", status)
	}

	if code == "PROVISIONING_FAILED" {
		runErr := &RunError{Code: code, Message: message, Attempts: env.Error.Attempts, Status: status}
		if status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests {
			return problems.Transient(message, runErr)
		}
		return problems.Permanent(message, runErr)
	}

	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return problems.New(problems.KindTransient, code, message)
	case status == http.StatusNotFound:
		return problems.New(problems.KindNotFound, code, message)
	case status == http.StatusConflict:
		return problems.New(problems.KindConflict, code, message)
	case status == http.StatusUnauthorized:
		return problems.New(problems.KindUnauthorized, code, message)
	case status == http.StatusForbidden:
		return problems.New(problems.KindForbidden, code, message)
	default:
		return problems.New(problems.KindPermanent, code, message)
	}
}
