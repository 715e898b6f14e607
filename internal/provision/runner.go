package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	jmes "github.com/jmespath/go-jmespath"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"matchday/pkg/problems"
)

// StepRunner performs one plan step against the external integration
// system. Implementations classify failures as Transient (worth a retry)
// or Permanent (config/adapter rejection, abort immediately).
type StepRunner interface {
	RunStep(ctx context.Context, tenantID string, step Step) (json.RawMessage, error)
}

// HTTPRunner calls the integration adapter over HTTP. 5xx and 429 count as
// transient, other 4xx as permanent. The wire format of the adapter is its
// own business; we only carry tenant_id plus the step payload.
type HTTPRunner struct {
	BaseURL string
	Client  *http.Client
	Log     *zap.SugaredLogger
}

func NewHTTPRunner(baseURL string, log *zap.SugaredLogger) *HTTPRunner {
	return &HTTPRunner{
		BaseURL: baseURL,
		Client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Log:     log,
	}
}

func (h *HTTPRunner) RunStep(ctx context.Context, tenantID string, step Step) (json.RawMessage, error) {
	if step.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	payload := map[string]any{"tenant_id": tenantID}
	for k, v := range step.Payload {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, problems.Permanent(fmt.Sprintf("step %s: encode payload", step.Name), err)
	}

	method := step.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, h.BaseURL+step.Path, bytes.NewReader(body))
	if err != nil {
		return nil, problems.Permanent(fmt.Sprintf("step %s: build request", step.Name), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, problems.Transient(fmt.Sprintf("step %s: %s unreachable", step.Name, step.Path), err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, problems.Transient(fmt.Sprintf("step %s: read response", step.Name), err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return extract(step, raw)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, problems.Transient(fmt.Sprintf("step %s: adapter returned %d", step.Name, resp.StatusCode), nil)
	default:
		return nil, problems.Permanent(fmt.Sprintf("step %s: adapter rejected with %d", step.Name, resp.StatusCode), nil)
	}
}

// extract applies the step's JMESPath expression to the response, keeping
// the whole body when no expression is set.
func extract(step Step, raw []byte) (json.RawMessage, error) {
	if step.Extract == "" {
		if len(raw) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(raw) {
			return nil, problems.Permanent(fmt.Sprintf("step %s: adapter returned invalid JSON", step.Name), nil)
		}
		return json.RawMessage(raw), nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, problems.Permanent(fmt.Sprintf("step %s: adapter returned invalid JSON", step.Name), err)
	}
	val, err := jmes.Search(step.Extract, doc)
	if err != nil {
		return nil, problems.Permanent(fmt.Sprintf("step %s: bad extract expression %q", step.Name, step.Extract), err)
	}
	if val == nil {
		return nil, problems.Permanent(fmt.Sprintf("step %s: extract %q matched nothing", step.Name, step.Extract), nil)
	}
	out, err := json.Marshal(val)
	if err != nil {
		return nil, problems.Permanent(fmt.Sprintf("step %s: encode extracted value", step.Name), err)
	}
	return out, nil
}

// StaticRunner fakes the adapter for dev environments without one.
type StaticRunner struct {
	Log *zap.SugaredLogger
}

func (s *StaticRunner) RunStep(_ context.Context, tenantID string, step Step) (json.RawMessage, error) {
	if s.Log != nil {
		s.Log.Infow("static step", "tenant", tenantID, "step", step.Name)
	}
	out, _ := json.Marshal(map[string]any{"ok": true, "step": step.Name})
	return out, nil
}
