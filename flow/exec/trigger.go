package exec

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/nodeflow/nodeflow/flow"
	"github.com/nodeflow/nodeflow/flow/registry"
)

// Trigger adapters build execution requests from the six supported entry
// points. Every flavor reduces to the same Request shape; they differ only
// in how parameters are sourced and whether HTTPRequest is populated.

// triggerBodyLimit caps how much of an inbound HTTP body a trigger reads.
const triggerBodyLimit = 10 << 20

// ManualRequest builds a request for an interactive run.
func ManualRequest(w flow.Workflow, userID, organizationID string, params map[string]any) Request {
	return Request{
		Workflow:       w,
		UserID:         userID,
		OrganizationID: organizationID,
		Parameters:     params,
		Trigger:        flow.TriggerManual,
	}
}

// HTTPTriggerRequest builds a request from an inbound HTTP call. Query
// parameters become trigger parameters; the method, headers, query, body
// and form data are also exposed to nodes through the node context.
func HTTPTriggerRequest(w flow.Workflow, organizationID string, r *http.Request) (Request, error) {
	req, err := fromHTTP(w, organizationID, r)
	if err != nil {
		return Request{}, err
	}
	req.Trigger = flow.TriggerHTTPRequest
	return req, nil
}

// WebhookRequest builds a request from an inbound webhook delivery. A JSON
// object body additionally contributes its top-level fields as parameters.
func WebhookRequest(w flow.Workflow, organizationID string, r *http.Request) (Request, error) {
	req, err := fromHTTP(w, organizationID, r)
	if err != nil {
		return Request{}, err
	}
	req.Trigger = flow.TriggerHTTPWebhook

	var payload map[string]any
	if len(req.HTTPRequest.Body) > 0 && json.Unmarshal(req.HTTPRequest.Body, &payload) == nil {
		for k, v := range payload {
			if _, taken := req.Parameters[k]; !taken {
				req.Parameters[k] = v
			}
		}
	}
	return req, nil
}

func fromHTTP(w flow.Workflow, organizationID string, r *http.Request) (Request, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, triggerBodyLimit))
	if err != nil {
		return Request{}, fmt.Errorf("read trigger body: %w", err)
	}

	headers := make(map[string]string, len(r.Header))
	for k, vs := range r.Header {
		headers[k] = strings.Join(vs, ", ")
	}
	query := make(map[string]string)
	params := make(map[string]any)
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			query[k] = vs[0]
			params[k] = vs[0]
		}
	}
	form := make(map[string]string)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if values, err := url.ParseQuery(string(body)); err == nil {
			for k, vs := range values {
				if len(vs) == 0 {
					continue
				}
				form[k] = vs[0]
				if _, taken := params[k]; !taken {
					params[k] = vs[0]
				}
			}
		}
	}

	return Request{
		Workflow:       w,
		OrganizationID: organizationID,
		Parameters:     params,
		HTTPRequest: &registry.HTTPRequest{
			Method:   r.Method,
			Headers:  headers,
			Query:    query,
			Body:     body,
			FormData: form,
		},
	}, nil
}

// EmailRequest builds a request from a raw RFC 5322 message. The sender,
// recipient, subject and body become the trigger parameters "from", "to",
// "subject" and "body".
func EmailRequest(w flow.Workflow, organizationID string, raw []byte) (Request, error) {
	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		return Request{}, fmt.Errorf("parse email: %w", err)
	}
	body, err := io.ReadAll(io.LimitReader(msg.Body, triggerBodyLimit))
	if err != nil {
		return Request{}, fmt.Errorf("read email body: %w", err)
	}

	return Request{
		Workflow:       w,
		OrganizationID: organizationID,
		Trigger:        flow.TriggerEmailMessage,
		Parameters: map[string]any{
			"from":    msg.Header.Get("From"),
			"to":      msg.Header.Get("To"),
			"subject": msg.Header.Get("Subject"),
			"body":    string(body),
		},
	}, nil
}

// QueueRequest builds a request from a queue message payload. A JSON object
// payload contributes its top-level fields as parameters; any other payload
// arrives as the single parameter "message".
func QueueRequest(w flow.Workflow, organizationID string, payload []byte) Request {
	params := map[string]any{}
	var obj map[string]any
	if json.Unmarshal(payload, &obj) == nil {
		params = obj
	} else {
		params["message"] = string(payload)
	}
	return Request{
		Workflow:       w,
		OrganizationID: organizationID,
		Trigger:        flow.TriggerQueueMessage,
		Parameters:     params,
	}
}

// ScheduledRequest builds a request for a timer-driven run. The fire time
// is exposed as the RFC 3339 parameter "scheduledAt".
func ScheduledRequest(w flow.Workflow, organizationID string, firedAt time.Time) Request {
	return Request{
		Workflow:       w,
		OrganizationID: organizationID,
		Trigger:        flow.TriggerScheduled,
		Parameters: map[string]any{
			"scheduledAt": firedAt.UTC().Format(time.RFC3339),
		},
	}
}
