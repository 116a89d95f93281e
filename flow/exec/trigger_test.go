package exec

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nodeflow/nodeflow/flow"
)

func TestManualRequest(t *testing.T) {
	w := flow.Workflow{ID: "wf"}
	req := ManualRequest(w, "u1", "org", map[string]any{"name": "Ada"})

	if req.Trigger != flow.TriggerManual {
		t.Errorf("trigger = %s", req.Trigger)
	}
	if req.UserID != "u1" || req.OrganizationID != "org" {
		t.Errorf("identity = %s/%s", req.UserID, req.OrganizationID)
	}
	if req.Parameters["name"] != "Ada" {
		t.Errorf("parameters = %+v", req.Parameters)
	}
	if req.HTTPRequest != nil {
		t.Error("manual trigger must not carry an HTTP request")
	}
}

func TestHTTPTriggerRequest(t *testing.T) {
	r := httptest.NewRequest("POST", "/run?city=berlin&limit=5", strings.NewReader("a=1&b=two"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-Request-Id", "abc")

	req, err := HTTPTriggerRequest(flow.Workflow{ID: "wf"}, "org", r)
	if err != nil {
		t.Fatalf("HTTPTriggerRequest failed: %v", err)
	}

	if req.Trigger != flow.TriggerHTTPRequest {
		t.Errorf("trigger = %s", req.Trigger)
	}
	if req.Parameters["city"] != "berlin" || req.Parameters["a"] != "1" {
		t.Errorf("parameters = %+v", req.Parameters)
	}
	hr := req.HTTPRequest
	if hr == nil {
		t.Fatal("HTTPRequest not populated")
	}
	if hr.Method != "POST" || hr.Query["limit"] != "5" {
		t.Errorf("request = %+v", hr)
	}
	if hr.Headers["X-Request-Id"] != "abc" {
		t.Errorf("headers = %+v", hr.Headers)
	}
	if hr.FormData["b"] != "two" {
		t.Errorf("form = %+v", hr.FormData)
	}
}

func TestWebhookRequest(t *testing.T) {
	r := httptest.NewRequest("POST", "/hook?source=stripe", strings.NewReader(`{"event":"paid","amount":12.5}`))
	r.Header.Set("Content-Type", "application/json")

	req, err := WebhookRequest(flow.Workflow{ID: "wf"}, "org", r)
	if err != nil {
		t.Fatalf("WebhookRequest failed: %v", err)
	}

	if req.Trigger != flow.TriggerHTTPWebhook {
		t.Errorf("trigger = %s", req.Trigger)
	}
	// Query params and JSON body fields both promote, query winning ties.
	if req.Parameters["source"] != "stripe" {
		t.Errorf("source = %v", req.Parameters["source"])
	}
	if req.Parameters["event"] != "paid" || req.Parameters["amount"] != 12.5 {
		t.Errorf("parameters = %+v", req.Parameters)
	}
	if string(req.HTTPRequest.Body) == "" {
		t.Error("raw body not preserved")
	}
}

func TestEmailRequest(t *testing.T) {
	raw := []byte("From: ada@example.com\r\nTo: flows@example.com\r\nSubject: weekly report\r\n\r\nplease run the numbers\r\n")

	req, err := EmailRequest(flow.Workflow{ID: "wf"}, "org", raw)
	if err != nil {
		t.Fatalf("EmailRequest failed: %v", err)
	}

	if req.Trigger != flow.TriggerEmailMessage {
		t.Errorf("trigger = %s", req.Trigger)
	}
	if req.Parameters["from"] != "ada@example.com" || req.Parameters["subject"] != "weekly report" {
		t.Errorf("parameters = %+v", req.Parameters)
	}
	body, _ := req.Parameters["body"].(string)
	if !strings.Contains(body, "please run the numbers") {
		t.Errorf("body = %q", body)
	}
	if req.HTTPRequest != nil {
		t.Error("email trigger must not carry an HTTP request")
	}

	if _, err := EmailRequest(flow.Workflow{}, "org", []byte("not an email")); err == nil {
		t.Error("malformed message should fail")
	}
}

func TestQueueRequest(t *testing.T) {
	t.Run("json object payload", func(t *testing.T) {
		req := QueueRequest(flow.Workflow{ID: "wf"}, "org", []byte(`{"orderId":"o-1","qty":3}`))
		if req.Trigger != flow.TriggerQueueMessage {
			t.Errorf("trigger = %s", req.Trigger)
		}
		if req.Parameters["orderId"] != "o-1" || req.Parameters["qty"] != float64(3) {
			t.Errorf("parameters = %+v", req.Parameters)
		}
	})

	t.Run("opaque payload", func(t *testing.T) {
		req := QueueRequest(flow.Workflow{ID: "wf"}, "org", []byte("plain text"))
		if req.Parameters["message"] != "plain text" {
			t.Errorf("parameters = %+v", req.Parameters)
		}
	})
}

func TestScheduledRequest(t *testing.T) {
	at := time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC)
	req := ScheduledRequest(flow.Workflow{ID: "wf"}, "org", at)

	if req.Trigger != flow.TriggerScheduled {
		t.Errorf("trigger = %s", req.Trigger)
	}
	if req.Parameters["scheduledAt"] != "2026-03-01T06:30:00Z" {
		t.Errorf("scheduledAt = %v", req.Parameters["scheduledAt"])
	}
}
