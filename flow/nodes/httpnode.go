package nodes

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/nodeflow/nodeflow/flow"
	"github.com/nodeflow/nodeflow/flow/registry"
)

// httpBodyLimit caps how much of a response body the node materializes.
const httpBodyLimit = 10 << 20

func httpRequestFactory(client *http.Client) registry.Factory {
	return registry.Factory{
		Descriptor: registry.NodeType{
			ID:          "http-request",
			Type:        "http-request",
			Name:        "HTTP Request",
			Description: "Performs an HTTP request and returns status, headers and body.",
			Tags:        []string{"http", "integration"},
			AsTool:      true,
			ComputeCost: 1,
			Inputs: []flow.Parameter{
				{Name: "url", Type: flow.TypeString, Required: true},
				{Name: "method", Type: flow.TypeString, Value: "GET"},
				{Name: "headers", Type: flow.TypeJSON},
				{Name: "body", Type: flow.TypeString},
			},
			Outputs: []flow.Parameter{
				{Name: "status", Type: flow.TypeNumber},
				{Name: "headers", Type: flow.TypeJSON},
				{Name: "body", Type: flow.TypeString},
			},
		},
		Requires: []registry.Capability{registry.CapHTTP},
		New: func(flow.Node) (registry.Executable, error) {
			return registry.ExecutableFunc(func(ctx context.Context, rc *registry.Context) flow.NodeExecution {
				url := rc.StringInput("url")
				if url == "" {
					return registry.Errorf("url is required")
				}

				method := strings.ToUpper(rc.StringInput("method"))
				if method == "" {
					method = http.MethodGet
				}
				switch method {
				case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
				default:
					return registry.Errorf("unsupported HTTP method %q", method)
				}

				var body io.Reader
				if b := rc.StringInput("body"); b != "" {
					body = strings.NewReader(b)
				}

				req, err := http.NewRequestWithContext(ctx, method, url, body)
				if err != nil {
					return registry.Errorf("build request: %v", err)
				}
				if headers, ok := rc.Input("headers").(map[string]any); ok {
					for key, value := range headers {
						if s, ok := value.(string); ok {
							req.Header.Set(key, s)
						}
					}
				}

				resp, err := client.Do(req)
				if err != nil {
					return registry.Errorf("request failed: %v", err)
				}
				defer func() { _ = resp.Body.Close() }()

				respBody, err := io.ReadAll(io.LimitReader(resp.Body, httpBodyLimit))
				if err != nil {
					return registry.Errorf("read response: %v", err)
				}

				respHeaders := make(map[string]any, len(resp.Header))
				for key, values := range resp.Header {
					if len(values) == 1 {
						respHeaders[key] = values[0]
					} else {
						respHeaders[key] = strings.Join(values, ", ")
					}
				}

				return registry.Success(map[string]any{
					"status":  float64(resp.StatusCode),
					"headers": respHeaders,
					"body":    string(respBody),
				}, 1)
			}), nil
		},
	}
}
