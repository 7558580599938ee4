package service

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	perr "agpm/internal/platform/errors"
	"agpm/internal/services/hooks/domain"
)

const httpHookTimeout = 10 * time.Second

var hookHTTPClient = &http.Client{Timeout: httpHookTimeout}

func actionTimeout(a domain.Action) time.Duration {
	if a.Kind == domain.ActionHTTP {
		return httpHookTimeout
	}
	return time.Minute
}

// postHTTP delivers the payload to the action's endpoint.
// Content-Type defaults to JSON unless the config already sets one
func postHTTP(ctx context.Context, a domain.Action, payload []byte) (int, error) {
	method := strings.ToUpper(strings.TrimSpace(a.Method))
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, a.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "hook http request")
	}
	hasContentType := false
	for _, h := range a.Headers {
		if strings.EqualFold(h.Name, "Content-Type") {
			hasContentType = true
		}
		req.Header.Set(h.Name, h.Value)
	}
	if !hasContentType {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hookHTTPClient.Do(req)
	if err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeUnavailable, "hook http post")
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, nil
}
