package prober

import (
	"context"
	"net/http"
	"time"

	"github.com/stormmon/storm/shared/types"
)

// probeHTTP issues a GET request to target.Endpoint, honouring the target's
// timeout via context cancellation (spec §4.4). Success is any 2xx/3xx
// response within the timeout. A timeout synthesises statusCode=408; any
// other transport error synthesises statusCode=0.
func probeHTTP(ctx context.Context, target types.Target, userAgent string) types.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, target.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.Endpoint, nil)
	if err != nil {
		return failure(target, 0, err.Error())
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return failure(target, 408, "timeout: "+err.Error())
		}
		return failure(target, 0, err.Error())
	}
	defer resp.Body.Close()

	ms := float64(elapsed.Microseconds()) / 1000
	success := resp.StatusCode >= 200 && resp.StatusCode < 400
	result := types.CheckResult{
		TargetID:       target.ID,
		Success:        success,
		ResponseTimeMs: &ms,
		StatusCode:     &resp.StatusCode,
	}
	if !success {
		result.ErrorText = http.StatusText(resp.StatusCode)
	}
	return result
}

func failure(target types.Target, statusCode int, errText string) types.CheckResult {
	return types.CheckResult{
		TargetID:   target.ID,
		Success:    false,
		StatusCode: &statusCode,
		ErrorText:  errText,
	}
}
