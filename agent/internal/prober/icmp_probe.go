package prober

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"github.com/stormmon/storm/shared/types"
)

// rttPattern matches the round-trip time printed by both BSD/Linux ping
// ("time=12.3 ms") and Windows ping ("time=12ms" / "time<1ms").
var rttPattern = regexp.MustCompile(`time[=<]([0-9]+(?:\.[0-9]+)?)\s*ms`)

// probeICMP shells out to the platform ping utility, grounded on the
// os/exec-with-context invocation pattern the agent's former hook runner
// used for user-supplied backup hooks. The reported round-trip is parsed
// from stdout; if unparsable, wall-clock elapsed time is used instead.
func probeICMP(ctx context.Context, target types.Target) types.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, target.Timeout())
	defer cancel()

	cmd := pingCommand(ctx, target.Endpoint, target.Timeout())

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return failure(target, 408, "timeout: ping deadline exceeded")
	}
	if err != nil {
		return failure(target, 0, fmt.Sprintf("ping: %v", err))
	}

	ms := parseRTT(stdout.String())
	if ms == nil {
		v := float64(elapsed.Microseconds()) / 1000
		ms = &v
	}
	ok := 200
	return types.CheckResult{
		TargetID:       target.ID,
		Success:        true,
		ResponseTimeMs: ms,
		StatusCode:     &ok,
	}
}

func pingCommand(ctx context.Context, host string, timeout time.Duration) *exec.Cmd {
	if runtime.GOOS == "windows" {
		ms := timeout.Milliseconds()
		if ms <= 0 {
			ms = 1000
		}
		return exec.CommandContext(ctx, "ping", "-n", "1", "-w", strconv.FormatInt(ms, 10), host)
	}
	seconds := int(timeout.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return exec.CommandContext(ctx, "ping", "-c", "1", "-W", strconv.Itoa(seconds), host)
}

func parseRTT(output string) *float64 {
	m := rttPattern.FindStringSubmatch(output)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &v
}
