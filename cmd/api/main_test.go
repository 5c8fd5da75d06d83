package main

import (
	"testing"
	"time"

	"github.com/ragscope/backend/pkg/config"
)

func TestGuardrailUsesRequestPathPolicy(t *testing.T) {
	cfg := &config.Config{
		LLM:      config.LLMConfig{TimeoutSec: 60, MaxAttempts: 1, BreakerFailures: 5},
		Feedback: config.FeedbackConfig{Provider: "cortex", TimeoutSec: 120, MaxAttempts: 3},
	}

	judge := judgeGuard(cfg)
	if judge.MaxAttempts != 3 || judge.Timeout != 120*time.Second {
		t.Errorf("judge guard = %+v, want 3 attempts and 120s", judge)
	}

	g := guardrailGuard(cfg)
	if g.MaxAttempts != 1 {
		t.Errorf("guardrail makes %d attempts, want 1", g.MaxAttempts)
	}
	if g.Timeout != 60*time.Second {
		t.Errorf("guardrail timeout = %s, want 60s", g.Timeout)
	}
	if g.Name == judge.Name || g.Name == "" {
		t.Errorf("guardrail breaker %q must be separate from judge breaker %q", g.Name, judge.Name)
	}
}
