package ratelimit

import (
	"testing"
	"time"
)

func TestFormatKey(t *testing.T) {
	t.Parallel()

	if got := FormatKey(KeyTypeIP, "10.0.0.1"); got != "ratelimit:ip:10.0.0.1" {
		t.Errorf("FormatKey() = %q", got)
	}
}

func TestPerMinute(t *testing.T) {
	t.Parallel()

	l := PerMinute(120)
	if l.Rate != 120 || l.Burst != 120 || l.Period != time.Minute {
		t.Errorf("PerMinute(120) = %+v", l)
	}
}
