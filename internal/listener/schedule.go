package listener

import (
	"fmt"
	"strings"

	"github.com/adhocore/gronx"
)

// ValidateCronSchedule checks a 5-field cron expression for validity,
// letting config loading fail fast on an operator typo in a cron-style
// interval (e.g. the orphan reaper's sweep schedule) instead of discovering
// it at the first missed sweep. A spec that isn't cron-shaped (no spaces,
// or not exactly 5 fields — a plain Go duration like "60s") is not this
// function's concern and returns nil.
func ValidateCronSchedule(spec string) error {
	if len(strings.Fields(spec)) != 5 {
		return nil
	}
	if !gronx.IsValid(spec) {
		return fmt.Errorf("invalid cron schedule %q", spec)
	}
	return nil
}
