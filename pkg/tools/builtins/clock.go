package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/tools"
)

const currentTimeName = "current_time"

var currentTimeParams = json.RawMessage(`{"type":"object","properties":{"timezone":{"type":"string","description":"IANA time zone name, e.g. Europe/Berlin. Defaults to UTC."}}}`)

// CurrentTime reports the current time in a given time zone.
type CurrentTime struct {
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

var _ tools.Tool = CurrentTime{}

// Definition describes the current_time tool.
func (CurrentTime) Definition() tools.Definition {
	return tools.Definition{
		Name:        currentTimeName,
		Description: "Return the current date and time in RFC 3339 format",
		Parameters:  currentTimeParams,
		Idempotent:  true,
	}
}

// Call formats the current time in the requested zone.
func (c CurrentTime) Call(_ context.Context, args map[string]any) (string, error) {
	zone := tools.OptionalString(args, "timezone", "UTC")
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return "", &api.ToolExecutionError{
			ToolName: currentTimeName,
			Err:      fmt.Errorf("unknown time zone %q", zone),
		}
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	t := now().In(loc)
	return fmt.Sprintf("%s (%s)", t.Format(time.RFC3339), t.Weekday()), nil
}
