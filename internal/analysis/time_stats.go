package analysis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/notnil/chess"
)

// TimeStats derives when the game was played from the PGN date headers.
type TimeStats struct{}

func (p *TimeStats) Name() string    { return "time_stats" }
func (p *TimeStats) Version() string { return "1.0.0" }

// Analyze reports nulls for fields whose headers are absent. Erroring here
// would leave the plugin key unset and the game rescheduled forever.
func (p *TimeStats) Analyze(g *chess.Game) (json.RawMessage, error) {
	result := map[string]any{
		"day_of_week":  nil,
		"start_hour":   nil,
		"time_control": nil,
	}

	date := tagValue(g, "UTCDate")
	if date == "" {
		date = tagValue(g, "Date")
	}
	if date != "" {
		started, err := time.Parse("2006.01.02", date)
		if err != nil {
			return nil, fmt.Errorf("parse date header %q: %w", date, err)
		}
		result["day_of_week"] = started.Weekday().String()
	}
	if clock := tagValue(g, "UTCTime"); clock != "" {
		t, err := time.Parse("15:04:05", clock)
		if err != nil {
			return nil, fmt.Errorf("parse time header %q: %w", clock, err)
		}
		result["start_hour"] = t.Hour()
	}
	if tc := tagValue(g, "TimeControl"); tc != "" {
		result["time_control"] = tc
	}
	return json.Marshal(result)
}

func tagValue(g *chess.Game, key string) string {
	if pair := g.GetTagPair(key); pair != nil {
		return pair.Value
	}
	return ""
}
