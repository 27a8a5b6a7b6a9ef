package analysis

import (
	"encoding/json"

	"github.com/notnil/chess"
)

// MoveCount counts plies per side.
type MoveCount struct{}

func (p *MoveCount) Name() string    { return "move_count" }
func (p *MoveCount) Version() string { return "1.0.0" }

func (p *MoveCount) Analyze(g *chess.Game) (json.RawMessage, error) {
	total := len(g.Moves())
	result := map[string]int{
		"total_plies": total,
		"white_moves": (total + 1) / 2,
		"black_moves": total / 2,
	}
	return json.Marshal(result)
}
