package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/notnil/chess"
)

// LargestSwing finds the single move that changed the engine evaluation the
// most, the usual marker for the game's decisive blunder.
type LargestSwing struct{}

func (p *LargestSwing) Name() string    { return "largest_swing" }
func (p *LargestSwing) Version() string { return "1.0.0" }

// swingResult is keyed by the ply after which the swing was measured.
type swingResult struct {
	SwingCP int    `json:"swing_cp"`
	Ply     int    `json:"ply"`
	SAN     string `json:"san"`
	UCI     string `json:"uci"`
}

func (p *LargestSwing) AnalyzeWithEngine(g *chess.Game, eng Engine) (json.RawMessage, error) {
	moves := g.Moves()
	if len(moves) == 0 {
		return nil, fmt.Errorf("game has no moves")
	}
	positions := g.Positions()

	prev, err := eng.Evaluate(positions[0])
	if err != nil {
		return nil, fmt.Errorf("evaluate start position: %w", err)
	}

	notation := chess.AlgebraicNotation{}
	var best swingResult
	for i, mv := range moves {
		score, err := eng.Evaluate(positions[i+1])
		if err != nil {
			return nil, fmt.Errorf("evaluate after ply %d: %w", i+1, err)
		}
		swing := score - prev
		if swing < 0 {
			swing = -swing
		}
		if swing > best.SwingCP {
			best = swingResult{
				SwingCP: swing,
				Ply:     i + 1,
				SAN:     notation.Encode(positions[i], mv),
				UCI:     mv.String(),
			}
		}
		prev = score
	}
	return json.Marshal(best)
}
