package analysis

import (
	"encoding/json"

	"github.com/notnil/chess"
)

// Castling records which way (if any) each side castled.
type Castling struct{}

func (p *Castling) Name() string    { return "castling" }
func (p *Castling) Version() string { return "1.0.0" }

func (p *Castling) Analyze(g *chess.Game) (json.RawMessage, error) {
	result := map[string]string{"white": "none", "black": "none"}
	for i, mv := range g.Moves() {
		side := "white"
		if i%2 == 1 {
			side = "black"
		}
		switch {
		case mv.HasTag(chess.KingSideCastle):
			result[side] = "kingside"
		case mv.HasTag(chess.QueenSideCastle):
			result[side] = "queenside"
		}
	}
	return json.Marshal(result)
}
