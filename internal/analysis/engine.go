package analysis

import (
	"fmt"
	"time"

	"github.com/notnil/chess"
	"github.com/notnil/chess/uci"
)

// mateScore is the centipawn stand-in for a forced mate, keeping swing
// arithmetic finite.
const mateScore = 10000

// Engine evaluates positions. Scores are centipawns from white's
// perspective.
type Engine interface {
	Evaluate(pos *chess.Position) (int, error)
	Close() error
}

// EngineLauncher starts an engine on demand. The analyzer launches one per
// task only when an engine plugin actually has work.
type EngineLauncher func() (Engine, error)

// UCIEngine drives a UCI binary such as stockfish.
type UCIEngine struct {
	eng      *uci.Engine
	moveTime time.Duration
}

// NewUCIEngine launches and initializes the binary at path.
func NewUCIEngine(path string, moveTime time.Duration) (*UCIEngine, error) {
	eng, err := uci.New(path)
	if err != nil {
		return nil, fmt.Errorf("launch engine %s: %w", path, err)
	}
	if err := eng.Run(uci.CmdUCI, uci.CmdIsReady, uci.CmdUCINewGame); err != nil {
		eng.Close()
		return nil, fmt.Errorf("initialize engine: %w", err)
	}
	return &UCIEngine{eng: eng, moveTime: moveTime}, nil
}

// Evaluate scores the position in centipawns from white's perspective.
// Forced mates clamp to ±mateScore.
func (e *UCIEngine) Evaluate(pos *chess.Position) (int, error) {
	err := e.eng.Run(
		uci.CmdPosition{Position: pos},
		uci.CmdGo{MoveTime: e.moveTime},
	)
	if err != nil {
		return 0, fmt.Errorf("evaluate position: %w", err)
	}

	score := e.eng.SearchResults().Info.Score
	cp := score.CP
	if score.Mate != 0 {
		cp = mateScore
		if score.Mate < 0 {
			cp = -mateScore
		}
	}
	// UCI scores are from the side to move.
	if pos.Turn() == chess.Black {
		cp = -cp
	}
	return cp, nil
}

// Close terminates the engine process.
func (e *UCIEngine) Close() error {
	e.eng.Close()
	return nil
}
