// Package chessmoves turns the upstream space-separated SAN move list into
// ordered move rows, validating each move against a real board so garbage
// never reaches the store.
package chessmoves

import (
	"fmt"
	"strings"

	"github.com/notnil/chess"
)

// Enumerate validates moves (a space-separated SAN string) by replaying them
// and returns the SAN of each ply in order, 1-based. An empty move string
// yields an empty slice.
//
// Games of non-standard variants replay correctly only when initialFEN gives
// the starting position; without it the replay fails on the first illegal
// move and the game keeps zero move rows.
func Enumerate(movesStr, initialFEN string) ([]string, error) {
	fields := strings.Fields(movesStr)
	if len(fields) == 0 {
		return []string{}, nil
	}

	opts := []func(*chess.Game){chess.UseNotation(chess.AlgebraicNotation{})}
	if initialFEN != "" {
		fen, err := chess.FEN(initialFEN)
		if err != nil {
			return nil, fmt.Errorf("initial position: %w", err)
		}
		opts = append(opts, fen)
	}

	game := chess.NewGame(opts...)
	out := make([]string, 0, len(fields))
	for i, san := range fields {
		if err := game.MoveStr(san); err != nil {
			return nil, fmt.Errorf("move %d (%s): %w", i+1, san, err)
		}
		out = append(out, san)
	}
	return out, nil
}
