package types

// Game is one game object as emitted by the upstream NDJSON export stream.
// Timestamps are milliseconds since epoch; clock values are seconds.
type Game struct {
	ID         string  `json:"id"`
	Rated      bool    `json:"rated"`
	Variant    string  `json:"variant"`
	Speed      string  `json:"speed"`
	Perf       string  `json:"perf"`
	CreatedAt  int64   `json:"createdAt"`
	LastMoveAt int64   `json:"lastMoveAt"`
	Status     string  `json:"status"`
	Source     string  `json:"source,omitempty"`
	Winner     string  `json:"winner,omitempty"`
	PGN        string  `json:"pgn,omitempty"`
	Moves      string  `json:"moves,omitempty"`
	InitialFEN string  `json:"initialFen,omitempty"`
	Clock      *Clock  `json:"clock,omitempty"`
	Players    Players `json:"players"`
}

// Clock is the time control of a game.
type Clock struct {
	Initial   int `json:"initial"`
	Increment int `json:"increment"`
	TotalTime int `json:"totalTime"`
}

// Players holds both sides of a game.
type Players struct {
	White Side `json:"white"`
	Black Side `json:"black"`
}

// Side is one side of a game. User is nil for anonymous players.
type Side struct {
	User       *User   `json:"user,omitempty"`
	Rating     int     `json:"rating,omitempty"`
	RatingDiff int     `json:"ratingDiff,omitempty"`
	Flair      *string `json:"flair,omitempty"`
}

// User identifies a registered upstream account.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
