/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package memory

type Result string

const (
	ResultMatch    Result = "match"
	ResultMismatch Result = "mismatch"
	ResultSkip     Result = "skip"
)

type CardState string

const (
	CardHidden   CardState = "hidden"
	CardRevealed CardState = "revealed"
	CardMatched  CardState = "matched"
)

// CardView is what clients see of a card. PairID and the image are only
// filled in once the card is face up or matched.
type CardView struct {
	Index    int       `json:"index"`
	State    CardState `json:"state"`
	PairID   *int      `json:"pair_id,omitempty"`
	Image    string    `json:"image,omitempty"`
	Filename string    `json:"filename,omitempty"`
}

type BoardMessage struct {
	Type  string     `json:"type"` // "board"
	Cards []CardView `json:"cards"`
	Grid  string     `json:"grid"`
}

type TurnResultMessage struct {
	Type      string `json:"type"` // "turn_result"
	Result    Result `json:"result"`
	Positions []int  `json:"positions"`
	Player    int    `json:"player"`
}

// SkipMessage reports a flip the session ignored.
func SkipMessage(pos, player int) TurnResultMessage {
	return TurnResultMessage{
		Type:      "turn_result",
		Result:    ResultSkip,
		Positions: []int{pos},
		Player:    player,
	}
}

type Stats struct {
	Score          int            `json:"score"`
	FlipCount      int            `json:"flip_count"`
	RemainingPairs int            `json:"remaining_pairs"`
	CurrentPlayer  int            `json:"current_player"`
	Elapsed        string         `json:"elapsed"`
	Paused         bool           `json:"paused"`
	Players        map[int]Player `json:"players"`
}

type StatsMessage struct {
	Type string `json:"type"` // "stats"
	Stats
}

// Summary is published once the last pair is found. Winner is 0 for
// single-player games and draws.
type Summary struct {
	Mode      Mode           `json:"mode"`
	PairCount int            `json:"pair_count"`
	FlipCount int            `json:"flip_count"`
	Elapsed   string         `json:"elapsed"`
	Players   map[int]Player `json:"players"`
	Winner    int            `json:"winner,omitempty"`
	Draw      bool           `json:"draw,omitempty"`
}

type GameOverMessage struct {
	Type    string  `json:"type"` // "game_over"
	Summary Summary `json:"summary"`
}
