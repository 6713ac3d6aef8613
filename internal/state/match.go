package state

import "time"

// MatchStatus enumerates the server-reported phase of the match.
type MatchStatus string

const (
	MatchWaiting      MatchStatus = "waiting"
	MatchInProgress   MatchStatus = "in_progress"
	MatchFinished     MatchStatus = "finished"
	MatchIntermission MatchStatus = "intermission"
)

// ParseMatchStatus validates a status string received from the server.
func ParseMatchStatus(value string) (MatchStatus, bool) {
	switch MatchStatus(value) {
	case MatchWaiting, MatchInProgress, MatchFinished, MatchIntermission:
		return MatchStatus(value), true
	default:
		return "", false
	}
}

// MatchState is replaced wholesale on every authoritative push.
type MatchState struct {
	Mode          string
	TimeRemaining time.Duration
	Score         map[string]int
	Round         int
	Status        MatchStatus
	Winner        string
}

// Clone deep-copies the score table.
func (m MatchState) Clone() MatchState {
	cloned := m
	if m.Score != nil {
		cloned.Score = make(map[string]int, len(m.Score))
		for team, score := range m.Score {
			cloned.Score[team] = score
		}
	}
	return cloned
}
