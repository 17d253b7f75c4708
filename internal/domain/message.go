package domain

// MessageType identifies a protocol message kind. The set is closed: the wire
// layer parses incoming strings through ParseMessageType and everything past
// that point switches exhaustively on these constants.
type MessageType string

const (
	MsgRefereeRegisterRequest  MessageType = "REFEREE_REGISTER_REQUEST"
	MsgRefereeRegisterResponse MessageType = "REFEREE_REGISTER_RESPONSE"
	MsgLeagueRegisterRequest   MessageType = "LEAGUE_REGISTER_REQUEST"
	MsgLeagueRegisterResponse  MessageType = "LEAGUE_REGISTER_RESPONSE"
	MsgRoundAnnouncement       MessageType = "ROUND_ANNOUNCEMENT"
	MsgGameInvitation          MessageType = "GAME_INVITATION"
	MsgGameJoinAck             MessageType = "GAME_JOIN_ACK"
	MsgChooseParityCall        MessageType = "CHOOSE_PARITY_CALL"
	MsgChooseParityResponse    MessageType = "CHOOSE_PARITY_RESPONSE"
	MsgGameOver                MessageType = "GAME_OVER"
	MsgResultAcknowledgment    MessageType = "RESULT_ACKNOWLEDGMENT"
	MsgMatchResultReport       MessageType = "MATCH_RESULT_REPORT"
	MsgLeagueStandingsUpdate   MessageType = "LEAGUE_STANDINGS_UPDATE"
	MsgRoundCompleted          MessageType = "ROUND_COMPLETED"
	MsgLeagueCompleted         MessageType = "LEAGUE_COMPLETED"
	MsgLeagueQuery             MessageType = "LEAGUE_QUERY"
	MsgLeagueQueryResponse     MessageType = "LEAGUE_QUERY_RESPONSE"
	MsgLeagueError             MessageType = "LEAGUE_ERROR"
	MsgGameError               MessageType = "GAME_ERROR"
)

var messageTypes = map[MessageType]bool{
	MsgRefereeRegisterRequest:  true,
	MsgRefereeRegisterResponse: true,
	MsgLeagueRegisterRequest:   true,
	MsgLeagueRegisterResponse:  true,
	MsgRoundAnnouncement:       true,
	MsgGameInvitation:          true,
	MsgGameJoinAck:             true,
	MsgChooseParityCall:        true,
	MsgChooseParityResponse:    true,
	MsgGameOver:                true,
	MsgResultAcknowledgment:    true,
	MsgMatchResultReport:       true,
	MsgLeagueStandingsUpdate:   true,
	MsgRoundCompleted:          true,
	MsgLeagueCompleted:         true,
	MsgLeagueQuery:             true,
	MsgLeagueQueryResponse:     true,
	MsgLeagueError:             true,
	MsgGameError:               true,
}

// ParseMessageType validates s against the closed message catalogue.
func ParseMessageType(s string) (MessageType, error) {
	mt := MessageType(s)
	if !messageTypes[mt] {
		return "", NewProtocolError(CodeMissingField, "ParseMessageType", ErrUnknownMessage, s)
	}
	return mt, nil
}

// RequiresAuth reports whether messages of this type must carry an auth token.
// Only the two pre-registration requests are exempt.
func (m MessageType) RequiresAuth() bool {
	switch m {
	case MsgRefereeRegisterRequest, MsgLeagueRegisterRequest:
		return false
	default:
		return true
	}
}

// RegisterRequest is the payload of REFEREE_REGISTER_REQUEST and
// LEAGUE_REGISTER_REQUEST.
type RegisterRequest struct {
	DisplayName string   `json:"display_name"`
	CallbackURL string   `json:"callback_url"`
	GameTypes   []string `json:"game_types,omitempty"` // referee capability advertisement
}

// RegisterResponse is the payload of the matching *_REGISTER_RESPONSE.
type RegisterResponse struct {
	Accepted  bool   `json:"accepted"`
	AgentID   string `json:"agent_id,omitempty"`
	AuthToken string `json:"auth_token,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// RoundAnnouncement is broadcast by the league at the start of each round.
type RoundAnnouncement struct {
	RoundID     string            `json:"round_id"`
	RoundNumber int               `json:"round_number"`
	TotalRounds int               `json:"total_rounds"`
	Assignments []MatchAssignment `json:"assignments"`
}

// MatchAssignment names one match and the referee assigned to drive it.
type MatchAssignment struct {
	MatchID    string `json:"match_id"`
	RefereeID  string `json:"referee_id"`
	PlayerA    string `json:"player_a"`
	PlayerB    string `json:"player_b"`
	PlayerAURL string `json:"player_a_url"`
	PlayerBURL string `json:"player_b_url"`
	GameType   string `json:"game_type"`
}

// GameInvitation is sent by a referee to both players of a match.
type GameInvitation struct {
	MatchID  string `json:"match_id"`
	RoundID  string `json:"round_id"`
	GameType string `json:"game_type"`
	Opponent string `json:"opponent_id"`
}

// GameJoinAck is the player's reply to a GameInvitation.
type GameJoinAck struct {
	MatchID          string `json:"match_id"`
	PlayerID         string `json:"player_id"`
	Accept           bool   `json:"accept"`
	ArrivalTimestamp string `json:"arrival_timestamp"`
}

// ChooseParityCall asks a player for its parity choice.
type ChooseParityCall struct {
	MatchID  string `json:"match_id"`
	RoundID  string `json:"round_id"`
	Deadline string `json:"deadline,omitempty"`
}

// ChooseParityResponse carries the player's choice. ParityChoice must be a
// lowercase member of {"even","odd"}; the validator rejects anything else.
type ChooseParityResponse struct {
	MatchID      string `json:"match_id"`
	PlayerID     string `json:"player_id"`
	ParityChoice string `json:"parity_choice"`
}

// GameOver notifies both players of the match outcome.
type GameOver struct {
	MatchID     string            `json:"match_id"`
	DrawnNumber int               `json:"drawn_number"`
	Parity      string            `json:"parity"`
	WinnerID    string            `json:"winner_id,omitempty"` // empty on a draw
	Outcome     string            `json:"outcome"`             // "win", "draw", "technical"
	Choices     map[string]string `json:"choices"`
}

// ResultAck is the player's acknowledgment of a GameOver.
type ResultAck struct {
	MatchID string `json:"match_id"`
	Status  string `json:"status"`
}

// MatchResultReport is sent by the referee to the league once a match reaches
// a terminal state. Reports may be duplicated in transit; the aggregator
// de-duplicates by MatchID.
type MatchResultReport struct {
	MatchID     string `json:"match_id"`
	RoundID     string `json:"round_id"`
	PlayerA     string `json:"player_a"`
	PlayerB     string `json:"player_b"`
	WinnerID    string `json:"winner_id,omitempty"`
	LoserID     string `json:"loser_id,omitempty"`
	Draw        bool   `json:"draw"`
	Technical   bool   `json:"technical"`
	DrawnNumber int    `json:"drawn_number,omitempty"`
}

// StandingsUpdate is broadcast after each recompute.
type StandingsUpdate struct {
	LeagueID string           `json:"league_id"`
	Table    []StandingsEntry `json:"table"`
}

// RoundCompleted announces that every match in a round is terminal.
type RoundCompleted struct {
	RoundID string `json:"round_id"`
}

// LeagueFinal is the LEAGUE_COMPLETED payload announcing the final table.
type LeagueFinal struct {
	LeagueID string           `json:"league_id"`
	Final    []StandingsEntry `json:"final_standings"`
}

// LeagueQuery asks the league for its current state.
type LeagueQuery struct {
	Query string `json:"query"` // "standings", "schedule", "status"
}

// LeagueQueryResponse answers a LeagueQuery.
type LeagueQueryResponse struct {
	Query     string           `json:"query"`
	Status    string           `json:"status,omitempty"`
	Standings []StandingsEntry `json:"standings,omitempty"`
	Rounds    []Round          `json:"rounds,omitempty"`
}

// ErrorNotice is the payload of LEAGUE_ERROR and GAME_ERROR.
type ErrorNotice struct {
	Code    ErrorCode `json:"error_code"`
	Message string    `json:"message"`
	MatchID string    `json:"match_id,omitempty"`
}
