package battle

import (
	"time"

	"github.com/wordclash/wordclash-backend/internal/match"
)

// Mode parameterizes one battle engine for both ranked and free play instead
// of duplicating the state machine per mode.
type Mode struct {
	Type match.Type

	Countdown     time.Duration // wall-clock budget for all 10 questions
	ReadyTimeout  time.Duration // found -> playing ready-check bound
	OpponentGrace time.Duration // wait after local finish before force-complete
	SearchTimeout time.Duration // search bound before the bot fallback
	SettleDelay   time.Duration // non-authoritative wait before trusting the record

	SearchPollInterval time.Duration
	MatchPollInterval  time.Duration

	XPWin, XPLoss, XPTie          int
	CoinsWin, CoinsLoss, CoinsTie int
}

func RankedMode() Mode {
	return Mode{
		Type:               match.TypeRanked,
		Countdown:          150 * time.Second,
		ReadyTimeout:       15 * time.Second,
		OpponentGrace:      30 * time.Second,
		SearchTimeout:      30 * time.Second,
		SettleDelay:        2 * time.Second,
		SearchPollInterval: 2 * time.Second,
		MatchPollInterval:  3 * time.Second,
		XPWin:              50, XPLoss: 20, XPTie: 35,
		CoinsWin: 20, CoinsLoss: 5, CoinsTie: 10,
	}
}

func FreeMode() Mode {
	m := RankedMode()
	m.Type = match.TypeFree
	m.Countdown = 60 * time.Second
	m.XPWin, m.XPLoss, m.XPTie = 25, 10, 15
	m.CoinsWin, m.CoinsLoss, m.CoinsTie = 10, 2, 5
	return m
}

// ModeFor returns the engine config for a match type.
func ModeFor(t match.Type) Mode {
	if t == match.TypeFree {
		return FreeMode()
	}
	return RankedMode()
}
