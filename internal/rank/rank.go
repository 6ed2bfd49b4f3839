// Package rank computes tier/star movement from a battle outcome. It is a
// pure function over a per-tier configuration table; persistence belongs to
// the profile store.
package rank

type Tier int

const (
	Bronze Tier = iota
	Silver
	Gold
	Platinum
	Diamond
	Champion
)

var tierNames = [...]string{"bronze", "silver", "gold", "platinum", "diamond", "champion"}

func (t Tier) String() string {
	if t < Bronze || t > Champion {
		return "unknown"
	}
	return tierNames[t]
}

// ParseTier maps a stored tier name back to its Tier. Unknown names fall
// back to Bronze, matching a fresh profile.
func ParseTier(name string) Tier {
	for i, n := range tierNames {
		if n == name {
			return Tier(i)
		}
	}
	return Bronze
}

type tierConfig struct {
	StarsToPromote   int // stars needed to advance; 0 means no ceiling
	StarsLostOnLose  int
	StarsGainedOnWin int
	ProtectionStars  int // at or below this, a loss cannot demote
}

var tierTable = map[Tier]tierConfig{
	Bronze:   {StarsToPromote: 30, StarsLostOnLose: 1, StarsGainedOnWin: 3, ProtectionStars: 3},
	Silver:   {StarsToPromote: 40, StarsLostOnLose: 1, StarsGainedOnWin: 2, ProtectionStars: 2},
	Gold:     {StarsToPromote: 50, StarsLostOnLose: 2, StarsGainedOnWin: 2, ProtectionStars: 1},
	Platinum: {StarsToPromote: 60, StarsLostOnLose: 2, StarsGainedOnWin: 1, ProtectionStars: 0},
	Diamond:  {StarsToPromote: 80, StarsLostOnLose: 3, StarsGainedOnWin: 1, ProtectionStars: 0},
	Champion: {StarsToPromote: 0, StarsLostOnLose: 3, StarsGainedOnWin: 1, ProtectionStars: 0},
}

type Result struct {
	Tier     Tier
	Stars    int
	Delta    int // raw star swing before promotion/demotion adjustment
	Promoted bool
	Demoted  bool
}

// ApplyResult returns the rank movement for one finished battle.
//
// A tie changes nothing. A win adds the tier's star gain and promotes once
// the promotion threshold is reached (champion has none). A loss subtracts
// the tier's star cost; if that would go negative, the tier's protection
// buffer keeps the player at zero stars, otherwise the player drops one tier
// and lands one star short of promoting back. Bronze never demotes.
func ApplyResult(tier Tier, stars int, won, tied bool) Result {
	cfg := tierTable[tier]

	if tied {
		return Result{Tier: tier, Stars: stars}
	}

	if won {
		res := Result{Tier: tier, Stars: stars + cfg.StarsGainedOnWin, Delta: cfg.StarsGainedOnWin}
		if cfg.StarsToPromote > 0 && res.Stars >= cfg.StarsToPromote && tier < Champion {
			res.Tier = tier + 1
			res.Stars = 0
			res.Promoted = true
		}
		return res
	}

	res := Result{Tier: tier, Stars: stars - cfg.StarsLostOnLose, Delta: -cfg.StarsLostOnLose}
	if res.Stars >= 0 {
		return res
	}

	// Protection only exists where the table grants a buffer.
	if cfg.ProtectionStars > 0 && stars <= cfg.ProtectionStars {
		res.Stars = 0
		return res
	}

	if tier == Bronze {
		res.Stars = 0
		return res
	}

	res.Tier = tier - 1
	res.Stars = tierTable[tier-1].StarsToPromote - 1
	res.Demoted = true
	return res
}
