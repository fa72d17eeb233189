package poll

import (
	"fmt"
	"time"

	"github.com/hitoshi/tallyman/internal/model"
)

// 公開できない理由。NOT_LAUNCHABLEのメッセージにそのまま含める。
const (
	ReasonMissingDates     = "missing dates"
	ReasonEndBeforeStart   = "end before start"
	ReasonStartInPast      = "start in past"
	ReasonEmptyBallot      = "empty ballot"
	ReasonTooFewOptions    = "question has fewer than 2 options"
	ReasonMinExceedsOption = "minSelection exceeds option count"
)

// CheckLaunchable はdraftの投票を公開できるかを判定する。
// 満たさない条件があれば、最初に見つかった条件を示すNOT_LAUNCHABLEを返す。
func CheckLaunchable(p *model.Poll, now time.Time) error {
	if p.StartDate == nil || p.EndDate == nil {
		return model.NewNotLaunchableError(ReasonMissingDates)
	}
	if !p.EndDate.After(*p.StartDate) {
		return model.NewNotLaunchableError(ReasonEndBeforeStart)
	}
	if p.StartDate.Before(now) {
		return model.NewNotLaunchableError(ReasonStartInPast)
	}
	if len(p.Questions) == 0 {
		return model.NewNotLaunchableError(ReasonEmptyBallot)
	}
	for _, q := range p.Questions {
		if len(q.Options) < 2 {
			return model.NewNotLaunchableError(fmt.Sprintf("%s: %s", ReasonTooFewOptions, q.Title))
		}
		if q.MinSelection > len(q.Options) {
			return model.NewNotLaunchableError(fmt.Sprintf("%s: %s", ReasonMinExceedsOption, q.Title))
		}
	}
	return nil
}
