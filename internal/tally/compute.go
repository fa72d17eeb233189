// Package tally は投票結果の集計と閲覧者ごとの公開範囲の制御を提供する。
package tally

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/tallyman/internal/model"
)

// ErrInconsistentBallot は投票内容が投票に存在しない設問・選択肢を参照している場合のエラー。
// 投票開始後に選択肢は変更できないため、発生した場合はデータ不整合として集計を中断する。
var ErrInconsistentBallot = errors.New("ballot references an option outside the poll")

var hundred = decimal.NewFromInt(100)

// OptionTally は選択肢ごとの集計値。
type OptionTally struct {
	OptionID           string
	Title              string
	VoteCount          int
	WeightedVoteCount  decimal.Decimal
	Percentage         decimal.Decimal
	WeightedPercentage decimal.Decimal
}

// QuestionTally は設問ごとの集計値。
// TotalVotes は選択肢の得票数の合計で、単一選択の設問では投票者数と一致する。
type QuestionTally struct {
	QuestionID         string
	Title              string
	TotalVotes         int
	TotalWeightedVotes decimal.Decimal
	Options            []OptionTally
}

// Statistics は参加状況の統計。承認済みの参加者のみを数える。
// TotalVoteWeight は投票の有無によらず名簿全体の重みの合計。
type Statistics struct {
	TotalParticipants int
	VotedParticipants int
	ParticipationRate decimal.Decimal
	TotalVoteWeight   decimal.Decimal
}

// Result は閲覧者に依存しない集計結果。
type Result struct {
	Questions  []QuestionTally
	Statistics Statistics
	// Voted は集計対象となった投票済み参加者IDから投票内容への対応。
	Voted map[string]*model.Ballot
}

// Compute は名簿と投票内容から集計結果を計算する。
// 承認済みでない参加者の投票内容は数えない。
// voteWeightEnabled が無効の場合、重み付き集計ではすべての投票を1として扱う。
func Compute(poll *model.Poll, participants []*model.Participant, ballots []*model.Ballot) (*Result, error) {
	approved := make(map[string]*model.Participant, len(participants))
	stats := Statistics{TotalVoteWeight: decimal.Zero}
	for _, p := range participants {
		if !p.CanVote() {
			continue
		}
		approved[p.ID] = p
		stats.TotalParticipants++
		stats.TotalVoteWeight = stats.TotalVoteWeight.Add(weightOf(poll, p))
	}

	type counter struct {
		count    int
		weighted decimal.Decimal
	}
	counts := make(map[string]map[string]*counter, len(poll.Questions))
	for _, q := range poll.Questions {
		byOption := make(map[string]*counter, len(q.Options))
		for _, o := range q.Options {
			byOption[o.ID] = &counter{weighted: decimal.Zero}
		}
		counts[q.ID] = byOption
	}

	voted := make(map[string]*model.Ballot, len(ballots))
	for _, b := range ballots {
		// 参照先の検証は参加者の状態によらず行う
		for qid, optionIDs := range b.Selections {
			byOption, ok := counts[qid]
			if !ok {
				return nil, fmt.Errorf("%w: ballot %s question %s", ErrInconsistentBallot, b.ID, qid)
			}
			for _, oid := range optionIDs {
				if _, ok := byOption[oid]; !ok {
					return nil, fmt.Errorf("%w: ballot %s option %s", ErrInconsistentBallot, b.ID, oid)
				}
			}
		}

		p, ok := approved[b.ParticipantID]
		if !ok {
			continue
		}
		voted[p.ID] = b
		w := weightOf(poll, p)
		for qid, optionIDs := range b.Selections {
			for _, oid := range optionIDs {
				c := counts[qid][oid]
				c.count++
				c.weighted = c.weighted.Add(w)
			}
		}
	}

	stats.VotedParticipants = len(voted)
	stats.ParticipationRate = percentage(decimal.NewFromInt(int64(stats.VotedParticipants)), decimal.NewFromInt(int64(stats.TotalParticipants)))

	questions := make([]QuestionTally, 0, len(poll.Questions))
	for _, q := range poll.Questions {
		qt := QuestionTally{QuestionID: q.ID, Title: q.Title, TotalWeightedVotes: decimal.Zero}
		for _, o := range q.Options {
			c := counts[q.ID][o.ID]
			qt.TotalVotes += c.count
			qt.TotalWeightedVotes = qt.TotalWeightedVotes.Add(c.weighted)
		}
		total := decimal.NewFromInt(int64(qt.TotalVotes))
		qt.Options = make([]OptionTally, 0, len(q.Options))
		for _, o := range q.Options {
			c := counts[q.ID][o.ID]
			qt.Options = append(qt.Options, OptionTally{
				OptionID:           o.ID,
				Title:              o.Title,
				VoteCount:          c.count,
				WeightedVoteCount:  c.weighted,
				Percentage:         percentage(decimal.NewFromInt(int64(c.count)), total),
				WeightedPercentage: percentage(c.weighted, qt.TotalWeightedVotes),
			})
		}
		questions = append(questions, qt)
	}

	return &Result{Questions: questions, Statistics: stats, Voted: voted}, nil
}

func weightOf(poll *model.Poll, p *model.Participant) decimal.Decimal {
	if !poll.Settings.VoteWeightEnabled {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromFloat(p.VoteWeight)
}

// percentage は part / total * 100 を小数点以下1桁に四捨五入して返す。total が0の場合は0。
func percentage(part, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return part.Mul(hundred).Div(total).Round(1)
}
