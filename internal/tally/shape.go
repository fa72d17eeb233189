package tally

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/tallyman/internal/model"
)

// Results は閲覧者に返す結果。公開範囲外のフィールドはゼロ値ではなく省略される。
type Results struct {
	Poll         PollSummary       `json:"poll"`
	Statistics   StatisticsView    `json:"statistics"`
	Questions    []QuestionView    `json:"questions,omitempty"`
	Participants []ParticipantView `json:"participants,omitempty"`
	// AnonymousVoteWeights は名前を公開するが重みを結び付けられない場合の重みの一覧。降順。
	AnonymousVoteWeights []float64   `json:"anonymousVoteWeights,omitempty"`
	Permissions          Permissions `json:"permissions"`
}

// PollSummary は結果に添える投票の概要。
type PollSummary struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Description       string           `json:"description,omitempty"`
	StartDate         *time.Time       `json:"startDate,omitempty"`
	EndDate           *time.Time       `json:"endDate,omitempty"`
	Status            model.PollStatus `json:"status"`
	Manager           Contact          `json:"manager"`
	Auditors          []Contact        `json:"auditors,omitempty"`
	VoteWeightEnabled bool             `json:"voteWeightEnabled"`
}

// Contact は管理者・監査者の連絡先。
type Contact struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// StatisticsView は参加状況の統計。
type StatisticsView struct {
	TotalParticipants int      `json:"totalParticipants"`
	VotedParticipants int      `json:"votedParticipants"`
	ParticipationRate float64  `json:"participationRate"`
	TotalVoteWeight   *float64 `json:"totalVoteWeight,omitempty"`
}

// QuestionView は設問ごとの結果。
type QuestionView struct {
	QuestionID         string       `json:"questionId"`
	Title              string       `json:"title"`
	TotalVotes         *int         `json:"totalVotes,omitempty"`
	TotalWeightedVotes *float64     `json:"totalWeightedVotes,omitempty"`
	Options            []OptionView `json:"options"`
}

// OptionView は選択肢ごとの結果。
type OptionView struct {
	OptionID           string   `json:"optionId"`
	Title              string   `json:"title"`
	VoteCount          *int     `json:"voteCount,omitempty"`
	WeightedVoteCount  *float64 `json:"weightedVoteCount,omitempty"`
	Percentage         float64  `json:"percentage"`
	WeightedPercentage *float64 `json:"weightedPercentage,omitempty"`
}

// ParticipantView は参加者ごとの投票状況。トークンは含めない。
type ParticipantView struct {
	ID         *string    `json:"id,omitempty"`
	Name       *string    `json:"name,omitempty"`
	Email      *string    `json:"email,omitempty"`
	IsUser     *bool      `json:"isUser,omitempty"`
	VoteWeight *float64   `json:"voteWeight,omitempty"`
	HasVoted   bool       `json:"hasVoted"`
	VotedAt    *time.Time `json:"votedAt,omitempty"`
}

// Staff は結果に添える管理者・監査者の情報。
type Staff struct {
	Manager  *model.User
	Auditors []model.PollStaff
}

// Shape は集計結果を公開範囲に従って整形する。
// poll には終了日時を考慮した状態を設定しておくこと。
func Shape(p *model.Poll, participants []*model.Participant, r *Result, perms Permissions, staff Staff) *Results {
	weighted := p.Settings.VoteWeightEnabled

	out := &Results{
		Poll: PollSummary{
			ID:                p.ID,
			Title:             p.Title,
			Description:       p.Description,
			StartDate:         p.StartDate,
			EndDate:           p.EndDate,
			Status:            p.Status,
			VoteWeightEnabled: weighted,
		},
		Statistics: StatisticsView{
			TotalParticipants: r.Statistics.TotalParticipants,
			VotedParticipants: r.Statistics.VotedParticipants,
			ParticipationRate: r.Statistics.ParticipationRate.InexactFloat64(),
		},
		Permissions: perms,
	}
	if staff.Manager != nil {
		out.Poll.Manager = Contact{Name: staff.Manager.Name, Email: staff.Manager.Email}
	}
	if perms.CanViewFullResults {
		for _, a := range staff.Auditors {
			out.Poll.Auditors = append(out.Poll.Auditors, Contact{ID: a.UserID, Name: a.Name, Email: a.Email})
		}
	}
	if weighted {
		out.Statistics.TotalVoteWeight = floatPtr(r.Statistics.TotalVoteWeight)
	}

	if perms.CanViewResultsBreakdown {
		out.Questions = shapeQuestions(r.Questions, perms, weighted)
	}
	if perms.CanViewParticipantNames || perms.CanViewFullResults || weighted {
		out.Participants = shapeParticipants(participants, r, perms, weighted)
	}
	if weighted && showsNames(perms) && !perms.CanViewVoteWeights {
		out.AnonymousVoteWeights = anonymousWeights(participants)
	}
	return out
}

func showsNames(perms Permissions) bool {
	return perms.CanViewParticipantNames || perms.CanViewFullResults
}

// anonymousWeights は承認済み参加者の重みを名前と切り離して降順で返す。
func anonymousWeights(participants []*model.Participant) []float64 {
	weights := make([]float64, 0, len(participants))
	for _, p := range participants {
		if p.CanVote() {
			weights = append(weights, p.VoteWeight)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(weights)))
	return weights
}

func shapeQuestions(questions []QuestionTally, perms Permissions, weighted bool) []QuestionView {
	views := make([]QuestionView, 0, len(questions))
	for _, q := range questions {
		qv := QuestionView{
			QuestionID: q.QuestionID,
			Title:      q.Title,
			Options:    make([]OptionView, 0, len(q.Options)),
		}
		if perms.CanViewVoteCounts {
			total := q.TotalVotes
			qv.TotalVotes = &total
			if weighted {
				qv.TotalWeightedVotes = floatPtr(q.TotalWeightedVotes)
			}
		}
		for _, o := range q.Options {
			ov := OptionView{
				OptionID:   o.OptionID,
				Title:      o.Title,
				Percentage: o.Percentage.InexactFloat64(),
			}
			if perms.CanViewVoteCounts {
				count := o.VoteCount
				ov.VoteCount = &count
				if weighted {
					ov.WeightedVoteCount = floatPtr(o.WeightedVoteCount)
				}
			}
			if weighted {
				ov.WeightedPercentage = floatPtr(o.WeightedPercentage)
			}
			qv.Options = append(qv.Options, ov)
		}
		views = append(views, qv)
	}
	return views
}

// shapeParticipants は承認済み参加者の投票状況を整形する。
// 名前を公開しない場合、並び順から名簿の順序がわからないよう重みの降順に並べ替える。
func shapeParticipants(participants []*model.Participant, r *Result, perms Permissions, weighted bool) []ParticipantView {
	showNames := showsNames(perms)
	showWeight := weighted && (perms.CanViewVoteWeights || !showNames)

	type entry struct {
		view   ParticipantView
		weight float64
	}
	entries := make([]entry, 0, len(participants))
	for _, p := range participants {
		if !p.CanVote() {
			continue
		}
		b, voted := r.Voted[p.ID]
		v := ParticipantView{HasVoted: voted}
		if showNames {
			name := p.Name
			v.Name = &name
		}
		if showWeight {
			w := p.VoteWeight
			v.VoteWeight = &w
		}
		if perms.CanViewFullResults {
			id, email, isUser := p.ID, p.Email, p.IsUser
			v.ID, v.Email, v.IsUser = &id, &email, &isUser
			if voted {
				at := b.SubmittedAt
				v.VotedAt = &at
			}
		}
		entries = append(entries, entry{view: v, weight: p.VoteWeight})
	}

	if !showNames {
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].weight != entries[j].weight {
				return entries[i].weight > entries[j].weight
			}
			return entries[i].view.HasVoted && !entries[j].view.HasVoted
		})
	}

	views := make([]ParticipantView, 0, len(entries))
	for _, e := range entries {
		views = append(views, e.view)
	}
	return views
}

func floatPtr(d decimal.Decimal) *float64 {
	f := d.InexactFloat64()
	return &f
}
