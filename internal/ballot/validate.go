package ballot

import (
	"fmt"

	"github.com/hitoshi/tallyman/internal/model"
)

// Validate は投票内容を投票の設問定義に照らして検証し、正規化した選択を返す。
// 同一設問内の重複した選択肢は1つにまとめ、選択肢は設問上の表示順に並べる。
// 部分的な投票は認めず、すべての設問が選択数の範囲を満たす必要がある。
func Validate(poll *model.Poll, selections model.Selections) (model.Selections, error) {
	for qid := range selections {
		if poll.FindQuestion(qid) == nil {
			return nil, model.NewInvalidSelectionError(fmt.Sprintf("unknown question %s", qid))
		}
	}

	normalized := make(model.Selections, len(poll.Questions))
	for i := range poll.Questions {
		q := &poll.Questions[i]

		chosen := make(map[string]bool, len(selections[q.ID]))
		for _, oid := range selections[q.ID] {
			if !q.HasOption(oid) {
				return nil, model.NewInvalidSelectionError(fmt.Sprintf("option %s does not belong to question %s", oid, q.ID))
			}
			chosen[oid] = true
		}

		if len(chosen) < q.MinSelection {
			return nil, model.NewIncompleteBallotError(q.ID, q.MinSelection, len(chosen))
		}
		if len(chosen) > q.MaxSelection {
			return nil, model.NewTooManySelectionsError(q.ID, q.MaxSelection, len(chosen))
		}

		ordered := make([]string, 0, len(chosen))
		for _, o := range q.Options {
			if chosen[o.ID] {
				ordered = append(ordered, o.ID)
			}
		}
		normalized[q.ID] = ordered
	}
	return normalized, nil
}
