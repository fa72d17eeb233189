package ballot

import (
	"reflect"
	"testing"

	"github.com/hitoshi/tallyman/internal/model"
)

func testPoll() *model.Poll {
	return &model.Poll{
		ID:     "poll-1",
		Status: model.PollStatusActive,
		Questions: []model.Question{
			{
				ID: "q1", MinSelection: 1, MaxSelection: 1,
				Options: []model.Option{{ID: "a"}, {ID: "b"}},
			},
			{
				ID: "q2", MinSelection: 1, MaxSelection: 2,
				Options: []model.Option{{ID: "x"}, {ID: "y"}, {ID: "z"}},
			},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		selections model.Selections
		wantCode   string
		want       model.Selections
	}{
		{
			name:       "有効な投票",
			selections: model.Selections{"q1": {"a"}, "q2": {"z", "x"}},
			want:       model.Selections{"q1": {"a"}, "q2": {"x", "z"}},
		},
		{
			name:       "重複した選択肢はまとめられる",
			selections: model.Selections{"q1": {"b", "b"}, "q2": {"y", "y", "y"}},
			want:       model.Selections{"q1": {"b"}, "q2": {"y"}},
		},
		{
			name:       "設問が欠けている",
			selections: model.Selections{"q1": {"a"}},
			wantCode:   model.ErrCodeIncompleteBallot,
		},
		{
			name:       "選択数が不足",
			selections: model.Selections{"q1": {}, "q2": {"x"}},
			wantCode:   model.ErrCodeIncompleteBallot,
		},
		{
			name:       "選択数が上限超過",
			selections: model.Selections{"q1": {"a"}, "q2": {"x", "y", "z"}},
			wantCode:   model.ErrCodeTooManySelections,
		},
		{
			name:       "単一選択に2つ",
			selections: model.Selections{"q1": {"a", "b"}, "q2": {"x"}},
			wantCode:   model.ErrCodeTooManySelections,
		},
		{
			name:       "他の設問の選択肢",
			selections: model.Selections{"q1": {"x"}, "q2": {"y"}},
			wantCode:   model.ErrCodeInvalidSelection,
		},
		{
			name:       "存在しない設問",
			selections: model.Selections{"q1": {"a"}, "q2": {"x"}, "q9": {"a"}},
			wantCode:   model.ErrCodeInvalidSelection,
		},
		{
			name:       "空の投票",
			selections: nil,
			wantCode:   model.ErrCodeIncompleteBallot,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(testPoll(), tt.selections)
			if tt.wantCode != "" {
				if !model.HasCode(err, tt.wantCode) {
					t.Fatalf("expected %s, got %v", tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate returned error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("normalized = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestValidate_DoesNotMutateInput は入力の選択が書き換えられないことを検証する。
func TestValidate_DoesNotMutateInput(t *testing.T) {
	in := model.Selections{"q1": {"a"}, "q2": {"z", "x", "x"}}

	if _, err := Validate(testPoll(), in); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !reflect.DeepEqual(in["q2"], []string{"z", "x", "x"}) {
		t.Errorf("input mutated: %v", in["q2"])
	}
}
