package model

import (
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/cases"
)

var emailFolder = cases.Fold()

// NormalizeEmail は名簿の一意性判定に使うメールアドレスのキーを返す。
// 前後の空白を除去し、Unicodeのケースフォールディングを適用する。
// 国際化ドメインはPunycodeに変換するため、Unicode表記とASCII表記は同じキーになる。
func NormalizeEmail(email string) string {
	folded := emailFolder.String(strings.TrimSpace(email))

	at := strings.LastIndex(folded, "@")
	if at < 0 {
		return folded
	}
	domain, err := idna.Lookup.ToASCII(folded[at+1:])
	if err != nil {
		// 変換できないドメインはそのまま比較する
		return folded
	}
	return folded[:at+1] + domain
}
