// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は投票・設問・選択肢の説明文をサニタイズし、
// 投票画面や結果画面でのXSSを防ぐ。
// bluemondayの許可リストベースのポリシーで、安全なタグと属性のみを通過させる。
package security

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は投票コンテンツのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// RichText は説明文のHTMLをサニタイズする。
	// 許可タグ（p, br, a, ul, ol, li, blockquote, strong, em）のみを通過させる。
	// aタグにはtarget="_blank"とrel="noopener noreferrer"が自動付与される。
	RichText(rawHTML string) string

	// PlainText はタイトル等からすべてのタグを除去し、前後の空白を取り除く。
	PlainText(raw string) string

	// URL はhttpまたはhttpsの絶対URLのみを返し、それ以外は空文字列を返す。
	// 選択肢のリンク・画像に使用する。
	URL(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	rich   *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	p := bluemonday.NewPolicy()

	// script, iframe, style等は許可リストに含めないことで除去される
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "strong", "em",
	)

	// 相対URLは投票画面の外では解決できないため不許可
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("https", "http", "mailto")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &textSanitizer{
		rich:   p,
		strict: bluemonday.StrictPolicy(),
	}
}

// RichText は説明文のHTMLをサニタイズする。
func (s *textSanitizer) RichText(rawHTML string) string {
	return strings.TrimSpace(s.rich.Sanitize(rawHTML))
}

// PlainText はすべてのタグを除去する。
func (s *textSanitizer) PlainText(raw string) string {
	return strings.TrimSpace(s.strict.Sanitize(raw))
}

// URL はhttp(s)の絶対URLのみを通過させる。
func (s *textSanitizer) URL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return ""
	}
	return u.String()
}
