// Package slug 提供把任意文本转换为 URL 安全标识的纯函数。
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize 把任意文本规整为 URL 安全的 slug。
// 处理步骤：
//  1. Unicode NFKC 规范化（兼容组合，全角字符折叠为半角等）并去除首尾空白
//  2. 连续空白折叠为单个连字符
//  3. 去掉除 Unicode 字母、数字、'-'、'_'、'.'、'~' 之外的所有字符
//  4. 连续连字符折叠为一个，再去掉首尾连字符
//
// 空输入或纯连字符输入会得到空字符串，是否可用交给调用方判断
// （见 IsEffectivelyEmpty）。无副作用，幂等。
func Normalize(text string) string {
	s := strings.TrimSpace(norm.NFKC.String(text))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	lastHyphen := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			// 空白统一折叠为连字符，连续空白只产生一个
			if !lastHyphen {
				b.WriteRune('-')
				lastHyphen = true
			}
		case r == '-':
			if !lastHyphen {
				b.WriteRune('-')
				lastHyphen = true
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '~':
			b.WriteRune(r)
			lastHyphen = false
		default:
			// 其余字符直接丢弃，不做音译
		}
	}

	return strings.Trim(b.String(), "-")
}

// IsEffectivelyEmpty 判断一个 slug 候选是否"等效为空"：
// 空字符串、纯空白或只剩连字符的输入都视为空。
func IsEffectivelyEmpty(s string) bool {
	return strings.Trim(strings.TrimSpace(s), "-") == ""
}
