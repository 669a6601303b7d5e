// Package segment 将自由文本切分为句级片段。
//
// 采用标准句界启发式：终端标点（. ? !）后跟空白且下一个非空白字符为
// 大写字母、数字或引号时判定为句界；常见缩写（Dr.、U.S.、e.g. 等）与
// 单字母缩写点不切分。切分保序、无重叠、无状态。
package segment

import (
	"strings"
	"unicode"
)

// abbreviations 不作为句界的常见缩写（不含结尾点）
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"st": true, "jr": true, "sr": true, "vs": true, "etc": true,
	"e.g": true, "i.e": true, "cf": true, "al": true, "approx": true,
	"no": true, "vol": true, "fig": true, "ca": true,
}

// Split 将文本切分为句子序列。空白输入返回空切片。
func Split(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '?' && r != '!' {
			continue
		}

		// 吞掉连续终端标点（"?!"、"..."）与随后的闭合引号/括号
		end := i
		for end+1 < len(runes) && isTerminal(runes[end+1]) {
			end++
		}
		for end+1 < len(runes) && isClosing(runes[end+1]) {
			end++
		}

		if r == '.' && !isBoundaryDot(runes, start, i) {
			i = end
			continue
		}

		// 句界要求：文本结束，或空白后跟大写/数字/开引号
		next := end + 1
		for next < len(runes) && unicode.IsSpace(runes[next]) {
			next++
		}
		if next == end+1 && next < len(runes) {
			// 标点后无空白（如 "3.14"、域名），不是句界
			i = end
			continue
		}
		if next < len(runes) && !startsSentence(runes[next]) {
			i = end
			continue
		}

		if s := strings.TrimSpace(string(runes[start : end+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = next
		i = end
	}

	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

// isBoundaryDot 判断句点是否可作为句界：排除缩写与单字母缩写点。
func isBoundaryDot(runes []rune, start, dot int) bool {
	// 取句点前的单词
	w := dot - 1
	for w >= start && (unicode.IsLetter(runes[w]) || runes[w] == '.') {
		w--
	}
	word := strings.ToLower(string(runes[w+1 : dot]))

	if abbreviations[word] {
		return false
	}
	// 单字母缩写点（"J. Smith"、"U.S" 的内部点）
	if len([]rune(word)) == 1 {
		return false
	}
	return true
}

func isTerminal(r rune) bool {
	return r == '.' || r == '?' || r == '!'
}

func isClosing(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']' || r == '”' || r == '’'
}

// startsSentence 判断字符能否作为新句子的开头。
func startsSentence(r rune) bool {
	return unicode.IsUpper(r) || unicode.IsDigit(r) || r == '"' || r == '“' || r == '('
}
