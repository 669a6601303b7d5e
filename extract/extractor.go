// Package extract 提供查询文本的实体抽取与关键词过滤。
//
// Entities 采用大写词串启发式识别专有名词提及：连续的首字母大写、
// 且小写形式不在停用词表中的词构成一个实体跨度，跨度间允许少量
// 小写连接词（"of"、"de" 等）。空输入或无专有名词时返回空序列，
// 这是合法结果而非错误。
//
// Words 是实体检索不可用时的回退信号路径：按空白与 .?! 切分、
// 转小写并剔除停用词后返回词集合。两个函数均为纯函数。
package extract

import (
	"bufio"
	_ "embed"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/BaSui01/wikichat/types"
)

//go:embed stopwords.txt
var stopwordsFile string

// connectors 实体跨度内部允许出现的小写连接词
var connectors = map[string]bool{
	"of":  true,
	"the": true,
	"de":  true,
	"la":  true,
	"van": true,
	"von": true,
}

// Extractor 命名实体抽取器
type Extractor struct {
	stopwords map[string]bool
	logger    *zap.Logger
}

// NewExtractor 创建抽取器，加载内置停用词表。
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		stopwords: loadStopwords(),
		logger:    logger.With(zap.String("component", "extractor")),
	}
}

// Entities 返回查询中按首次出现顺序排列的实体提及。
// 同一文本重复出现时会重复返回；无实体时返回空切片。
func (e *Extractor) Entities(query string) []types.Entity {
	tokens := tokenize(query)

	var entities []types.Entity
	var span []string
	var pendingConnectors []string

	flush := func() {
		if len(span) > 0 {
			entities = append(entities, types.Entity{Text: strings.Join(span, " ")})
			span = nil
		}
		pendingConnectors = nil
	}

	for _, tok := range tokens {
		switch {
		case e.isProperNoun(tok):
			if len(span) > 0 && len(pendingConnectors) > 0 {
				// 连接词只有在两段大写词之间才归入跨度
				span = append(span, pendingConnectors...)
				pendingConnectors = nil
			}
			span = append(span, tok)

		case len(span) > 0 && connectors[tok] && len(pendingConnectors) < 2:
			pendingConnectors = append(pendingConnectors, tok)

		default:
			flush()
		}
	}
	flush()

	e.logger.Debug("entities extracted",
		zap.String("query", query),
		zap.Int("count", len(entities)))

	return entities
}

// isProperNoun 判断单词是否可作为实体跨度成员。
func (e *Extractor) isProperNoun(tok string) bool {
	r := []rune(tok)
	if len(r) == 0 || !unicode.IsUpper(r[0]) {
		return false
	}
	// 句首大写的疑问词/冠词（Who、The ...）不是专有名词
	return !e.stopwords[strings.ToLower(tok)]
}

// Words 返回去除停用词后的小写词集合，按字典序排列以保证确定性。
func (e *Extractor) Words(query string) []string {
	seen := make(map[string]bool)
	for _, tok := range tokenize(strings.ToLower(query)) {
		if tok == "" || e.stopwords[tok] {
			continue
		}
		seen[tok] = true
	}

	words := make([]string, 0, len(seen))
	for w := range seen {
		words = append(words, w)
	}
	sort.Strings(words)
	return words
}

// tokenize 按空白与终端标点（. ? !）切分，保留词内撇号与连字符。
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == '.' || r == '?' || r == '!' || r == ',' || r == ';' || r == ':'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "\"'()[]")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// loadStopwords 解析内置停用词文件。
func loadStopwords(extra ...string) map[string]bool {
	stop := make(map[string]bool, 200)
	scanner := bufio.NewScanner(strings.NewReader(stopwordsFile))
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word != "" {
			stop[word] = true
		}
	}
	for _, w := range extra {
		stop[strings.ToLower(w)] = true
	}
	return stop
}
