// Package chat 编排一轮对话：
// 实体抽取、知识检索、句子重排、prompt 拼装与回复生成，
// 并维护会话历史。
package chat

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/BaSui01/wikichat/types"
)

// 对话轮之间与知识段落前的标记是生成模型训练时使用的格式，
// 改动会直接劣化生成质量。
const (
	contextMarker   = " [CONTEXT] "
	knowledgeMarker = " [KNOWLEDGE] "
	turnSeparator   = " EOS "
)

// Assembler 按固定格式拼装生成 prompt。
type Assembler struct {
	instruction string
}

// NewAssembler 创建拼装器。
func NewAssembler(instruction string) *Assembler {
	return &Assembler{instruction: instruction}
}

// Build 拼装 prompt：指令、对话窗口、可选的知识段。
// 知识为空时整个 [KNOWLEDGE] 段省略，而非留下空标记。
func (a *Assembler) Build(turns []types.DialogueTurn, knowledge string) string {
	var b strings.Builder
	b.WriteString(a.instruction)
	b.WriteString(contextMarker)

	for i, turn := range turns {
		if i > 0 {
			b.WriteString(turnSeparator)
		}
		b.WriteString(turn.Text)
	}

	if knowledge != "" {
		b.WriteString(knowledgeMarker)
		b.WriteString(knowledge)
	}

	return b.String()
}

// BuildOneShot 拼装单问单答 prompt，不带对话历史。
// 问答式前端用这种形式引导模型直接作答。
func (a *Assembler) BuildOneShot(question, knowledge string) string {
	return a.Build([]types.DialogueTurn{
		{Text: "Question: " + question + " Answer:"},
	}, knowledge)
}

// JoinKnowledge 将重排后的知识句合并为单个知识段。
func JoinKnowledge(sentences []types.KnowledgeSentence) string {
	if len(sentences) == 0 {
		return ""
	}
	parts := make([]string, len(sentences))
	for i, s := range sentences {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

// TokenCounter 统计 prompt 的 token 数，用于观测与预算告警。
type TokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
	logger   *zap.Logger
}

// NewTokenCounter 创建计数器。编码数据在首次使用时加载。
func NewTokenCounter(encoding string, logger *zap.Logger) *TokenCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TokenCounter{encoding: encoding, logger: logger}
}

func (c *TokenCounter) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.initErr = fmt.Errorf("init tiktoken encoding %s: %w", c.encoding, err)
			return
		}
		c.enc = enc
	})
	return c.initErr
}

// Count 返回文本的 token 数。编码不可用时回退到 len(text)/4 估算。
func (c *TokenCounter) Count(text string) int {
	if err := c.init(); err != nil {
		c.logger.Warn("tokenizer unavailable, falling back to estimate", zap.Error(err))
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}
