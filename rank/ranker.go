package rank

import (
	"context"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/wikichat/types"
)

// Ranker 语义重排器。查询与候选句同批编码，避免两次模型往返。
type Ranker struct {
	embedder Embedder
	logger   *zap.Logger
}

// NewRanker 创建重排器。
func NewRanker(embedder Embedder, logger *zap.Logger) *Ranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{
		embedder: embedder,
		logger:   logger.With(zap.String("component", "ranker")),
	}
}

// TopN 返回与查询最相似的前 n 句，按相似度降序。
// 相似度相同的句子保持输入顺序（稳定排序）；n 超出候选数时全部返回。
// 空候选集直接返回空，不触发编码请求。
func (r *Ranker) TopN(ctx context.Context, query string, sentences []types.KnowledgeSentence, n int) ([]types.KnowledgeSentence, error) {
	if len(sentences) == 0 || n <= 0 {
		return nil, nil
	}

	texts := make([]string, 0, len(sentences)+1)
	texts = append(texts, query)
	for _, s := range sentences {
		texts = append(texts, s.Text)
	}

	vectors, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	queryVec := vectors[0]
	scored := make([]scoredSentence, len(sentences))
	for i, s := range sentences {
		scored[i] = scoredSentence{
			sentence: s,
			score:    cosineSimilarity(queryVec, vectors[i+1]),
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	if n > len(scored) {
		n = len(scored)
	}
	top := make([]types.KnowledgeSentence, n)
	for i := 0; i < n; i++ {
		top[i] = scored[i].sentence
	}

	r.logger.Debug("sentences reranked",
		zap.String("model", r.embedder.Model()),
		zap.Int("candidates", len(sentences)),
		zap.Int("selected", n))
	return top, nil
}

type scoredSentence struct {
	sentence types.KnowledgeSentence
	score    float64
}

// KeywordTopN 基于词重叠的降级排序，用于编码服务不可用时。
// 得分为候选句中出现的查询关键词数；同分保持输入顺序。
func KeywordTopN(queryWords []string, sentences []types.KnowledgeSentence, n int) []types.KnowledgeSentence {
	if len(sentences) == 0 || n <= 0 {
		return nil
	}

	scored := make([]scoredSentence, len(sentences))
	for i, s := range sentences {
		lower := strings.ToLower(s.Text)
		var hits int
		for _, w := range queryWords {
			if strings.Contains(lower, w) {
				hits++
			}
		}
		scored[i] = scoredSentence{sentence: s, score: float64(hits)}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	if n > len(scored) {
		n = len(scored)
	}
	top := make([]types.KnowledgeSentence, n)
	for i := 0; i < n; i++ {
		top[i] = scored[i].sentence
	}
	return top
}

// cosineSimilarity 计算两个向量的余弦相似度，长度不一致或零向量返回 0。
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
