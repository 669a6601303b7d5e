package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/wikichat/types"
)

const testInstruction = "Instruction: given a dialog context and related knowledge, you need to respond safely based on the knowledge."

func turns(texts ...string) []types.DialogueTurn {
	out := make([]types.DialogueTurn, len(texts))
	for i, text := range texts {
		out[i] = types.DialogueTurn{Text: text}
	}
	return out
}

func TestAssembler_Build(t *testing.T) {
	t.Parallel()
	a := NewAssembler(testInstruction)

	prompt := a.Build(turns("Hi there.", "What is the mass of Saturn?"),
		"The mass of Saturn is 568360 yottagram.")

	assert.Equal(t,
		testInstruction+
			" [CONTEXT] Hi there. EOS What is the mass of Saturn?"+
			" [KNOWLEDGE] The mass of Saturn is 568360 yottagram.",
		prompt)
}

func TestAssembler_Build_NoKnowledge(t *testing.T) {
	t.Parallel()
	a := NewAssembler(testInstruction)

	prompt := a.Build(turns("Hello"), "")
	assert.Equal(t, testInstruction+" [CONTEXT] Hello", prompt)
	assert.NotContains(t, prompt, "[KNOWLEDGE]", "empty knowledge omits the marker entirely")
}

func TestAssembler_Build_SingleTurnHasNoSeparator(t *testing.T) {
	t.Parallel()
	a := NewAssembler(testInstruction)

	prompt := a.Build(turns("Only one turn"), "")
	assert.NotContains(t, prompt, "EOS")
}

func TestAssembler_BuildOneShot(t *testing.T) {
	t.Parallel()
	a := NewAssembler(testInstruction)

	prompt := a.BuildOneShot("How many moons does Saturn have?", "Saturn has 146 moons.")
	assert.Equal(t,
		testInstruction+
			" [CONTEXT] Question: How many moons does Saturn have? Answer:"+
			" [KNOWLEDGE] Saturn has 146 moons.",
		prompt)
}

func TestJoinKnowledge(t *testing.T) {
	t.Parallel()
	sentences := []types.KnowledgeSentence{
		{Entity: "Saturn", Index: 0, Text: "First sentence."},
		{Entity: "Saturn", Index: 1, Text: "Second sentence."},
	}
	assert.Equal(t, "First sentence. Second sentence.", JoinKnowledge(sentences))
	assert.Empty(t, JoinKnowledge(nil))
}

func TestTokenCounter_Count(t *testing.T) {
	t.Parallel()
	counter := NewTokenCounter("cl100k_base", nil)

	n := counter.Count("Hello, world!")
	assert.Greater(t, n, 0)
	assert.Less(t, n, 10)
}
