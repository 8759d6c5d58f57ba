package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("a"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}

func TestChunkBlocks_ExactLimitStaysWhole(t *testing.T) {
	limit := 10
	block := strings.Repeat("a", 40) // estimate == limit

	chunks := chunkBlocks([]string{block}, limit)

	require.Len(t, chunks, 1)
	assert.Equal(t, block, chunks[0])
}

func TestChunkBlocks_OneOverLimitSplitsInTwo(t *testing.T) {
	limit := 10
	block := strings.Repeat("a", 41) // estimate == limit+1, no soft boundaries

	chunks := chunkBlocks([]string{block}, limit)

	require.Len(t, chunks, 2)
	assert.Equal(t, block, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.LessOrEqual(t, EstimateTokens(c), limit)
	}
}

func TestChunkBlocks_PacksWholeBlocks(t *testing.T) {
	limit := 10
	a := strings.Repeat("a", 18)
	b := strings.Repeat("b", 18)

	// 18 + 2 (separator) + 18 = 38 chars, estimate 10 == limit.
	chunks := chunkBlocks([]string{a, b}, limit)
	require.Len(t, chunks, 1)
	assert.Equal(t, a+"\n\n"+b, chunks[0])

	// One token tighter and the blocks no longer share a chunk.
	chunks = chunkBlocks([]string{a, b}, 9)
	require.Len(t, chunks, 2)
	assert.Equal(t, a, chunks[0])
	assert.Equal(t, b, chunks[1])
}

func TestChunkBlocks_NeverSplitsAFittingBlock(t *testing.T) {
	limit := 10
	blocks := []string{
		strings.Repeat("a", 30),
		strings.Repeat("b", 30),
		strings.Repeat("c", 30),
	}

	chunks := chunkBlocks(blocks, limit)

	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, blocks[i], c)
	}
}

func TestSplitOversized_PrefersParagraphs(t *testing.T) {
	limit := 10
	p1 := strings.Repeat("a", 20)
	p2 := strings.Repeat("b", 20)
	p3 := strings.Repeat("c", 20)
	block := p1 + "\n\n" + p2 + "\n\n" + p3

	chunks := splitOversized(block, limit)

	// 20+1+20 = 41 chars puts two paragraphs over the limit, so each
	// chunk holds one paragraph.
	require.Len(t, chunks, 3)
	assert.Equal(t, p1, chunks[0])
	assert.Equal(t, p2, chunks[1])
	assert.Equal(t, p3, chunks[2])
}

func TestSplitOversized_FallsBackToSentences(t *testing.T) {
	limit := 10
	para := "The first sentence here runs long. The second one also does. Short tail."

	chunks := splitOversized(para, limit)

	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, EstimateTokens(c), limit)
	}
	joined := strings.Join(chunks, " ")
	assert.Contains(t, joined, "The first sentence here runs long.")
	assert.Contains(t, joined, "Short tail.")
}

func TestHardCut_RespectsRuneBoundaries(t *testing.T) {
	limit := 2 // 8-byte slices
	s := strings.Repeat("é", 10) // 2 bytes per rune, 20 bytes

	pieces := hardCut(s, limit)

	assert.Equal(t, s, strings.Join(pieces, ""))
	for _, p := range pieces {
		assert.True(t, strings.HasPrefix(p, "é"), "piece should start on a rune boundary")
	}
}

func TestChunkBlocks_EmptyInput(t *testing.T) {
	assert.Empty(t, chunkBlocks(nil, 10))
}
