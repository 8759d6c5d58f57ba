package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint. Map-reduce summarization sends the same system prompt once
// per chunk; the breakpoint turns every request after the first into a
// cache read. The default ephemeral TTL (5 minutes) outlives a single
// thread's fan-out.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{},
		},
	}
}
