package anthropic

// BuildCachedSystemBlocks wraps a long, stable system prompt with a cache
// breakpoint so repeated extraction calls reuse it.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: "5m"},
		},
	}
}
