// Package catalog fans a search query out to the configured third-party
// catalog sources and merges their metadata. It deals in catalog metadata
// only; stream resolution lives in pkg/resolver.
package catalog

// Item is one video resource as reported by a single catalog source.
// Identity is (SourceKey, ID); two sources reporting the same upstream id
// are still two distinct items.
type Item struct {
	ID           string
	Title        string
	Class        string
	TypeName     string
	Year         string
	Description  string
	Pic          string
	SourceKey    string
	SourceRank   int // numerically lower wins dedup ties; unranked sorts last
	PlayManifest string
}

// Episode is one (label, raw URL) pair extracted from a play manifest.
// The label may be a number, free text, or empty (positional).
type Episode struct {
	Label  string
	RawURL string
}

// Source is one configured upstream catalog API.
type Source struct {
	Key     string
	BaseURL string
	Name    string
	// Rank orders sources for dedup tie-breaks; 0 means unranked.
	Rank int
}

// rankOrLast maps "unranked" to a sort key past every explicit rank.
func rankOrLast(rank int) int {
	if rank <= 0 {
		return int(^uint(0) >> 1)
	}
	return rank
}
