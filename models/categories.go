package models

// DownloadCategory groups packages on the download manager side and selects
// the preferred mirrors for link resolution.
type DownloadCategory struct {
	Name    string   `json:"name"`
	Emoji   string   `json:"emoji"`
	Mirrors []string `json:"mirrors,omitempty"` // empty = any mirror
}

// SearchCategory maps a Newznab numeric category id onto a base media type and
// an optional source whitelist.
type SearchCategory struct {
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	Emoji    string   `json:"emoji"`
	BaseType string   `json:"base_type"`          // movies | tv | books | magazines | music
	Sources  []string `json:"sources,omitempty"` // empty = all sources supporting the base type
}

// Base media types understood by the search router.
const (
	BaseTypeMovies    = "movies"
	BaseTypeTV        = "tv"
	BaseTypeBooks     = "books"
	BaseTypeMagazines = "magazines"
	BaseTypeMusic     = "music"
)

// CustomCategoryOffset is added to the base category id for user-defined
// search categories. At most MaxCustomCategories customs are honored.
const (
	CustomCategoryOffset = 100000
	MaxCustomCategories  = 10
)

// DefaultDownloadCategories are synthesized when the store holds none.
func DefaultDownloadCategories() []DownloadCategory {
	return []DownloadCategory{
		{Name: "movies", Emoji: "🎬"},
		{Name: "tv", Emoji: "📺"},
		{Name: "books", Emoji: "📚"},
		{Name: "magazines", Emoji: "📰"},
		{Name: "music", Emoji: "🎵"},
		{Name: "docs", Emoji: "🎥"},
	}
}

// DefaultSearchCategories are synthesized when the store holds none. The ids
// follow the Newznab numbering the *arr clients expect.
func DefaultSearchCategories() []SearchCategory {
	return []SearchCategory{
		{ID: 2000, Name: "Movies", Emoji: "🎬", BaseType: BaseTypeMovies},
		{ID: 5000, Name: "TV", Emoji: "📺", BaseType: BaseTypeTV},
		{ID: 7000, Name: "Books", Emoji: "📚", BaseType: BaseTypeBooks},
		{ID: 7010, Name: "Magazines", Emoji: "📰", BaseType: BaseTypeMagazines},
		{ID: 3000, Name: "Music", Emoji: "🎵", BaseType: BaseTypeMusic},
	}
}

// BaseTypeForCategoryID resolves a numeric search-category id (custom ids
// included) to its base media type. Unknown ids fall back to movies, matching
// how *arr clients probe the caps endpoint.
func BaseTypeForCategoryID(id int, categories []SearchCategory) string {
	for _, c := range categories {
		if c.ID == id {
			return c.BaseType
		}
	}
	if id >= CustomCategoryOffset {
		return BaseTypeForCategoryID(id-CustomCategoryOffset, categories)
	}
	switch {
	case id >= 7000 && id < 7010:
		return BaseTypeBooks
	case id >= 7010 && id < 8000:
		return BaseTypeMagazines
	case id >= 5000 && id < 6000:
		return BaseTypeTV
	case id >= 3000 && id < 4000:
		return BaseTypeMusic
	default:
		return BaseTypeMovies
	}
}
