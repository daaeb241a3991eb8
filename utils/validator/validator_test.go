package validator

import "testing"

func TestCheckTitleEpisode(t *testing.T) {
	tests := []struct {
		name  string
		title string
		opts  Options
		ok    bool
	}{
		{
			name:  "exact episode",
			title: "Breaking.Bad.S01E03.German.1080p.WEB.x264-GROUP",
			opts:  Options{SearchString: "Breaking Bad", Season: 1, Episode: 3, BaseType: "tv"},
			ok:    true,
		},
		{
			name:  "wrong episode",
			title: "Breaking.Bad.S01E04.German.1080p.WEB.x264-GROUP",
			opts:  Options{SearchString: "Breaking Bad", Season: 1, Episode: 3, BaseType: "tv"},
			ok:    false,
		},
		{
			name:  "season pack accepted without episode",
			title: "Breaking.Bad.S01.German.1080p.WEB.x264-GROUP",
			opts:  Options{SearchString: "Breaking Bad", Season: 1, BaseType: "tv"},
			ok:    true,
		},
		{
			name:  "single episode rejected for season pack",
			title: "Breaking.Bad.S01E01.German.1080p.WEB.x264-GROUP",
			opts:  Options{SearchString: "Breaking Bad", Season: 1, BaseType: "tv"},
			ok:    false,
		},
		{
			name:  "missing search term",
			title: "Other.Show.S01E03.German.1080p.WEB.x264-GROUP",
			opts:  Options{SearchString: "Breaking Bad", Season: 1, Episode: 3, BaseType: "tv"},
			ok:    false,
		},
		{
			name:  "no quality token",
			title: "Breaking.Bad.S01E03",
			opts:  Options{SearchString: "Breaking Bad", Season: 1, Episode: 3, BaseType: "tv"},
			ok:    false,
		},
		{
			name:  "xxx excluded by default",
			title: "Some.Movie.XXX.1080p.WEB.x264-GROUP",
			opts:  Options{SearchString: "Some Movie", BaseType: "movies"},
			ok:    false,
		},
		{
			name:  "xxx allowed when requested",
			title: "Some.Movie.XXX.1080p.WEB.x264-GROUP",
			opts:  Options{SearchString: "Some Movie", WantXXX: true, BaseType: "movies"},
			ok:    true,
		},
		{
			name:  "umlaut transliteration",
			title: "Die.Hoehle.2024.German.2160p.WEB.x265-GROUP",
			opts:  Options{SearchString: "Die Höhle", BaseType: "movies"},
			ok:    true,
		},
		{
			name:  "books skip quality heuristic",
			title: "Author.Name.Book.Title.2024.ePUB",
			opts:  Options{SearchString: "Book Title", BaseType: "books"},
			ok:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTitle(tt.title, tt.opts)
			if (err == nil) != tt.ok {
				t.Errorf("CheckTitle(%q) = %v, want ok=%v", tt.title, err, tt.ok)
			}
		})
	}
}

func TestCheckIMDB(t *testing.T) {
	if err := CheckIMDB("tt1375666", "tt1375666"); err != nil {
		t.Errorf("matching ids rejected: %v", err)
	}
	if err := CheckIMDB("tt1375666", "tt0903747"); err == nil {
		t.Error("mismatched ids accepted")
	}
	if err := CheckIMDB("", "tt0903747"); err != nil {
		t.Errorf("empty wanted id must not constrain: %v", err)
	}
}

func TestExtractIMDB(t *testing.T) {
	got := ExtractIMDB(`<a href="https://www.imdb.com/title/tt0903747/">IMDb</a>`)
	if got != "tt0903747" {
		t.Errorf("ExtractIMDB = %q", got)
	}
}
