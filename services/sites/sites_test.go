package sites

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	Adapter
	id string
}

func (f fakeAdapter) ID() string { return f.id }

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(fakeAdapter{id: "nx"}))
	assert.Error(t, r.Register(fakeAdapter{id: "nx"}))
	assert.Error(t, r.Register(fakeAdapter{id: ""}))

	_, ok := r.Get("nx")
	assert.True(t, ok)
	assert.True(t, r.Known("nx"))
	assert.False(t, r.Known("zz"))
}

func TestRegistryAllSorted(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(fakeAdapter{id: "dw"}, fakeAdapter{id: "al"}, fakeAdapter{id: "nx"})

	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, "al", all[0].ID())
	assert.Equal(t, "dw", all[1].ID())
	assert.Equal(t, "nx", all[2].ID())
}

func TestCapabilitiesSupportsBaseType(t *testing.T) {
	caps := Capabilities{BaseTypes: []string{"movies", "tv"}}
	assert.True(t, caps.SupportsBaseType("tv"))
	assert.False(t, caps.SupportsBaseType("music"))
}

func TestParseSizeMB(t *testing.T) {
	assert.Equal(t, int64(4403), parseSizeMB("Größe: 4,3 GB"))
	assert.Equal(t, int64(700), parseSizeMB("700 MB web-dl"))
	assert.Equal(t, int64(0), parseSizeMB("no size here"))
}

func TestParseSearchPage(t *testing.T) {
	page := `<html><body>
		<div class="result">
			<a class="release-title" href="https://example.org/r/1">Some.Movie.2024.1080p.WEB-DL</a>
		</div>
		<a href="https://example.org/other">navigation</a>
	</body></html>`

	items, err := dwAdapter{}.parseSearchPage(page)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Some.Movie.2024.1080p.WEB-DL", items[0].Title)
	assert.Equal(t, "https://example.org/r/1", items[0].Link)
}

func TestLatin1CharsetReader(t *testing.T) {
	_, err := latin1CharsetReader("iso-8859-1", nil)
	assert.NoError(t, err)
	_, err = latin1CharsetReader("shift-jis", nil)
	assert.Error(t, err)
}
