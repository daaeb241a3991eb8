package crypters

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractLinkRef(t *testing.T) {
	assert.Equal(t, "/Link/abc123.html", extractLinkRef("/Link/abc123.html"))
	assert.Equal(t, "/Link/abc123.html", extractLinkRef(`openLink('/Link/abc123.html')`))
	assert.Equal(t, "/Link/abc.html", extractLinkRef(`window.open("/Link/abc.html", "_blank")`))
}

func TestFrameSource(t *testing.T) {
	page := `<html><body><iframe src="https://hoster.example/file/1"></iframe></body></html>`
	assert.Equal(t, "https://hoster.example/file/1", frameSource(page))
	assert.Equal(t, "", frameSource("<html><body>nothing</body></html>"))
}

func TestExtractDLCURLs(t *testing.T) {
	u1 := base64.StdEncoding.EncodeToString([]byte("https://hoster.example/file/1"))
	u2 := base64.StdEncoding.EncodeToString([]byte("https://hoster.example/file/2"))
	xmlBody := `<dlc><content><package><file><url>` + u1 + `</url></file>` +
		`<file><url>` + u2 + `</url></file></package></content></dlc>`

	urls, err := extractDLCURLs([]byte(xmlBody))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://hoster.example/file/1", "https://hoster.example/file/2"}, urls)
}

func TestExtractDLCURLsRejectsEmpty(t *testing.T) {
	_, err := extractDLCURLs([]byte(`<dlc><content></content></dlc>`))
	assert.ErrorIs(t, err, ErrInvalidDLC)
}

func TestHostMatchesAny(t *testing.T) {
	assert.True(t, hostMatchesAny("https://rg.rapidgator.net/file/1", []string{"rapidgator"}))
	assert.False(t, hostMatchesAny("https://other.example/file/1", []string{"rapidgator"}))
	assert.False(t, hostMatchesAny("::bad::", []string{"rapidgator"}))
}
