package payload

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"quasarr/models"
)

func knownSources(keys ...string) SourceChecker {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return func(key string) bool { return set[key] }
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	intent := models.DownloadIntent{
		Title:     "Some.Movie.2024.German.2160p.WEB.x265-GROUP",
		URL:       "https://example.org/release/1234",
		SizeMB:    40000,
		Password:  "quasarr",
		IMDBID:    "tt1375666",
		SourceKey: "wd",
		ReleaseID: "998",
	}

	token, err := Encode(intent)
	require.NoError(t, err)
	require.NotContains(t, token, "=", "token must be unpadded")

	decoded, err := Decode(token, knownSources("wd"))
	require.NoError(t, err)
	require.Equal(t, intent, decoded)
}

func TestEncodeRejectsSeparatorInField(t *testing.T) {
	_, err := Encode(models.DownloadIntent{Title: "bad|title", URL: "https://x", SourceKey: "wd"})
	require.ErrorIs(t, err, ErrSeparatorInField)
}

func TestDecodeRejectsUnknownSource(t *testing.T) {
	token, err := Encode(models.DownloadIntent{Title: "t", URL: "u", SourceKey: "zz"})
	require.NoError(t, err)

	_, err = Decode(token, knownSources("wd", "nx"))
	require.ErrorIs(t, err, ErrUnknownSource)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "not-base64!!!", "YWJj"} {
		_, err := Decode(token, knownSources("wd"))
		require.ErrorIs(t, err, ErrMalformedToken, "token %q", token)
	}
}

func TestNZBEnvelopeRoundTrip(t *testing.T) {
	intent := models.DownloadIntent{
		Title:     "Show & Tell S01E03",
		URL:       "https://example.org/r/5",
		SizeMB:    1500,
		IMDBID:    "tt0903747",
		SourceKey: "nx",
	}

	data, err := BuildNZB(intent)
	require.NoError(t, err)
	require.Contains(t, string(data), "&amp;", "title must be XML-escaped")

	parsed, err := ParseNZB(data, knownSources("nx"))
	require.NoError(t, err)
	require.Equal(t, intent, parsed)
}

func TestParseNZBRejectsMissingFields(t *testing.T) {
	_, err := ParseNZB([]byte(`<nzb><file title="" url="" size_mb="1" source_key="nx"/></nzb>`), nil)
	require.ErrorIs(t, err, ErrMalformedToken)
}

func TestExtractToken(t *testing.T) {
	token, err := ExtractToken("http://localhost:8080/download/?payload=YWJjZA&apikey=k")
	require.NoError(t, err)
	require.Equal(t, "YWJjZA", token)

	_, err = ExtractToken("http://localhost:8080/download/")
	require.Error(t, err)
}

func TestTokenIsURLSafe(t *testing.T) {
	intent := models.DownloadIntent{
		Title:     strings.Repeat("ü", 50),
		URL:       "https://example.org/?a=b&c=d",
		SizeMB:    1,
		SourceKey: "dw",
	}
	token, err := Encode(intent)
	require.NoError(t, err)
	require.NotContains(t, token, "+")
	require.NotContains(t, token, "/")
}
