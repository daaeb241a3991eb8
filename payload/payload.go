// Package payload implements the opaque token that carries a download intent
// from the indexer facade to the download-client facade, plus the emulated
// NZB envelope the *arr clients upload back.
package payload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"quasarr/models"
)

// Separator joins the tuple fields inside the token. Fields containing it are
// rejected at encode time.
const Separator = "|"

const fieldCount = 7

var (
	ErrSeparatorInField = errors.New("payload field contains separator")
	ErrMalformedToken   = errors.New("malformed payload token")
	ErrUnknownSource    = errors.New("unknown source key")
)

// SourceChecker reports whether a source shortname belongs to a registered
// site adapter. Decoding rejects intents for unknown sources.
type SourceChecker func(key string) bool

// Encode serializes an intent into a URL-safe unpadded base64 token.
func Encode(intent models.DownloadIntent) (string, error) {
	fields := []string{
		intent.Title,
		intent.URL,
		strconv.FormatInt(intent.SizeMB, 10),
		intent.Password,
		intent.IMDBID,
		models.NormalizeSourceKey(intent.SourceKey),
		intent.ReleaseID,
	}
	for _, f := range fields {
		if strings.Contains(f, Separator) {
			return "", fmt.Errorf("%w: %q", ErrSeparatorInField, f)
		}
	}
	joined := strings.Join(fields, Separator)
	return base64.RawURLEncoding.EncodeToString([]byte(joined)), nil
}

// Decode is strict: wrong field count, malformed size, or an unknown source
// key all fail so the facade can answer with an invalid-request error.
func Decode(token string, known SourceChecker) (models.DownloadIntent, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return models.DownloadIntent{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	fields := strings.Split(string(raw), Separator)
	if len(fields) != fieldCount {
		return models.DownloadIntent{}, fmt.Errorf("%w: got %d fields", ErrMalformedToken, len(fields))
	}

	sizeMB, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return models.DownloadIntent{}, fmt.Errorf("%w: size %q", ErrMalformedToken, fields[2])
	}

	sourceKey := models.NormalizeSourceKey(fields[5])
	if known != nil && !known(sourceKey) {
		return models.DownloadIntent{}, fmt.Errorf("%w: %q", ErrUnknownSource, sourceKey)
	}

	return models.DownloadIntent{
		Title:     fields[0],
		URL:       fields[1],
		SizeMB:    sizeMB,
		Password:  fields[3],
		IMDBID:    fields[4],
		SourceKey: sourceKey,
		ReleaseID: fields[6],
	}, nil
}

// ExtractToken pulls the payload parameter out of a self-URL as handed to the
// SABnzbd addurl mode.
func ExtractToken(rawURL string) (string, error) {
	idx := strings.Index(rawURL, "payload=")
	if idx < 0 {
		return "", fmt.Errorf("%w: no payload parameter", ErrMalformedToken)
	}
	token := rawURL[idx+len("payload="):]
	if amp := strings.IndexByte(token, '&'); amp >= 0 {
		token = token[:amp]
	}
	if token == "" {
		return "", fmt.Errorf("%w: empty payload parameter", ErrMalformedToken)
	}
	return token, nil
}
