package payload

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"

	"quasarr/models"
)

// nzbEnvelope is the single-file NZB document served under /download/ and
// parsed back on SABnzbd addfile uploads. The whole intent rides as attributes
// on one <file/> element.
type nzbEnvelope struct {
	XMLName xml.Name `xml:"nzb"`
	File    nzbFile  `xml:"file"`
}

type nzbFile struct {
	Title     string `xml:"title,attr"`
	URL       string `xml:"url,attr"`
	SizeMB    string `xml:"size_mb,attr"`
	Password  string `xml:"password,attr,omitempty"`
	IMDBID    string `xml:"imdb_id,attr,omitempty"`
	SourceKey string `xml:"source_key,attr"`
	ReleaseID string `xml:"release_id,attr,omitempty"`
}

// BuildNZB renders the emulated NZB document for an intent.
func BuildNZB(intent models.DownloadIntent) ([]byte, error) {
	env := nzbEnvelope{File: nzbFile{
		Title:     intent.Title,
		URL:       intent.URL,
		SizeMB:    strconv.FormatInt(intent.SizeMB, 10),
		Password:  intent.Password,
		IMDBID:    intent.IMDBID,
		SourceKey: models.NormalizeSourceKey(intent.SourceKey),
		ReleaseID: intent.ReleaseID,
	}}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("encode nzb: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// ParseNZB strictly decodes an uploaded envelope back into an intent. XML
// entity decoding applies to the attributes, which covers titles containing
// ampersands and the like.
func ParseNZB(data []byte, known SourceChecker) (models.DownloadIntent, error) {
	var env nzbEnvelope
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true
	if err := dec.Decode(&env); err != nil {
		return models.DownloadIntent{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if env.File.Title == "" || env.File.URL == "" {
		return models.DownloadIntent{}, fmt.Errorf("%w: missing title or url", ErrMalformedToken)
	}

	sizeMB, err := strconv.ParseInt(env.File.SizeMB, 10, 64)
	if err != nil {
		return models.DownloadIntent{}, fmt.Errorf("%w: size_mb %q", ErrMalformedToken, env.File.SizeMB)
	}

	sourceKey := models.NormalizeSourceKey(env.File.SourceKey)
	if known != nil && !known(sourceKey) {
		return models.DownloadIntent{}, fmt.Errorf("%w: %q", ErrUnknownSource, sourceKey)
	}

	return models.DownloadIntent{
		Title:     env.File.Title,
		URL:       env.File.URL,
		SizeMB:    sizeMB,
		Password:  env.File.Password,
		IMDBID:    env.File.IMDBID,
		SourceKey: sourceKey,
		ReleaseID: env.File.ReleaseID,
	}, nil
}
