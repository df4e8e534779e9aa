package capture

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

// Artifact is the finalized encoded audio of one utterance.
type Artifact struct {
	MIMEType string
	Data     []byte
	Duration time.Duration
}

// DataURI renders the artifact as data:<mime>;base64,<payload>.
func (a *Artifact) DataURI() string {
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(a.MIMEType) + base64.StdEncoding.EncodedLen(len(a.Data)))
	b.WriteString("data:")
	b.WriteString(a.MIMEType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(a.Data))
	return b.String()
}

var errBadDataURI = errors.New("invalid base64 data uri")

// ParseDataURI splits a base64 data URI into its MIME type and payload.
func ParseDataURI(uri string) (mimeType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, errBadDataURI
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errBadDataURI
	}
	mimeType, ok = strings.CutSuffix(header, ";base64")
	if !ok || mimeType == "" {
		return "", nil, errBadDataURI
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, errors.Join(errBadDataURI, err)
	}
	return mimeType, data, nil
}
