package util

import (
	"encoding/base64"
	"mime"
	"net/http"
	"strings"
)

// NormalizeMIME lower-cases a media type and drops its parameters
// ("Image/JPEG; charset=binary" -> "image/jpeg").
func NormalizeMIME(m string) string {
	m = strings.TrimSpace(m)
	if m == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(m); err == nil {
		m = mt
	} else if semi := strings.IndexByte(m, ';'); semi >= 0 {
		m = m[:semi]
	}
	m = strings.ToLower(strings.TrimSpace(m))
	if m == "image/jpg" || m == "image/pjpeg" {
		return "image/jpeg"
	}
	return m
}

const octetStream = "application/octet-stream"

func MakeDataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64MaybeDataURL decodes base64. For a data: URI the MIME from the prefix is returned too.
func DecodeBase64MaybeDataURL(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var hintMIME string
	if strings.HasPrefix(s, "data:") {
		// data:<mime>;base64,<payload>
		if idx := strings.IndexByte(s, ','); idx > 0 {
			meta := s[len("data:"):idx]
			if semi := strings.IndexByte(meta, ';'); semi >= 0 {
				hintMIME = meta[:semi]
			} else {
				hintMIME = meta
			}
			s = s[idx+1:]
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, hintMIME, nil
	} else if b2, err2 := base64.URLEncoding.DecodeString(s); err2 == nil {
		return b2, hintMIME, nil
	} else {
		return nil, "", err
	}
}

// PickMIME prefers the explicit type, then the data: URI hint, then sniffs
// the bytes. application/octet-stream counts as no type at all.
func PickMIME(explicit, hint string, data []byte) string {
	if exp := NormalizeMIME(explicit); exp != "" && exp != octetStream {
		return exp
	}
	if h := NormalizeMIME(hint); h != "" && h != octetStream {
		return h
	}
	if len(data) > 0 {
		return NormalizeMIME(http.DetectContentType(data))
	}
	return ""
}
