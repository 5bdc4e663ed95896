package mail

import (
	"encoding/base64"
	"mime"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/scholarstream/mailrelay/internal/models"
)

// DecodeBody extracts the message body from a provider payload tree,
// preferring an HTML part, then a plain-text part, then the payload's own
// body. Decoding never fails: a malformed body yields an empty string.
func DecodeBody(payload *models.MessagePart) string {
	if payload == nil {
		return ""
	}
	if len(payload.Parts) > 0 {
		if part := findPart(payload.Parts, "text/html"); part != nil {
			return decodePartBody(part)
		}
		if part := findPart(payload.Parts, "text/plain"); part != nil {
			return decodePartBody(part)
		}
		return ""
	}
	return decodePartBody(payload)
}

func findPart(parts []*models.MessagePart, mimeType string) *models.MessagePart {
	for _, part := range parts {
		if part == nil {
			continue
		}
		if strings.EqualFold(part.MimeType, mimeType) {
			return part
		}
		if strings.HasPrefix(strings.ToLower(part.MimeType), "multipart/") {
			if nested := findPart(part.Parts, mimeType); nested != nil {
				return nested
			}
		}
	}
	return nil
}

func decodePartBody(part *models.MessagePart) string {
	if part.Body.Data == "" {
		return ""
	}
	raw, err := decodeBase64(part.Body.Data)
	if err != nil {
		return ""
	}
	return decodeText(raw, charsetFromContentType(part.Header("Content-Type")))
}

// decodeBase64 accepts both the standard and URL-safe alphabets and
// restores stripped padding before decoding.
func decodeBase64(data string) ([]byte, error) {
	normalized := strings.NewReplacer("-", "+", "_", "/").Replace(data)
	if rem := len(normalized) % 4; rem != 0 {
		normalized += strings.Repeat("=", 4-rem)
	}
	return base64.StdEncoding.DecodeString(normalized)
}

func charsetFromContentType(contentType string) encoding.Encoding {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return nil
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil
	}
	return resolveCharset(params["charset"])
}

// resolveCharset maps a declared character set to its decoder. A nil
// return means UTF-8, which is also the fallback for anything
// unrecognized or absent.
func resolveCharset(name string) encoding.Encoding {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ISO-8859-1", "ISO8859-1", "LATIN1", "LATIN-1":
		return charmap.ISO8859_1
	case "WINDOWS-1252", "CP1252":
		return charmap.Windows1252
	default:
		return nil
	}
}

func decodeText(raw []byte, enc encoding.Encoding) string {
	if enc == nil {
		return string(raw)
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		// Retry as UTF-8 rather than propagating.
		return string(raw)
	}
	return string(decoded)
}

var encodedWordRe = regexp.MustCompile(`=\?([^?]+)\?([BbQq])\?([^?]*)\?=`)

// DecodeHeader decodes RFC 2047 encoded-words (=?charset?B|Q?data?=) in a
// header value. Headers without the pattern are returned verbatim.
func DecodeHeader(raw string) string {
	if !strings.Contains(raw, "=?") {
		return raw
	}
	return encodedWordRe.ReplaceAllStringFunc(raw, func(word string) string {
		groups := encodedWordRe.FindStringSubmatch(word)
		if groups == nil {
			return word
		}
		charset, scheme, data := groups[1], groups[2], groups[3]

		switch strings.ToUpper(scheme) {
		case "B":
			decoded, err := decodeBase64(data)
			if err != nil {
				return word
			}
			return decodeText(decoded, resolveCharset(charset))
		case "Q":
			return decodeText(decodeQEncoding(data), resolveCharset(charset))
		}
		return word
	})
}

// decodeQEncoding replaces =XX hex escapes with the corresponding byte and
// underscores with spaces.
func decodeQEncoding(data string) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		c := data[i]
		switch {
		case c == '_':
			out = append(out, ' ')
		case c == '=' && i+3 <= len(data):
			b, err := strconv.ParseUint(data[i+1:i+3], 16, 8)
			if err != nil {
				out = append(out, c)
				continue
			}
			out = append(out, byte(b))
			i += 2
		default:
			out = append(out, c)
		}
	}
	return out
}
