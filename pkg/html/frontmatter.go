package html

import (
	"bytes"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

var fmDelimiter = []byte("---")

// splitFrontMatter separates a leading YAML block delimited by --- lines from the page body
func splitFrontMatter(content []byte) (map[string]interface{}, []byte, error) {
	meta := map[string]interface{}{}
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))

	if !bytes.HasPrefix(content, fmDelimiter) {
		return meta, content, nil
	}

	rest := content[len(fmDelimiter):]
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 || len(bytes.TrimSpace(rest[:nl])) > 0 {
		// "---something" on the first line isn't front matter
		return meta, content, nil
	}
	rest = rest[nl+1:]

	var header []byte
	var body []byte
	found := false
	for offset := 0; offset <= len(rest); {
		end := bytes.IndexByte(rest[offset:], '\n')
		var line []byte
		next := len(rest) + 1
		if end < 0 {
			line = rest[offset:]
		} else {
			line = rest[offset : offset+end]
			next = offset + end + 1
		}

		if bytes.Equal(bytes.TrimRight(line, " \t\r"), fmDelimiter) {
			header = rest[:offset]
			if next <= len(rest) {
				body = rest[next:]
			}
			found = true
			break
		}

		offset = next
	}

	if !found {
		return nil, nil, eris.New("front matter is not terminated by ---")
	}

	if len(bytes.TrimSpace(header)) > 0 {
		err := yaml.Unmarshal(header, &meta)
		if err != nil {
			return nil, nil, eris.Wrap(err, "failed to parse front matter")
		}
	}

	return meta, body, nil
}
