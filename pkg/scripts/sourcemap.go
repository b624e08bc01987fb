package scripts

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"github.com/rotisserie/eris"
)

type mapOffset struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type mapSection struct {
	Offset mapOffset       `json:"offset"`
	Map    json.RawMessage `json:"map"`
}

// indexMap is a source map made of independent sections, one per concatenated file
type indexMap struct {
	Version  int          `json:"version"`
	File     string       `json:"file"`
	Sections []mapSection `json:"sections"`
}

// bundle concatenates the transpiled files and tracks where each one starts
type bundle struct {
	buf      bytes.Buffer
	sections []mapSection
}

func (b *bundle) add(code, sourceMap []byte) {
	if b.buf.Len() > 0 {
		b.buf.WriteString(separator)
	}

	if len(sourceMap) > 0 {
		data := b.buf.Bytes()
		line := bytes.Count(data, []byte("\n"))
		column := len(data) - bytes.LastIndexByte(data, '\n') - 1

		b.sections = append(b.sections, mapSection{
			Offset: mapOffset{Line: line, Column: column},
			Map:    json.RawMessage(sourceMap),
		})
	}

	b.buf.Write(code)
}

func (b *bundle) sourceMap(file string) ([]byte, error) {
	sections := b.sections
	if sections == nil {
		sections = []mapSection{}
	}

	data, err := json.Marshal(indexMap{
		Version:  3,
		File:     file,
		Sections: sections,
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode source map")
	}

	return data, nil
}

func inlineMapComment(sourceMap []byte) []byte {
	return []byte("\n//# sourceMappingURL=data:application/json;base64," + base64.StdEncoding.EncodeToString(sourceMap) + "\n")
}
