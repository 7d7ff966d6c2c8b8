package moostache

import (
	"bytes"
	"encoding/json"
	"io"
)

// render walks the fragment list with two cursors, one into the
// fragments and one into the skip table. Sections recurse over the
// contiguous sub-ranges the skip table describes; falsy sections are
// skipped with the same arithmetic.
func render(frags []fragment, skips []sectionSkip, loader Loader, scopes *[]any, w io.Writer) error {
	fragIdx := 0
	sectionIdx := 0
	for fragIdx < len(frags) {
		frag := frags[fragIdx]
		switch frag.kind {
		case fragLiteral:
			if _, err := io.WriteString(w, frag.text); err != nil {
				return ioErr("", err)
			}
			fragIdx++
		case fragEscapedVariable:
			value := resolve(frag.text, *scopes)
			if err := writeValue(&htmlEscapeWriter{w: w}, value); err != nil {
				return err
			}
			fragIdx++
		case fragUnescapedVariable:
			value := resolve(frag.text, *scopes)
			if err := writeValue(w, value); err != nil {
				return err
			}
			fragIdx++
		case fragSection, fragInvertedSection:
			skip := skips[sectionIdx]
			startFrag := fragIdx + 1
			endFrag := startFrag + int(skip.nestedFragments)
			startSection := sectionIdx + 1
			endSection := startSection + int(skip.nestedSections)
			subFrags := frags[startFrag:endFrag]
			subSkips := skips[startSection:endSection]

			value := resolve(frag.text, *scopes)
			truthy := isTruthy(value)
			if frag.kind == fragSection && truthy {
				if array, ok := value.([]any); ok {
					for _, element := range array {
						*scopes = append(*scopes, element)
						err := render(subFrags, subSkips, loader, scopes, w)
						*scopes = (*scopes)[:len(*scopes)-1]
						if err != nil {
							return err
						}
					}
				} else {
					*scopes = append(*scopes, value)
					err := render(subFrags, subSkips, loader, scopes, w)
					*scopes = (*scopes)[:len(*scopes)-1]
					if err != nil {
						return err
					}
				}
			} else if frag.kind == fragInvertedSection && !truthy {
				*scopes = append(*scopes, value)
				err := render(subFrags, subSkips, loader, scopes, w)
				*scopes = (*scopes)[:len(*scopes)-1]
				if err != nil {
					return err
				}
			}
			fragIdx = endFrag
			sectionIdx = endSection
		case fragPartial:
			if loader == nil {
				return &Error{Kind: ErrTemplateNotFound, Name: frag.text}
			}
			partial, err := loader.Get(frag.text)
			if err != nil {
				return err
			}
			if err := render(partial.fragments, partial.skips, loader, scopes, w); err != nil {
				return err
			}
			fragIdx++
		}
	}
	return nil
}

// writeValue serializes a resolved value as plain text: nulls render
// empty, strings render raw, and everything else renders as JSON
// without the encoder's HTML escaping.
func writeValue(w io.Writer, value any) error {
	switch v := value.(type) {
	case nil:
	case string:
		if _, err := io.WriteString(w, v); err != nil {
			return ioErr("", err)
		}
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(value); err != nil {
			return &Error{Kind: ErrSerialization}
		}
		// the encoder terminates every value with a newline
		out := bytes.TrimRight(buf.Bytes(), "\n")
		if _, err := w.Write(out); err != nil {
			return ioErr("", err)
		}
	}
	return nil
}

// toValue converts a native Go value to the JSON-shaped tree the
// resolver operates on, by round-tripping through encoding/json.
func toValue(data any) (any, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, &Error{Kind: ErrSerialization}
	}
	var value any
	if err := json.Unmarshal(encoded, &value); err != nil {
		return nil, &Error{Kind: ErrSerialization}
	}
	return value, nil
}

// htmlEscapeWriter filters five byte values on write: & < > " ' become
// their HTML entities. UTF-8 multi-byte sequences never contain ASCII
// bytes in non-leading positions, so byte-level filtering is safe.
type htmlEscapeWriter struct {
	w io.Writer
}

func (e *htmlEscapeWriter) Write(buf []byte) (int, error) {
	start := 0
	for i, b := range buf {
		var entity string
		switch b {
		case '&':
			entity = "&amp;"
		case '<':
			entity = "&lt;"
		case '>':
			entity = "&gt;"
		case '"':
			entity = "&quot;"
		case '\'':
			entity = "&#x27;"
		default:
			continue
		}
		if start < i {
			if _, err := e.w.Write(buf[start:i]); err != nil {
				return start, err
			}
		}
		if _, err := io.WriteString(e.w, entity); err != nil {
			return i, err
		}
		start = i + 1
	}
	if start < len(buf) {
		if _, err := e.w.Write(buf[start:]); err != nil {
			return start, err
		}
	}
	return len(buf), nil
}
