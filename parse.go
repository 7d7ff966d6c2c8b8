package moostache

import "strings"

// openSection tracks a section whose end tag has not been seen yet,
// remembering where in the fragment list and skip table it was opened.
type openSection struct {
	name         string
	sectionIndex int
	fragIndex    int
}

type parser struct {
	src       string
	pos       int
	fragments []fragment
	skips     []sectionSkip
	open      []openSection
}

// parse compiles source into a Template. Fragments hold sub-slices of
// source. Once a tag's opening sigil has been consumed, a malformed tag
// body is a hard error; there is no backtracking out of a tag.
func parse(source string) (*Template, error) {
	if len(source) == 0 {
		return nil, parseErr(ErrNoContent)
	}
	p := &parser{src: source}
	for p.pos < len(p.src) {
		rel := strings.Index(p.src[p.pos:], "{{")
		if rel == -1 {
			p.emit(fragLiteral, p.src[p.pos:])
			p.pos = len(p.src)
			break
		}
		if rel > 0 {
			p.emit(fragLiteral, p.src[p.pos:p.pos+rel])
			p.pos += rel
		}
		if err := p.parseTag(); err != nil {
			return nil, err
		}
	}
	if len(p.open) > 0 {
		return nil, parseErr(ErrUnclosedSectionTags)
	}
	return &Template{
		source:    source,
		fragments: p.fragments,
		skips:     p.skips,
	}, nil
}

// parseTag consumes one tag starting at "{{". The sigil decides the tag
// kind; "{{{" must be checked before the bare "{{".
func (p *parser) parseTag() error {
	rest := p.src[p.pos:]
	switch {
	case strings.HasPrefix(rest, "{{{"):
		p.pos += 3
		path, ok := p.variablePath()
		if !ok || !p.literal("}}}") {
			return parseErr(ErrInvalidUnescapedVariableTag)
		}
		p.emit(fragUnescapedVariable, path)
	case strings.HasPrefix(rest, "{{/"):
		p.pos += 3
		path, ok := p.variablePath()
		if !ok || !p.literal("}}") {
			return parseErr(ErrInvalidSectionEndTag)
		}
		return p.closeSection(path)
	case strings.HasPrefix(rest, "{{#"):
		p.pos += 3
		path, ok := p.variablePath()
		if !ok || !p.literal("}}") {
			return parseErr(ErrInvalidSectionStartTag)
		}
		p.beginSection(fragSection, path)
	case strings.HasPrefix(rest, "{{^"):
		p.pos += 3
		path, ok := p.variablePath()
		if !ok || !p.literal("}}") {
			return parseErr(ErrInvalidInvertedSectionStartTag)
		}
		p.beginSection(fragInvertedSection, path)
	case strings.HasPrefix(rest, "{{!"):
		end := strings.Index(rest, "}}")
		if end == -1 {
			return parseErr(ErrInvalidCommentTag)
		}
		p.pos += end + 2
	case strings.HasPrefix(rest, "{{>"):
		p.pos += 3
		path, ok := p.filePath()
		if !ok || !p.literal("}}") {
			return parseErr(ErrInvalidPartialTag)
		}
		p.emit(fragPartial, path)
	default:
		p.pos += 2
		path, ok := p.variablePath()
		if !ok || !p.literal("}}") {
			return parseErr(ErrInvalidEscapedVariableTag)
		}
		p.emit(fragEscapedVariable, path)
	}
	return nil
}

func (p *parser) emit(kind fragmentKind, text string) {
	p.fragments = append(p.fragments, fragment{kind: kind, text: text})
}

func (p *parser) beginSection(kind fragmentKind, name string) {
	p.open = append(p.open, openSection{
		name:         name,
		sectionIndex: len(p.skips),
		fragIndex:    len(p.fragments),
	})
	p.skips = append(p.skips, sectionSkip{})
	p.emit(kind, name)
}

func (p *parser) closeSection(name string) error {
	if len(p.open) == 0 {
		return parseErr(ErrMismatchedSectionEndTag)
	}
	start := p.open[len(p.open)-1]
	p.open = p.open[:len(p.open)-1]
	if start.name != name {
		return parseErr(ErrMismatchedSectionEndTag)
	}
	nestedSections := len(p.skips) - 1 - start.sectionIndex
	nestedFragments := len(p.fragments) - 1 - start.fragIndex
	if nestedSections > 0xffff || nestedFragments > 0xffff {
		return parseErr(ErrGeneric)
	}
	p.skips[start.sectionIndex] = sectionSkip{
		nestedFragments: uint16(nestedFragments),
		nestedSections:  uint16(nestedSections),
	}
	return nil
}

// literal consumes s if the input continues with it.
func (p *parser) literal(s string) bool {
	if strings.HasPrefix(p.src[p.pos:], s) {
		p.pos += len(s)
		return true
	}
	return false
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\r', '\n':
			p.pos++
		default:
			return
		}
	}
}

func isNameByte(b byte) bool {
	return b >= 'a' && b <= 'z' ||
		b >= 'A' && b <= 'Z' ||
		b >= '0' && b <= '9' ||
		b == '_' || b == '-'
}

// nameRun consumes a maximal run of variable-name bytes and reports how
// many were consumed.
func (p *parser) nameRun() int {
	start := p.pos
	for p.pos < len(p.src) && isNameByte(p.src[p.pos]) {
		p.pos++
	}
	return p.pos - start
}

// variablePath parses whitespace, then NAME('.'NAME)* or a single ".",
// then whitespace. The returned slice excludes the surrounding
// whitespace.
func (p *parser) variablePath() (string, bool) {
	p.skipSpace()
	start := p.pos
	if p.pos < len(p.src) && p.src[p.pos] == '.' {
		p.pos++
	} else {
		for {
			if p.nameRun() == 0 {
				return "", false
			}
			// consume the separating dot only when another name follows
			if p.pos+1 < len(p.src) && p.src[p.pos] == '.' && isNameByte(p.src[p.pos+1]) {
				p.pos++
				continue
			}
			break
		}
	}
	path := p.src[start:p.pos]
	p.skipSpace()
	return path, true
}

var fileNameBytes = func() ['~' + 1]bool {
	var set ['~' + 1]bool
	for b := byte('0'); b <= '9'; b++ {
		set[b] = true
	}
	for b := byte('a'); b <= 'z'; b++ {
		set[b] = true
	}
	for b := byte('A'); b <= 'Z'; b++ {
		set[b] = true
	}
	for _, b := range []byte("_-.,!@#$%^&()+=[]~") {
		set[b] = true
	}
	return set
}()

func isFileNameByte(b byte) bool {
	return int(b) < len(fileNameBytes) && fileNameBytes[b]
}

func (p *parser) fileNameRun() int {
	start := p.pos
	for p.pos < len(p.src) && isFileNameByte(p.src[p.pos]) {
		p.pos++
	}
	return p.pos - start
}

// filePath parses whitespace, FILENAME('/'FILENAME)*, whitespace.
func (p *parser) filePath() (string, bool) {
	p.skipSpace()
	start := p.pos
	for {
		if p.fileNameRun() == 0 {
			return "", false
		}
		if p.pos+1 < len(p.src) && p.src[p.pos] == '/' && isFileNameByte(p.src[p.pos+1]) {
			p.pos++
			continue
		}
		break
	}
	path := p.src[start:p.pos]
	p.skipSpace()
	return path, true
}
