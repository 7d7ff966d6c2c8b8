// Package moostache implements a logic-less mustache-style template
// engine. Templates compile to a flat fragment list plus a parallel
// section-skip table, and render against a JSON-shaped data tree with
// scope-chained variable lookup, section expansion, and partials
// supplied by a Loader.
package moostache

import (
	"bytes"
	"io"
	"os"
	"strconv"
)

// A fragmentKind represents the specific action a compiled fragment
// performs during rendering.
type fragmentKind uint8

const (
	fragLiteral fragmentKind = iota
	fragEscapedVariable
	fragUnescapedVariable
	fragSection
	fragInvertedSection
	fragPartial
)

// fragment is one unit of compiled template output. text is a sub-slice
// of the owning Template's source: literal bytes for fragLiteral, a
// dotted variable path for variable and section fragments, and a file
// path for fragPartial.
type fragment struct {
	kind fragmentKind
	text string
}

// sectionSkip records, for the section fragment it is paired with, how
// many of the following fragments belong to the section body and how
// many of those are themselves sections. Sections carry no end marker
// in the fragment list; the skip table encodes their extent.
type sectionSkip struct {
	nestedFragments uint16
	nestedSections  uint16
}

// Template represents a compiled moostache template which can be
// rendered any number of times against different data. A Template is
// immutable after parsing and may be shared across goroutines.
type Template struct {
	source    string
	fragments []fragment
	skips     []sectionSkip
}

// ParseString compiles a template from source text. The resulting
// Template can be used to efficiently render the template multiple
// times with different data.
func ParseString(source string) (*Template, error) {
	return parse(source)
}

// ParseFile loads template source from a file and compiles it.
func ParseFile(filename string) (*Template, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, ioErr("", err)
	}
	return parse(string(data))
}

// FRender renders the template to out against value, a JSON-shaped data
// tree as produced by encoding/json: nil, bool, float64, string, []any
// or map[string]any. Partial tags are satisfied by loader; a nil loader
// fails every partial lookup with ErrTemplateNotFound.
func (tmpl *Template) FRender(out io.Writer, loader Loader, value any) error {
	scopes := make([]any, 1, 8)
	scopes[0] = value
	return render(tmpl.fragments, tmpl.skips, loader, &scopes, out)
}

// Render renders the template against value and returns the output.
func (tmpl *Template) Render(loader Loader, value any) (string, error) {
	var buf bytes.Buffer
	err := tmpl.FRender(&buf, loader, value)
	return buf.String(), err
}

// FRenderSerializable converts data to the JSON-shaped value tree via
// encoding/json and renders the template to out. Use this for structs
// and other native values that are not already in tree form.
func (tmpl *Template) FRenderSerializable(out io.Writer, loader Loader, data any) error {
	value, err := toValue(data)
	if err != nil {
		return err
	}
	return tmpl.FRender(out, loader, value)
}

// RenderSerializable converts data to the JSON-shaped value tree and
// returns the rendered output.
func (tmpl *Template) RenderSerializable(loader Loader, data any) (string, error) {
	var buf bytes.Buffer
	err := tmpl.FRenderSerializable(&buf, loader, data)
	return buf.String(), err
}

// A TagType represents the specific type of moostache tag that a Tag
// represents. The zero TagType is not a valid type.
type TagType uint

// Defines representing the possible Tag types.
const (
	Invalid TagType = iota
	Variable
	Section
	InvertedSection
	Partial
)

func (t TagType) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return "type" + strconv.Itoa(int(t))
}

var tagNames = []string{
	Invalid:         "Invalid",
	Variable:        "Variable",
	Section:         "Section",
	InvertedSection: "InvertedSection",
	Partial:         "Partial",
}

// Tag represents the different moostache tag types.
//
// Not all methods apply to all kinds of tags. Use the Type method to
// find out the type of tag before calling type-specific methods.
// Calling a method inappropriate to the type of tag causes a run time
// panic.
type Tag interface {
	// Type returns the type of the tag.
	Type() TagType
	// Name returns the name of the tag.
	Name() string
	// Tags returns any child tags. It panics for tag types which cannot
	// contain child tags (i.e. variable tags).
	Tags() []Tag
}

type varTag struct {
	name string
	raw  bool
}

func (t *varTag) Type() TagType {
	return Variable
}

func (t *varTag) Name() string {
	return t.name
}

func (t *varTag) Tags() []Tag {
	panic("moostache: Tags on Variable type")
}

// sectionTag carries the sub-ranges of the fragment list and skip table
// spanned by the section body, so child tags are materialized lazily.
type sectionTag struct {
	name     string
	inverted bool
	frags    []fragment
	skips    []sectionSkip
}

func (t *sectionTag) Type() TagType {
	if t.inverted {
		return InvertedSection
	}
	return Section
}

func (t *sectionTag) Name() string {
	return t.name
}

func (t *sectionTag) Tags() []Tag {
	return extractTags(t.frags, t.skips)
}

type partialTag struct {
	name string
}

func (t *partialTag) Type() TagType {
	return Partial
}

func (t *partialTag) Name() string {
	return t.name
}

func (t *partialTag) Tags() []Tag {
	return nil
}

// Tags returns the moostache tags for the given template, with section
// nesting reconstructed from the skip table.
func (tmpl *Template) Tags() []Tag {
	return extractTags(tmpl.fragments, tmpl.skips)
}

func extractTags(frags []fragment, skips []sectionSkip) []Tag {
	var tags []Tag
	fragIdx := 0
	sectionIdx := 0
	for fragIdx < len(frags) {
		frag := frags[fragIdx]
		switch frag.kind {
		case fragEscapedVariable:
			tags = append(tags, &varTag{name: frag.text})
			fragIdx++
		case fragUnescapedVariable:
			tags = append(tags, &varTag{name: frag.text, raw: true})
			fragIdx++
		case fragSection, fragInvertedSection:
			skip := skips[sectionIdx]
			startFrag := fragIdx + 1
			endFrag := startFrag + int(skip.nestedFragments)
			startSection := sectionIdx + 1
			endSection := startSection + int(skip.nestedSections)
			tags = append(tags, &sectionTag{
				name:     frag.text,
				inverted: frag.kind == fragInvertedSection,
				frags:    frags[startFrag:endFrag],
				skips:    skips[startSection:endSection],
			})
			fragIdx = endFrag
			sectionIdx = endSection
		case fragPartial:
			tags = append(tags, &partialTag{name: frag.text})
			fragIdx++
		default:
			fragIdx++
		}
	}
	return tags
}
