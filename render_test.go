package moostache

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func jsonValue(t *testing.T, src string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(src), &v); err != nil {
		t.Fatalf("bad test data %q: %s", src, err)
	}
	return v
}

type renderTest struct {
	tmpl     string
	data     string // JSON
	expected string
}

var renderTests = []renderTest{
	// literals and variables
	{`hello world`, `null`, "hello world"},
	{`hello {{name}}!`, `{"name":"John"}`, "hello John!"},
	{`hello {{  name  }}!`, `{"name":"John"}`, "hello John!"},
	{`{{a}}{{b}}{{c}}{{d}}`, `{"a":"a","b":"b","c":"c","d":"d"}`, "abcd"},
	{`0{{a}}1{{b}}23{{c}}456{{d}}89`, `{"a":"a","b":"b","c":"c","d":"d"}`, "0a1b23c456d89"},
	{`hello {{! comment }}world`, `{}`, "hello world"},

	// escaping
	{`{{var}}`, `{"var":"5 > 2"}`, "5 &gt; 2"},
	{`{{{var}}}`, `{"var":"5 > 2"}`, "5 > 2"},
	{`{{var}}`, `{"var":"&<>\"'"}`, "&amp;&lt;&gt;&quot;&#x27;"},
	{`{{{var}}}`, `{"var":"&<>\"'"}`, "&<>\"'"},
	{`hello {{ name.last }}!`, `{"name":{"first":"mister","last":"&<>\"'"}}`, "hello &amp;&lt;&gt;&quot;&#x27;!"},

	// value writing for each kind
	{`hello {{ . }}!`, `null`, "hello !"},
	{`hello {{ . }}!`, `"world"`, "hello world!"},
	{`hello {{ . }}!`, `123`, "hello 123!"},
	{`hello {{ . }}!`, `123.5`, "hello 123.5!"},
	{`hello {{ . }}!`, `true`, "hello true!"},
	{`hello {{ . }}!`, `{"some":"field"}`, "hello {&quot;some&quot;:&quot;field&quot;}!"},
	{`hello {{ . }}!`, `[1,"string",null]`, "hello [1,&quot;string&quot;,null]!"},
	{`hello {{{ . }}}!`, `{"some":"field"}`, `hello {"some":"field"}!`},
	{`hello {{{ . }}}!`, `[1,"string",null]`, `hello [1,"string",null]!`},
	{`hello {{{ . }}}!`, `123.5`, "hello 123.5!"},

	// dotted paths and array indexing
	{`hello {{ 1.1 }}!`, `["john",["moon","world"],"chris"]`, "hello world!"},
	{`hello {{{ 1.1 }}}!`, `["john",["moon","world"],"chris"]`, "hello world!"},
	{`{{ a.b.c.d.e.name }}`, `{"a":{"b":{"c":{"d":{"e":{"name":"Phil"}}}}}}`, "Phil"},
	{`x{{ xs.5 }}y`, `{"xs":[1,2]}`, "xy"},
	{`{{ 1.a.0.b }}`, `[0,{"a":[{"b":7}]}]`, "7"},

	// sections over scalars, objects and arrays
	{`{{#A}}{{B}}{{/A}}`, `{"A":true,"B":"hello"}`, "hello"},
	{`{{#A}}{{B}}{{/A}}`, `{"A":false,"B":"hello"}`, ""},
	{`{{# . }}lol{{/ . }}`, `""`, ""},
	{`{{# . }}lol{{/ . }}`, `0`, ""},
	{`{{# . }}lol{{/ . }}`, `0.0`, ""},
	{`{{# . }}lol{{/ . }}`, `-0`, ""},
	{`{{# . }}lol{{/ . }}`, `0e10`, ""},
	{`{{# . }}lol{{/ . }}`, `false`, ""},
	{`{{# . }}lol{{/ . }}`, `null`, ""},
	{`{{# . }}lol{{/ . }}`, `[]`, ""},
	{`{{# . }}lol{{/ . }}`, `{}`, ""},
	{`{{#x}}{{.}}{{/x}}`, `{"x":"hi"}`, "hi"},
	{`{{#x}}{{.}}{{/x}}`, `{"x":5}`, "5"},
	{`{{#person}}{{name}}{{/person}}`, `{"person":{"name":"Joe"}}`, "Joe"},
	{`"{{person.name}}" == "{{#person}}{{name}}{{/person}}"`, `{"person":{"name":"Joe"}}`, `"Joe" == "Joe"`},
	{`{{#list}}({{.}}){{/list}}`, `{"list":["a","b","c","d","e"]}`, "(a)(b)(c)(d)(e)"},
	{`{{#list}}({{.}}){{/list}}`, `{"list":[1,2,3,4,5]}`, "(1)(2)(3)(4)(5)"},
	{`{{#list}}{{.}}{{/list}}`, `{"list":[1,"a",true]}`, "1atrue"},
	{`{{# . }}{{ . }}{{/ . }}`, `["&","<",">","\"","'"]`, "&amp;&lt;&gt;&quot;&#x27;"},
	{`{{#users}}gone{{name}}{{/users}}`, `{"users":null}`, ""},
	{`{{#users}}gone{{name}}{{/users}}`, `{"users":[]}`, ""},

	// inverted sections
	{`{{a}}{{^b}}b{{/b}}{{c}}`, `{"a":"a","b":false,"c":"c"}`, "abc"},
	{`{{^a}}b{{/a}}`, `{"a":false}`, "b"},
	{`{{^a}}b{{/a}}`, `{"a":null}`, "b"},
	{`{{^a}}b{{/a}}`, `{"a":0}`, "b"},
	{`{{^a}}b{{/a}}`, `{"a":""}`, "b"},
	{`{{^a}}b{{/a}}`, `{"a":[]}`, "b"},
	{`{{^a}}b{{/a}}`, `{"a":{}}`, "b"},
	{`{{^a}}b{{/a}}`, `{"a":true}`, ""},
	{`{{^a}}b{{/a}}`, `{"a":"nonempty"}`, ""},
	{`{{^a}}b{{/a}}`, `{"a":[1]}`, ""},

	// scope chaining
	{`hello {{#section}}{{name}}{{/section}}`, `{"section":{"name":"world"}}`, "hello world"},
	{`hello {{#section}}{{name}}{{/section}}`, `{"name":"bob","section":{"name":"world"}}`, "hello world"},
	{`hello {{#bool}}{{#section}}{{name}}{{/section}}{{/bool}}`, `{"bool":true,"section":{"name":"world"}}`, "hello world"},
	{`{{#users}}{{canvas}}{{/users}}`, `{"canvas":"hello","users":[{"name":"Mike"}]}`, "hello"},
	{`{{#a}}{{b.c}}{{/a}}`, `{"a":{"b":{}},"b":{"c":"ERROR"}}`, ""},
	{
		`{{ blogTitle }}, posts: {{# posts }}{{ postTitle }} by {{ author }}, {{/ posts}}`,
		`{"blogTitle":"blog title","author":"chris","posts":[{"postTitle":"post 1"},{"postTitle":"post 2"}]}`,
		"blog title, posts: post 1 by chris, post 2 by chris, ",
	},

	// skipping falsy sections leaves surrounding output intact
	{`a{{#s}}b{{x}}{{#t}}c{{/t}}{{/s}}d`, `{}`, "ad"},
	{`a{{#s}}b{{#t}}c{{/t}}e{{/s}}d`, `{"s":true,"t":false}`, "abed"},
}

func TestRender(t *testing.T) {
	for _, test := range renderTests {
		tmpl, err := ParseString(test.tmpl)
		if err != nil {
			t.Errorf("%q unexpected parse error: %s", test.tmpl, err)
			continue
		}
		output, err := tmpl.Render(nil, jsonValue(t, test.data))
		if err != nil {
			t.Errorf("%q expected %q but got error %q", test.tmpl, test.expected, err)
		} else if output != test.expected {
			t.Errorf("%q with %s expected %q got %q", test.tmpl, test.data, test.expected, output)
		}
	}
}

// Rendering {{ x }} must equal rendering {{{ x }}} with the five
// escaped characters replaced by their entities.
func TestEscapingEquivalence(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		"&<>\"'",
		"a&b<c>d\"e'f",
		"🦀 & friends",
		"&&&&",
	}
	escaped, err := ParseString(`{{ x }}`)
	if err != nil {
		t.Fatal(err)
	}
	unescaped, err := ParseString(`{{{ x }}}`)
	if err != nil {
		t.Fatal(err)
	}
	replacements := map[byte]string{
		'&':  "&amp;",
		'<':  "&lt;",
		'>':  "&gt;",
		'"':  "&quot;",
		'\'': "&#x27;",
	}
	for _, input := range inputs {
		data := map[string]any{"x": input}
		got, err := escaped.Render(nil, data)
		if err != nil {
			t.Fatal(err)
		}
		var manual []byte
		for i := 0; i < len(input); i++ {
			if entity, ok := replacements[input[i]]; ok {
				manual = append(manual, entity...)
			} else {
				manual = append(manual, input[i])
			}
		}
		raw, err := unescaped.Render(nil, map[string]any{"x": string(manual)})
		if err != nil {
			t.Fatal(err)
		}
		if got != raw {
			t.Errorf("%q: escaped render %q != manually escaped raw render %q", input, got, raw)
		}
	}
}

func TestRenderSerializable(t *testing.T) {
	type person struct {
		Name string `json:"name"`
	}
	tmpl, err := ParseString(`hello {{ name }}!`)
	if err != nil {
		t.Fatal(err)
	}
	output, err := tmpl.RenderSerializable(nil, person{Name: "homer"})
	if err != nil {
		t.Fatal(err)
	}
	if output != "hello homer!" {
		t.Fatalf("expected %q got %q", "hello homer!", output)
	}
}

func TestRenderSerializableError(t *testing.T) {
	tmpl, err := ParseString(`{{ x }}`)
	if err != nil {
		t.Fatal(err)
	}
	_, err = tmpl.RenderSerializable(nil, map[string]any{"x": make(chan int)})
	var e *Error
	if !errors.As(err, &e) || e.Kind != ErrSerialization {
		t.Fatalf("expected serialization error, got %v", err)
	}
}

func TestRenderPartials(t *testing.T) {
	loader, err := NewHashMapLoader(map[string]string{
		"partial":        "hello world",
		"nested/partial": "{{>partial}} again",
		"greet":          "hi {{ name }}",
	})
	if err != nil {
		t.Fatal(err)
	}
	tests := []renderTest{
		{`{{>partial}}!`, `null`, "hello world!"},
		{`{{>  partial  }}!`, `null`, "hello world!"},
		{`{{>nested/partial}}!`, `null`, "hello world again!"},
		{`{{#people}}{{>greet}}; {{/people}}`, `{"people":[{"name":"ann"},{"name":"bob"}]}`, "hi ann; hi bob; "},
	}
	for _, test := range tests {
		tmpl, err := ParseString(test.tmpl)
		if err != nil {
			t.Errorf("%q unexpected parse error: %s", test.tmpl, err)
			continue
		}
		output, err := tmpl.Render(loader, jsonValue(t, test.data))
		if err != nil {
			t.Errorf("%q unexpected error: %s", test.tmpl, err)
		} else if output != test.expected {
			t.Errorf("%q expected %q got %q", test.tmpl, test.expected, output)
		}
	}
}

// Rendering {{>p}} must equal rendering p's template directly with the
// same scope stack.
func TestPartialTransparency(t *testing.T) {
	partialSource := "{{ greeting }}, {{ name }}"
	loader, err := NewHashMapLoader(map[string]string{"p": partialSource})
	if err != nil {
		t.Fatal(err)
	}
	data := jsonValue(t, `{"greeting":"hello","name":"world"}`)

	viaPartial, err := ParseString(`{{>p}}`)
	if err != nil {
		t.Fatal(err)
	}
	direct, err := ParseString(partialSource)
	if err != nil {
		t.Fatal(err)
	}
	a, err := viaPartial.Render(loader, data)
	if err != nil {
		t.Fatal(err)
	}
	b, err := direct.Render(loader, data)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("partial render %q != direct render %q", a, b)
	}
}

func TestRenderMissingPartial(t *testing.T) {
	tmpl, err := ParseString(`{{>missing}}`)
	if err != nil {
		t.Fatal(err)
	}

	// nil loader is the null loader: every partial lookup misses
	_, err = tmpl.Render(nil, nil)
	var e *Error
	if !errors.As(err, &e) || e.Kind != ErrTemplateNotFound || e.Name != "missing" {
		t.Fatalf("expected template-not-found for %q, got %v", "missing", err)
	}

	loader, err := NewHashMapLoader(map[string]string{"other": "x"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = tmpl.Render(loader, nil)
	if !errors.As(err, &e) || e.Kind != ErrTemplateNotFound || e.Name != "missing" {
		t.Fatalf("expected template-not-found for %q, got %v", "missing", err)
	}
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) {
	return 0, fmt.Errorf("writer broke")
}

func TestWriterErrorAbortsRender(t *testing.T) {
	tmpl, err := ParseString(`some literal text`)
	if err != nil {
		t.Fatal(err)
	}
	err = tmpl.FRender(failWriter{}, nil, nil)
	var e *Error
	if !errors.As(err, &e) || e.Kind != ErrIO {
		t.Fatalf("expected io error, got %v", err)
	}
	if e.Name != "" {
		t.Fatalf("writer errors carry no template name, got %q", e.Name)
	}
}
