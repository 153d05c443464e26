package schema

import (
	"fmt"
	"strings"
	"unicode"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/native-bridge/errors"
)

// Unit is the zero-byte type. It is represented by a nil wit.Type.
var Unit wit.Type

// Parse reads a type expression:
//
//	bool u8 u16 u32 u64 s8 s16 s32 s64 f32 f64 char string unit
//	list<T> option<T> tuple<A, B> result<T, E>
//	enum{a, b} record{x: T, y: U} variant{a(T), b}
//
// "_" is accepted for unit, so result<_, string> has no ok payload.
func Parse(expr string) (wit.Type, error) {
	p := &parser{src: expr}
	t, err := p.typ()
	if err != nil {
		return nil, errors.ParseFailed(fmt.Sprintf("type %q", expr), err)
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, errors.ParseFailed(fmt.Sprintf("type %q", expr), p.errorf("unexpected %q", p.src[p.pos:]))
	}
	return t, nil
}

// MustParse is Parse for expressions known to be valid.
func MustParse(expr string) wit.Type {
	t, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseList parses each expression of a parameter list.
func ParseList(exprs []string) ([]wit.Type, error) {
	out := make([]wit.Type, 0, len(exprs))
	for _, e := range exprs {
		t, err := Parse(e)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) accept(c byte) bool {
	if p.peek() == c {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(c byte) error {
	if !p.accept(c) {
		if p.pos >= len(p.src) {
			return p.errorf("expected %q, got end of input", c)
		}
		return p.errorf("expected %q, got %q", c, p.src[p.pos])
	}
	return nil
}

func (p *parser) ident() (string, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '_' || c == '-' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			p.pos++
			continue
		}
		break
	}
	if start == p.pos {
		if p.pos >= len(p.src) {
			return "", p.errorf("expected identifier, got end of input")
		}
		return "", p.errorf("expected identifier, got %q", p.src[p.pos])
	}
	return p.src[start:p.pos], nil
}

func (p *parser) typ() (wit.Type, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	switch name {
	case "_", "unit":
		return Unit, nil
	case "list":
		ts, err := p.params(1)
		if err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.List{Type: ts[0]}}, nil
	case "option":
		ts, err := p.params(1)
		if err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.Option{Type: ts[0]}}, nil
	case "result":
		ts, err := p.params(2)
		if err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.Result{OK: ts[0], Err: ts[1]}}, nil
	case "tuple":
		ts, err := p.params(-1)
		if err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.Tuple{Types: ts}}, nil
	case "enum":
		return p.enum()
	case "record":
		return p.record()
	case "variant":
		return p.variant()
	}
	t, err := wit.ParseType(name)
	if err != nil {
		return nil, p.errorf("unknown type %q", name)
	}
	return t, nil
}

// params reads <T, ...>. want < 0 accepts any count, including zero.
func (p *parser) params(want int) ([]wit.Type, error) {
	if err := p.expect('<'); err != nil {
		return nil, err
	}
	var ts []wit.Type
	if !p.accept('>') {
		for {
			t, err := p.typ()
			if err != nil {
				return nil, err
			}
			ts = append(ts, t)
			if p.accept('>') {
				break
			}
			if err := p.expect(','); err != nil {
				return nil, err
			}
		}
	}
	if want >= 0 && len(ts) != want {
		return nil, p.errorf("expected %d type parameter(s), got %d", want, len(ts))
	}
	return ts, nil
}

// members reads {item, ...} calling fn for each item.
func (p *parser) members(fn func() error) error {
	if err := p.expect('{'); err != nil {
		return err
	}
	if p.accept('}') {
		return p.errorf("empty member list")
	}
	for {
		if err := fn(); err != nil {
			return err
		}
		if p.accept('}') {
			return nil
		}
		if err := p.expect(','); err != nil {
			return err
		}
		// trailing comma
		if p.accept('}') {
			return nil
		}
	}
}

func (p *parser) enum() (wit.Type, error) {
	e := &wit.Enum{}
	seen := map[string]bool{}
	err := p.members(func() error {
		name, err := p.uniqueName(seen)
		if err != nil {
			return err
		}
		e.Cases = append(e.Cases, wit.EnumCase{Name: name})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &wit.TypeDef{Kind: e}, nil
}

func (p *parser) record() (wit.Type, error) {
	r := &wit.Record{}
	seen := map[string]bool{}
	err := p.members(func() error {
		name, err := p.uniqueName(seen)
		if err != nil {
			return err
		}
		if err := p.expect(':'); err != nil {
			return err
		}
		t, err := p.typ()
		if err != nil {
			return err
		}
		r.Fields = append(r.Fields, wit.Field{Name: name, Type: t})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &wit.TypeDef{Kind: r}, nil
}

func (p *parser) variant() (wit.Type, error) {
	v := &wit.Variant{}
	seen := map[string]bool{}
	err := p.members(func() error {
		name, err := p.uniqueName(seen)
		if err != nil {
			return err
		}
		c := wit.Case{Name: name}
		if p.accept('(') {
			if c.Type, err = p.typ(); err != nil {
				return err
			}
			if err := p.expect(')'); err != nil {
				return err
			}
		}
		v.Cases = append(v.Cases, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &wit.TypeDef{Kind: v}, nil
}

func (p *parser) uniqueName(seen map[string]bool) (string, error) {
	name, err := p.ident()
	if err != nil {
		return "", err
	}
	if seen[name] {
		return "", p.errorf("duplicate name %q", name)
	}
	seen[name] = true
	return name, nil
}

// String renders t in the syntax accepted by Parse.
func String(t wit.Type) string {
	var b strings.Builder
	writeType(&b, t)
	return b.String()
}

func writeType(b *strings.Builder, t wit.Type) {
	td, ok := t.(*wit.TypeDef)
	if !ok {
		b.WriteString(primitiveName(t))
		return
	}
	switch k := td.Kind.(type) {
	case *wit.List:
		b.WriteString("list<")
		writeType(b, k.Type)
		b.WriteByte('>')
	case *wit.Option:
		b.WriteString("option<")
		writeType(b, k.Type)
		b.WriteByte('>')
	case *wit.Result:
		b.WriteString("result<")
		writeType(b, k.OK)
		b.WriteString(", ")
		writeType(b, k.Err)
		b.WriteByte('>')
	case *wit.Tuple:
		b.WriteString("tuple<")
		for i, e := range k.Types {
			if i > 0 {
				b.WriteString(", ")
			}
			writeType(b, e)
		}
		b.WriteByte('>')
	case *wit.Enum:
		b.WriteString("enum{")
		for i, c := range k.Cases {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
		}
		b.WriteByte('}')
	case *wit.Record:
		b.WriteString("record{")
		for i, f := range k.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteString(": ")
			writeType(b, f.Type)
		}
		b.WriteByte('}')
	case *wit.Variant:
		b.WriteString("variant{")
		for i, c := range k.Cases {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
			if c.Type != nil {
				b.WriteByte('(')
				writeType(b, c.Type)
				b.WriteByte(')')
			}
		}
		b.WriteByte('}')
	default:
		fmt.Fprintf(b, "%T", td.Kind)
	}
}

func primitiveName(t wit.Type) string {
	switch t.(type) {
	case nil:
		return "unit"
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.U16:
		return "u16"
	case wit.U32:
		return "u32"
	case wit.U64:
		return "u64"
	case wit.S8:
		return "s8"
	case wit.S16:
		return "s16"
	case wit.S32:
		return "s32"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	}
	return fmt.Sprintf("%T", t)
}
