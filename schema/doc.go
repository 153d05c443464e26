// Package schema describes bridge values with WIT types so functions can be
// called without Go types, for example from the command line or from a
// configuration file.
//
// Type expressions are parsed into go.bytecodealliance.org/wit types:
//
//	t, _ := schema.Parse("record{name: string, tags: list<string>}")
//	v, _ := schema.ParseValue(t, `{"name": "a", "tags": ["x"]}`)
//	_ = schema.Encode(w, t, v)
//
// Encoding follows the bincode wire format used by the typed dispatch
// cache, so a record schema and a Go struct with the same field order
// produce identical bytes.
package schema
