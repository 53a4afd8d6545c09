package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/hupe1980/structstore"
)

// parseValue decodes JSON into store values. Objects keep their key order
// as *structstore.Map; numbers without a fraction or exponent become int64.
func parseValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := structstore.NewMap()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				k, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("object key %v is not a string", kt)
				}
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				m.Set(k, v)
			}
			_, err := dec.Token()
			return m, err
		case '[':
			xs := []any{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				xs = append(xs, v)
			}
			_, err := dec.Token()
			return xs, err
		default:
			return nil, fmt.Errorf("unexpected %v", t)
		}
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, nil
			}
		}
		return strconv.ParseFloat(s, 64)
	default:
		// string, bool or nil
		return t, nil
	}
}

// splitPath splits a dotted path. "" and "." address the root.
func splitPath(path string) []string {
	path = strings.Trim(path, ".")
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// step descends one path segment: a field of a store, an index of a list,
// or through a pointer.
func step(cur any, seg string) (any, error) {
	switch c := cur.(type) {
	case *structstore.Store:
		return c.Get(seg)
	case *structstore.List:
		i, err := strconv.Atoi(seg)
		if err != nil {
			return nil, fmt.Errorf("list index %q: %w", seg, err)
		}
		return c.At(i)
	case *structstore.Pointer:
		if c.IsNull() {
			return nil, fmt.Errorf("cannot descend into null pointer at %q", seg)
		}
		target, err := c.Deref()
		if err != nil {
			return nil, err
		}
		return step(target, seg)
	default:
		return nil, fmt.Errorf("cannot descend into %T at %q", cur, seg)
	}
}

func resolve(root *structstore.Store, segs []string) (any, error) {
	var cur any = root
	for _, seg := range segs {
		next, err := step(cur, seg)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// assign sets v at path. The last segment of a list path may be "-" to
// append. An empty path replaces the root, which requires an object.
func assign(root *structstore.Store, segs []string, v any) error {
	if len(segs) == 0 {
		m, ok := v.(*structstore.Map)
		if !ok {
			return fmt.Errorf("root must be an object, not %T", v)
		}
		g, err := root.WriteLock()
		if err != nil {
			return err
		}
		defer g.Release()
		if err := root.Clear(); err != nil {
			return err
		}
		for k, x := range m.All() {
			if err := root.Set(k, x); err != nil {
				return err
			}
		}
		return nil
	}

	parent, err := resolve(root, segs[:len(segs)-1])
	if err != nil {
		return err
	}
	last := segs[len(segs)-1]
	switch p := parent.(type) {
	case *structstore.Store:
		return p.Set(last, v)
	case *structstore.List:
		if last == "-" {
			return p.Append(v)
		}
		i, err := strconv.Atoi(last)
		if err != nil {
			return fmt.Errorf("list index %q: %w", last, err)
		}
		return p.Set(i, v)
	default:
		return fmt.Errorf("cannot assign into %T", parent)
	}
}

// detach turns handles into plain trees for printing. Pointers print as
// their target's value.
func detach(v any) (any, error) {
	switch x := v.(type) {
	case *structstore.Store:
		return x.DeepCopy()
	case *structstore.List:
		return x.DeepCopy()
	case *structstore.Matrix:
		return x.DeepCopy()
	case *structstore.Pointer:
		if x.IsNull() {
			return nil, nil
		}
		t, err := x.Deref()
		if err != nil {
			return nil, err
		}
		return detach(t)
	default:
		return v, nil
	}
}
