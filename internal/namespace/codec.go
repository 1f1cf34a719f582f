package namespace

import (
	"bytes"
)

// Separator joins namespace segments and the leaf key in stored keys. It
// never occurs in valid UTF-8 and is rejected in names by ValidateName.
const Separator byte = 0xFF

// EncodeKey returns the stored key for key inside chain.
func EncodeKey(chain []string, key string) []byte {
	n := len(key)
	for _, seg := range chain {
		n += len(seg) + 1
	}
	buf := make([]byte, 0, n)
	for _, seg := range chain {
		buf = append(buf, seg...)
		buf = append(buf, Separator)
	}
	return append(buf, key...)
}

// NamespacePrefix returns the prefix shared by every stored key at or below
// chain. The root prefix is empty.
func NamespacePrefix(chain []string) []byte {
	n := 0
	for _, seg := range chain {
		n += len(seg) + 1
	}
	buf := make([]byte, 0, n)
	for _, seg := range chain {
		buf = append(buf, seg...)
		buf = append(buf, Separator)
	}
	return buf
}

// StoredKey returns the stored key for an Entry, or nil for other kinds.
func (r PathRef) StoredKey() []byte {
	if r.kind != KindEntry {
		return nil
	}
	return EncodeKey(r.chain, r.key)
}

// Prefix returns the namespace prefix for r interpreted as a namespace.
func (r PathRef) Prefix() []byte {
	ns := r.AsNamespace()
	return NamespacePrefix(ns.chain)
}

// SplitChild classifies stored relative to prefix. It returns the first
// segment after the prefix and whether that segment names a child namespace
// (true) or a key stored directly under the prefix (false). ok is false when
// stored does not extend prefix.
func SplitChild(prefix, stored []byte) (name string, isNamespace bool, ok bool) {
	if len(stored) <= len(prefix) || !bytes.HasPrefix(stored, prefix) {
		return "", false, false
	}
	rest := stored[len(prefix):]
	i := bytes.IndexByte(rest, Separator)
	if i < 0 {
		return string(rest), false, true
	}
	if i == 0 {
		return "", false, false
	}
	return string(rest[:i]), true, true
}

// SkipChild returns a key that sorts after every stored key inside the child
// namespace name of prefix but before the next sibling. Segments never begin
// with Separator, so two separators bound the subtree.
func SkipChild(prefix []byte, name string) []byte {
	buf := make([]byte, 0, len(prefix)+len(name)+2)
	buf = append(buf, prefix...)
	buf = append(buf, name...)
	return append(buf, Separator, Separator)
}
