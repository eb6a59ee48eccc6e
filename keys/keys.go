// Package keys builds the canonical, cross-module names the patch engine
// uses to identify methods and fields: Method Key / Field Key (stable
// strings) and Method Id (a 32-bit FNV-1a hash of a Method Key).
package keys

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// MethodKey is the canonical, structural name of a method, stable across
// the source module, the runtime module, and persistence:
//
//	<OwnerTypeFullName>::<Name>`<GenericArity>(<ParamType>,...)=><ReturnType>
type MethodKey string

// FieldKey is the canonical name of a field:
//
//	<OwnerTypeFullName>::<Name>:<FieldType>:<instance|static>
type FieldKey string

// MethodID is the dispatcher's primary key: a 32-bit FNV-1a hash of a
// MethodKey. Deterministic across processes so persisted patches replay.
type MethodID uint32

// NormalizeTypeName collapses nested-type separators ("+", "/") to a single
// canonical form ("."), which keeps a method key stable regardless of
// which separator the source toolchain happened to emit for nested types.
func NormalizeTypeName(fullName string) string {
	r := strings.NewReplacer("+", ".", "/", ".")
	return r.Replace(fullName)
}

// NewMethodKey builds a canonical MethodKey for a method declared on
// ownerFullName. paramTypes and returnType should already be normalized
// type names (see NormalizeTypeName); genericArity is 0 for non-generic
// methods.
func NewMethodKey(ownerFullName, name string, genericArity int, paramTypes []string, returnType string) MethodKey {
	var b strings.Builder
	b.WriteString(NormalizeTypeName(ownerFullName))
	b.WriteString("::")
	b.WriteString(name)
	b.WriteByte('`')
	b.WriteString(strconv.Itoa(genericArity))
	b.WriteByte('(')
	for i, p := range paramTypes {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(NormalizeTypeName(p))
	}
	b.WriteString(")=>")
	b.WriteString(NormalizeTypeName(returnType))
	return MethodKey(b.String())
}

// NewFieldKey builds a canonical FieldKey.
func NewFieldKey(ownerFullName, name, fieldType string, isStatic bool) FieldKey {
	scope := "instance"
	if isStatic {
		scope = "static"
	}
	var b strings.Builder
	b.WriteString(NormalizeTypeName(ownerFullName))
	b.WriteString("::")
	b.WriteString(name)
	b.WriteByte(':')
	b.WriteString(NormalizeTypeName(fieldType))
	b.WriteByte(':')
	b.WriteString(scope)
	return FieldKey(b.String())
}

// ID computes the MethodID (32-bit FNV-1a) of a MethodKey.
func (k MethodKey) ID() MethodID {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k))
	return MethodID(h.Sum32())
}

// String satisfies fmt.Stringer for readable log lines.
func (k MethodKey) String() string { return string(k) }

// String satisfies fmt.Stringer for readable log lines.
func (k FieldKey) String() string { return string(k) }

// String formats the id as a stable decimal string, used as the dispatcher's
// radix-tree key.
func (id MethodID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}
