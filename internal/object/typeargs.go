package object

import (
	"fmt"
	"strings"
)

// Type is one type expression: a concrete class type with its own argument
// vector, a type parameter awaiting an instantiator, or dynamic. A malformed
// declaration carries its diagnostic message.
type Type struct {
	Class            *Class
	Args             TypeArguments
	Param            int
	IsDynamic        bool
	MalformedMessage string
}

func NewType(cls *Class, args TypeArguments) *Type {
	return &Type{Class: cls, Args: args, Param: -1}
}

func NewTypeParameter(index int) *Type {
	return &Type{Param: index}
}

func DynamicType() *Type {
	return &Type{Param: -1, IsDynamic: true}
}

func MalformedType(message string) *Type {
	return &Type{Param: -1, MalformedMessage: message}
}

func (t *Type) IsTypeParameter() bool { return t.Param >= 0 }
func (t *Type) IsMalformed() bool     { return t.MalformedMessage != "" }

// IsInstantiated reports whether the type mentions no free type parameters.
func (t *Type) IsInstantiated() bool {
	if t.IsTypeParameter() {
		return false
	}
	if t.Args == nil {
		return true
	}
	return t.Args.IsInstantiated()
}

// Name renders the user-visible type name.
func (t *Type) Name() string {
	switch {
	case t.IsDynamic:
		return "dynamic"
	case t.IsMalformed():
		return "malformed"
	case t.IsTypeParameter():
		return fmt.Sprintf("T%d", t.Param)
	}
	if t.Args == nil || t.Args.Len() == 0 {
		return string(t.Class.Name)
	}
	parts := make([]string, t.Args.Len())
	for i := 0; i < t.Args.Len(); i++ {
		parts[i] = t.Args.TypeAt(i).Name()
	}
	return fmt.Sprintf("%s<%s>", t.Class.Name, strings.Join(parts, ", "))
}

// TypeArguments is a vector of type expressions. The two concrete variants
// are Vector (possibly canonical) and InstantiatedTypeArgs (a lazy pair).
type TypeArguments interface {
	Len() int
	TypeAt(i int) *Type
	// IsInstantiated reports whether every element is free of type
	// parameters. A lazy wrapper is instantiated by construction.
	IsInstantiated() bool
}

// Vector is a plain type-argument vector.
type Vector struct {
	types     []*Type
	canonical bool
}

func NewVector(types ...*Type) *Vector {
	return &Vector{types: types}
}

func (v *Vector) Len() int           { return len(v.types) }
func (v *Vector) TypeAt(i int) *Type { return v.types[i] }
func (v *Vector) IsCanonical() bool  { return v.canonical }

func (v *Vector) IsInstantiated() bool {
	for _, t := range v.types {
		if !t.IsInstantiated() {
			return false
		}
	}
	return true
}

// IsUninstantiatedIdentity reports whether the vector is exactly the
// parameters 0..n-1 in order, so an instantiator of matching length can
// stand in for the instantiated vector.
func (v *Vector) IsUninstantiatedIdentity() bool {
	for i, t := range v.types {
		if !t.IsTypeParameter() || t.Param != i {
			return false
		}
	}
	return len(v.types) > 0
}

func (v *Vector) key() string {
	parts := make([]string, len(v.types))
	for i, t := range v.types {
		parts[i] = t.Name()
	}
	return strings.Join(parts, ",")
}

// InstantiatedTypeArgs is the lazy pair (uninstantiated, instantiator); its
// elements are reduced on access. Canonicalization replaces the wrapper with
// an interned Vector.
type InstantiatedTypeArgs struct {
	Uninstantiated TypeArguments
	Instantiator   TypeArguments
}

func NewInstantiatedTypeArgs(uninst, instantiator TypeArguments) *InstantiatedTypeArgs {
	return &InstantiatedTypeArgs{Uninstantiated: uninst, Instantiator: instantiator}
}

func (ia *InstantiatedTypeArgs) Len() int { return ia.Uninstantiated.Len() }

func (ia *InstantiatedTypeArgs) TypeAt(i int) *Type {
	return resolveType(ia.Uninstantiated.TypeAt(i), ia.Instantiator)
}

func (ia *InstantiatedTypeArgs) IsInstantiated() bool { return true }

// IsLazy reports whether ta is still the unreduced wrapper form. Lazy
// vectors are never admitted into subtype test caches.
func IsLazy(ta TypeArguments) bool {
	_, ok := ta.(*InstantiatedTypeArgs)
	return ok
}

// resolveType substitutes instantiator types for type parameters,
// recursively through nested argument vectors.
func resolveType(t *Type, instantiator TypeArguments) *Type {
	if t.IsTypeParameter() {
		if instantiator == nil || t.Param >= instantiator.Len() {
			return DynamicType()
		}
		return instantiator.TypeAt(t.Param)
	}
	if t.Args == nil || t.Args.IsInstantiated() {
		return t
	}
	resolved := make([]*Type, t.Args.Len())
	for i := range resolved {
		resolved[i] = resolveType(t.Args.TypeAt(i), instantiator)
	}
	return NewType(t.Class, NewVector(resolved...))
}

// Instantiate produces a fully instantiated vector for uninst given an
// instantiator. When the instantiator can stand in directly (it is nil, or
// uninst is the identity vector of matching length) it is returned as-is;
// otherwise a lazy wrapper is produced for later reduction.
func Instantiate(uninst, instantiator TypeArguments) TypeArguments {
	if uninst == nil {
		return nil
	}
	if instantiator == nil {
		return instantiator
	}
	if v, ok := uninst.(*Vector); ok && v.IsUninstantiatedIdentity() && instantiator.Len() == v.Len() {
		return instantiator
	}
	return NewInstantiatedTypeArgs(uninst, instantiator)
}

// IsSubtypeOf implements element-wise assignability: dynamic accepts
// everything, otherwise the class chains must relate and argument vectors
// must be pairwise subtypes.
func (t *Type) IsSubtypeOf(other *Type) bool {
	if other.IsDynamic || other.IsTypeParameter() {
		return true
	}
	if t.IsDynamic || t.IsTypeParameter() {
		return false
	}
	if t.IsMalformed() || other.IsMalformed() {
		return false
	}
	if !t.Class.IsSubclassOf(other.Class) {
		return false
	}
	if other.Args == nil || other.Args.Len() == 0 {
		return true
	}
	if t.Args == nil || t.Args.Len() < other.Args.Len() {
		return false
	}
	for i := 0; i < other.Args.Len(); i++ {
		if !t.Args.TypeAt(i).IsSubtypeOf(other.Args.TypeAt(i)) {
			return false
		}
	}
	return true
}
