package object

import "fmt"

// ObjectStore holds the well-known classes and objects of one isolate: the
// class table, interned canonical type-argument vectors, the code registry,
// the empty context and the preallocated stack-overflow exception.
type ObjectStore struct {
	ObjectClass        *Class
	SmiClass           *Class
	Int64Class         *Class
	DoubleClass        *Class
	BoolClass          *Class
	StringClass        *Class
	ArrayClass         *Class
	ContextClass       *Class
	TypeErrorClass     *Class
	StackOverflowClass *Class

	InvocationMirrorClass *Class

	EmptyContext  *Context
	StackOverflow *Instance

	classTable map[ClassID]*Class
	nextCID    ClassID

	canonical map[string]*Vector

	Registry *CodeRegistry
}

func NewObjectStore() *ObjectStore {
	s := &ObjectStore{
		classTable: make(map[ClassID]*Class),
		nextCID:    FirstUserClassID,
		canonical:  make(map[string]*Vector),
		Registry:   NewCodeRegistry(),
	}
	s.ObjectClass = s.addWellKnown("Object", ObjectClassID, nil)
	s.SmiClass = s.addWellKnown("int", SmiClassID, s.ObjectClass)
	s.Int64Class = s.addWellKnown("int64", Int64ClassID, s.ObjectClass)
	s.DoubleClass = s.addWellKnown("double", DoubleClassID, s.ObjectClass)
	s.BoolClass = s.addWellKnown("bool", BoolClassID, s.ObjectClass)
	s.StringClass = s.addWellKnown("String", StringClassID, s.ObjectClass)
	s.ArrayClass = s.addWellKnown("List", ArrayClassID, s.ObjectClass)
	s.ArrayClass.TypeParams = 1
	s.ContextClass = s.addWellKnown("Context", ContextClassID, s.ObjectClass)
	s.TypeErrorClass = s.addWellKnown("TypeError", TypeErrorClassID, s.ObjectClass)

	s.StackOverflowClass = NewClass(NewSymbol("StackOverflowError"), 0, s.ObjectClass, 0)
	s.RegisterClass(s.StackOverflowClass)
	s.StackOverflow = NewInstance(s.StackOverflowClass)

	s.InvocationMirrorClass = NewClass(SymInvocationMirror, 0, s.ObjectClass, 0)
	s.RegisterClass(s.InvocationMirrorClass)
	s.installInvocationMirrorAllocator()

	s.EmptyContext = NewContext(0)
	return s
}

func (s *ObjectStore) addWellKnown(name string, cid ClassID, super *Class) *Class {
	cls := NewClass(NewSymbol(name), cid, super, 0)
	s.classTable[cid] = cls
	return cls
}

// RegisterClass assigns the next user class id when the class has none.
func (s *ObjectStore) RegisterClass(cls *Class) {
	if cls.ID == 0 {
		cls.ID = s.nextCID
		s.nextCID++
	}
	s.classTable[cls.ID] = cls
}

func (s *ObjectStore) ClassByID(cid ClassID) *Class { return s.classTable[cid] }

// ClassOf maps a value to its class; null belongs to no class and returns
// nil (lookups treat it as Object).
func (s *ObjectStore) ClassOf(v Value) *Class {
	switch v := v.(type) {
	case nil:
		return nil
	case Smi:
		return s.SmiClass
	case *Int64:
		return s.Int64Class
	case *Double:
		return s.DoubleClass
	case Bool:
		return s.BoolClass
	case Symbol, *Str:
		return s.StringClass
	case *Array:
		return s.ArrayClass
	case *Context:
		return s.ContextClass
	case *Instance:
		return v.class
	case *Closure:
		if v.function.SignatureClass == nil {
			sig := NewClass(NewSymbol(fmt.Sprintf("%s_closure", v.function.Name)), 0, s.ObjectClass, 0)
			sig.SignatureFunction = v.function
			s.RegisterClass(sig)
			v.function.SignatureClass = sig
		}
		return v.function.SignatureClass
	default:
		return s.ObjectClass
	}
}

// ClassIDOf returns NullClassID for null, else the value's class id.
func (s *ObjectStore) ClassIDOf(v Value) ClassID {
	if v == nil {
		return NullClassID
	}
	return s.ClassOf(v).ID
}

// TypeArgsOf extracts a value's type-argument vector when its class is
// parametric.
func (s *ObjectStore) TypeArgsOf(v Value) TypeArguments {
	switch v := v.(type) {
	case *Instance:
		return v.typeArgs
	case *Array:
		return v.typeArgs
	case *Closure:
		return v.typeArgs
	default:
		return nil
	}
}

// SetTypeArgsOf installs a canonicalized vector back onto the value.
func (s *ObjectStore) SetTypeArgsOf(v Value, ta TypeArguments) {
	switch v := v.(type) {
	case *Instance:
		v.typeArgs = ta
	case *Array:
		v.typeArgs = ta
	case *Closure:
		v.typeArgs = ta
	}
}

// GetType computes the runtime type of a value.
func (s *ObjectStore) GetType(v Value) *Type {
	cls := s.ClassOf(v)
	if cls == nil {
		return NewType(s.ObjectClass, nil)
	}
	return NewType(cls, s.TypeArgsOf(v))
}

// Canonicalize reduces lazy wrappers transitively and interns the resulting
// vector, so equal vectors share identity afterwards.
func (s *ObjectStore) Canonicalize(ta TypeArguments) *Vector {
	if ta == nil {
		return nil
	}
	for {
		ia, ok := ta.(*InstantiatedTypeArgs)
		if !ok {
			break
		}
		resolved := make([]*Type, ia.Len())
		for i := range resolved {
			resolved[i] = ia.TypeAt(i)
		}
		ta = NewVector(resolved...)
	}
	v := ta.(*Vector)
	if v.canonical {
		return v
	}
	key := v.key()
	if interned, ok := s.canonical[key]; ok {
		return interned
	}
	v.canonical = true
	s.canonical[key] = v
	return v
}

// CanonicalizeValueTypeArgs rewrites a value's type-arguments slot into
// canonical form, reporting whether the slot changed.
func (s *ObjectStore) CanonicalizeValueTypeArgs(v Value) (replaced bool) {
	cls := s.ClassOf(v)
	if cls == nil || !cls.HasTypeArguments() {
		return false
	}
	ta := s.TypeArgsOf(v)
	if ta == nil {
		return false
	}
	if vec, ok := ta.(*Vector); ok && vec.canonical {
		return false
	}
	s.SetTypeArgsOf(v, s.Canonicalize(ta))
	return true
}

// TypeArgsWithinBoundsOf checks an instantiated vector against the class's
// declared bounds. A malformed bound fails the check and yields its
// diagnostic message.
func (s *ObjectStore) TypeArgsWithinBoundsOf(ta TypeArguments, cls *Class, instantiator TypeArguments) (bool, string) {
	if ta == nil {
		return true, ""
	}
	for i := 0; i < cls.TypeParams && i < ta.Len(); i++ {
		var bound *Type
		if i < len(cls.Bounds) {
			bound = cls.Bounds[i]
		}
		if bound == nil {
			continue
		}
		if bound.IsMalformed() {
			return false, bound.MalformedMessage
		}
		resolved := resolveType(bound, instantiator)
		arg := ta.TypeAt(i)
		if !arg.IsSubtypeOf(resolved) {
			return false, fmt.Sprintf("type '%s' is not within bound '%s' of '%s'",
				arg.Name(), resolved.Name(), cls.Name)
		}
	}
	return true, ""
}

// IsInstanceOf is the full instance-of test. It returns the result plus a
// malformed-type message when the tested type (or a bound) is malformed.
func (s *ObjectStore) IsInstanceOf(v Value, t *Type, instantiatorTA TypeArguments) (bool, string) {
	if t.IsMalformed() {
		return false, t.MalformedMessage
	}
	resolved := t
	if !t.IsInstantiated() {
		resolved = resolveType(t, instantiatorTA)
	}
	if resolved.IsDynamic {
		return true, ""
	}
	instType := s.GetType(v)
	if instType.Args != nil {
		instType = NewType(instType.Class, s.Canonicalize(instType.Args))
	}
	return instType.IsSubtypeOf(resolved), ""
}

// installInvocationMirrorAllocator publishes the core-library static
// function that reifies a failed call for noSuchMethod.
func (s *ObjectStore) installInvocationMirrorAllocator() {
	alloc := NewFunction(SymAllocateInvocationMirror, RegularFunction,
		[]Symbol{NewSymbol("memberName"), NewSymbol("arguments")}, 0)
	code := NewCode(1, false)
	code.SetInvoke(func(args []Value) (Value, error) {
		mirror := NewInstance(s.InvocationMirrorClass)
		mirror.SetField(NewSymbol("memberName"), args[0])
		mirror.SetField(NewSymbol("arguments"), args[1])
		return mirror, nil
	})
	s.Registry.Register(code)
	alloc.AttachCode(code)
	s.InvocationMirrorClass.AddStaticFunction(alloc)
}
