package object

// ClassID is a small integer uniquely identifying a class within an isolate.
type ClassID int

// Well-known class ids. User classes start at FirstUserClassID.
const (
	IllegalClassID ClassID = iota
	NullClassID
	ObjectClassID
	SmiClassID
	Int64ClassID
	DoubleClassID
	BoolClassID
	StringClassID
	ArrayClassID
	ContextClassID
	TypeErrorClassID
	FirstUserClassID
)

// Class describes a managed class: identity, superclass, type parameters
// with their declared bounds, and its dynamic/static function dictionaries.
type Class struct {
	Name       Symbol
	ID         ClassID
	Super      *Class
	TypeParams int
	// Bounds holds the declared upper bound per type parameter; nil or a
	// shorter slice means unbounded.
	Bounds []*Type
	// SignatureFunction is non-nil for closure signature classes; its
	// presence marks instances of this class as callable.
	SignatureFunction *Function

	dynamicFunctions map[Symbol]*Function
	staticFunctions  map[Symbol]*Function
}

func NewClass(name Symbol, id ClassID, super *Class, typeParams int) *Class {
	return &Class{
		Name:             name,
		ID:               id,
		Super:            super,
		TypeParams:       typeParams,
		dynamicFunctions: make(map[Symbol]*Function),
		staticFunctions:  make(map[Symbol]*Function),
	}
}

// HasTypeArguments reports whether the class is parametric.
func (c *Class) HasTypeArguments() bool { return c.TypeParams > 0 }

// NumTypeArguments returns the length of the type-argument vector instances
// of this class carry.
func (c *Class) NumTypeArguments() int { return c.TypeParams }

// AddDynamicFunction installs an instance function and sets its owner.
func (c *Class) AddDynamicFunction(f *Function) {
	f.Owner = c
	c.dynamicFunctions[f.Name] = f
}

// AddStaticFunction installs a static function and sets its owner.
func (c *Class) AddStaticFunction(f *Function) {
	f.Owner = c
	f.IsStatic = true
	c.staticFunctions[f.Name] = f
}

// LookupDynamicFunction finds an instance function declared directly on this
// class, not on a superclass.
func (c *Class) LookupDynamicFunction(name Symbol) *Function {
	return c.dynamicFunctions[name]
}

// LookupStaticFunction finds a static function declared on this class.
func (c *Class) LookupStaticFunction(name Symbol) *Function {
	return c.staticFunctions[name]
}

// IsSubclassOf walks the superclass chain.
func (c *Class) IsSubclassOf(other *Class) bool {
	for cls := c; cls != nil; cls = cls.Super {
		if cls == other {
			return true
		}
	}
	return false
}
