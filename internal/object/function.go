package object

import "fmt"

// FunctionKind distinguishes how a function came to exist.
type FunctionKind int

const (
	RegularFunction FunctionKind = iota
	GetterFunction
	ClosureFunction
	ImplicitInstanceClosureFunction
	ImplicitStaticClosureFunction
)

// Function is the identity of a callable. It owns its current Code; the
// permanent unoptimized Code remains as the fallback the deoptimizer
// switches back to.
type Function struct {
	Name     Symbol
	Owner    *Class
	Kind     FunctionKind
	IsStatic bool

	// Parameter shape. For dynamic functions paramNames[0] is the implicit
	// receiver.
	NumFixedParams    int
	NumOptionalParams int
	paramNames        []Symbol
	namedParams       []Symbol

	usageCounter          int
	deoptimizationCounter int
	IsOptimizable         bool

	currentCode     *Code
	unoptimizedCode *Code

	implicitClosure *Function

	// SignatureClass marks closures over this function as callable; created
	// on first use by the object store.
	SignatureClass *Class
}

// NewFunction creates a function with the given parameter names; for
// instance functions the receiver must be included as the first name.
func NewFunction(name Symbol, kind FunctionKind, paramNames []Symbol, numOptional int) *Function {
	return &Function{
		Name:              name,
		Kind:              kind,
		NumFixedParams:    len(paramNames) - numOptional,
		NumOptionalParams: numOptional,
		paramNames:        paramNames,
		IsOptimizable:     true,
	}
}

// SetNamedParams declares which of the optional parameters are named.
func (f *Function) SetNamedParams(names []Symbol) { f.namedParams = names }

func (f *Function) NumParameters() int          { return len(f.paramNames) }
func (f *Function) ParameterNameAt(i int) Symbol { return f.paramNames[i] }
func (f *Function) HasOptionalParameters() bool { return f.NumOptionalParams > 0 }

// NumFixedParameters returns the count of parameters that must always be
// passed, including the receiver for dynamic functions.
func (f *Function) NumFixedParameters() int { return f.NumFixedParams }

// AreValidArgumentCounts checks call-site arity against the declaration.
// numArguments includes the receiver for instance calls.
func (f *Function) AreValidArgumentCounts(numArguments, numNamedArguments int) bool {
	if numNamedArguments > f.NumOptionalParams {
		return false
	}
	numPositional := numArguments - numNamedArguments
	if numPositional < f.NumFixedParams {
		return false
	}
	return numArguments <= f.NumFixedParams+f.NumOptionalParams
}

// QualifiedName is "Owner.name", used by traces and the optimization
// filter.
func (f *Function) QualifiedName() string {
	if f.Owner != nil {
		return fmt.Sprintf("%s.%s", f.Owner.Name, f.Name)
	}
	return string(f.Name)
}

func (f *Function) UsageCounter() int        { return f.usageCounter }
func (f *Function) SetUsageCounter(n int)    { f.usageCounter = n }
func (f *Function) IncrementUsageCounter()   { f.usageCounter++ }

func (f *Function) DeoptimizationCounter() int      { return f.deoptimizationCounter }
func (f *Function) IncrementDeoptimizationCounter() { f.deoptimizationCounter++ }

func (f *Function) HasCode() bool      { return f.currentCode != nil }
func (f *Function) CurrentCode() *Code { return f.currentCode }

// UnoptimizedCode returns the permanent fallback code.
func (f *Function) UnoptimizedCode() *Code { return f.unoptimizedCode }

// HasOptimizedCode reports whether the currently bound code is optimized.
func (f *Function) HasOptimizedCode() bool {
	return f.currentCode != nil && f.currentCode.IsOptimized()
}

// AttachCode binds freshly compiled code as the function's current code.
// The first unoptimized code also becomes the permanent fallback.
func (f *Function) AttachCode(code *Code) {
	code.function = f
	f.currentCode = code
	if !code.IsOptimized() && f.unoptimizedCode == nil {
		f.unoptimizedCode = code
	}
}

// SwitchToUnoptimizedCode rebinds the permanent fallback as current.
func (f *Function) SwitchToUnoptimizedCode() {
	if f.unoptimizedCode == nil {
		panic("kestrel: function has no unoptimized code to switch to")
	}
	f.currentCode = f.unoptimizedCode
}

// IsClosureFunction reports whether this is an explicit closure function.
func (f *Function) IsClosureFunction() bool { return f.Kind == ClosureFunction }

func (f *Function) IsImplicitInstanceClosureFunction() bool {
	return f.Kind == ImplicitInstanceClosureFunction
}

func (f *Function) IsImplicitStaticClosureFunction() bool {
	return f.Kind == ImplicitStaticClosureFunction
}

// ImplicitClosureFunction returns (creating on first use) the closure-kind
// twin used when the method is read as if it were a field.
func (f *Function) ImplicitClosureFunction() *Function {
	if f.implicitClosure == nil {
		twin := NewFunction(f.Name, ImplicitInstanceClosureFunction, f.paramNames, f.NumOptionalParams)
		twin.Owner = f.Owner
		twin.namedParams = f.namedParams
		twin.currentCode = f.currentCode
		twin.unoptimizedCode = f.unoptimizedCode
		f.implicitClosure = twin
	}
	return f.implicitClosure
}
