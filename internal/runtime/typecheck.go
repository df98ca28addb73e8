package runtime

import (
	"kestrel/internal/errors"
	"kestrel/internal/flags"
	"kestrel/internal/isolate"
	"kestrel/internal/object"
)

// printTypeCheck logs one type-check event with the caller's PC.
func printTypeCheck(iso *isolate.Isolate, message string, instance object.Value, tp *object.Type, instantiatorTA object.TypeArguments, result bool) {
	frame := topManagedFrame(iso)
	instanceType := iso.Store.GetType(instance)
	verb := "is !"
	if result {
		verb = "is"
	}
	if tp.IsInstantiated() {
		log.Info("%s: '%s' %s '%s' (pc: %#x)", message, instanceType.Name(), verb, tp.Name(), frame.PC())
	} else {
		resolved := object.Instantiate(object.NewVector(tp), instantiatorTA)
		name := tp.Name()
		if resolved != nil {
			name = resolved.TypeAt(0).Name()
		}
		log.Info("%s: '%s' %s '%s' instantiated from '%s' (pc: %#x)",
			message, instanceType.Name(), verb, name, tp.Name(), frame.PC())
	}
	if fn := frame.LookupFunction(); fn != nil {
		log.Info(" -> function %s", fn.QualifiedName())
	}
}

// updateTypeTestCache canonicalizes the instance's (and instantiator's) type
// arguments, rejects duplicates on the 3-key prefix, and admits the entry
// when the cache has room and the instantiator vector is not a lazy wrapper.
func updateTypeTestCache(
	iso *isolate.Isolate,
	instance object.Value,
	tp *object.Type,
	instantiator object.Value,
	incomingInstantiatorTA object.TypeArguments,
	result bool,
	cache *object.SubtypeTestCache,
) {
	if cache == nil {
		return
	}
	store := iso.Store
	instantiatorTA := incomingInstantiatorTA
	var instanceTA object.TypeArguments

	typeArgsReplaced := false
	instanceClass := store.ClassOf(instance)
	if instanceClass != nil && instanceClass.HasTypeArguments() {
		typeArgsReplaced = store.CanonicalizeValueTypeArgs(instance)
		instanceTA = store.TypeArgsOf(instance)
	}
	if instantiator != nil {
		if store.CanonicalizeValueTypeArgs(instantiator) {
			typeArgsReplaced = true
		}
		instantiatorTA = store.TypeArgsOf(instantiator)
	}

	instanceCID := store.ClassIDOf(instance)
	if cache.NumberOfChecks() >= flags.Current.MaxSubtypeCacheEntries {
		return
	}
	for i := 0; i < cache.NumberOfChecks(); i++ {
		chk := cache.GetCheck(i)
		if chk.InstanceClassID == instanceCID &&
			chk.InstanceTypeArgs == instanceTA &&
			chk.InstantiatorTypeArgs == instantiatorTA {
			// Can occur when canonicalization rewrote the arguments.
			if flags.Current.TraceTypeChecks {
				if typeArgsReplaced {
					printTypeCheck(iso, "duplicate cache entry (canonical.)", instance, tp, instantiatorTA, result)
				} else {
					printTypeCheck(iso, "WARNING duplicate cache entry", instance, tp, instantiatorTA, result)
				}
			}
			return
		}
	}
	if instantiatorTA != nil && object.IsLazy(instantiatorTA) {
		return
	}
	cache.AddCheck(instanceCID, instanceTA, instantiatorTA, result)
	if flags.Current.TraceTypeChecks {
		log.Info("  updated test cache ix: %d with (%d, %v, %v, %v)",
			cache.NumberOfChecks()-1, instanceCID, instanceTA, instantiatorTA, result)
	}
}

// Check that the given instance is an instance of the given type. The
// tested instance is never null; the null test is inlined.
// Arg0: instance being checked.
// Arg1: type.
// Arg2: instantiator (or null).
// Arg3: type arguments of the instantiator of the type.
// Arg4: subtype test cache.
var EntryInstanceof = DefineEntry("Instanceof", 5, instanceofEntry)

func instanceofEntry(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	instance := args.ArgAt(0)
	tp := args.ArgAt(1).(*object.Type)
	instantiator := args.ArgAt(2)
	instantiatorTA := asTypeArgs(args.ArgAt(3))
	cache, _ := args.ArgAt(4).(*object.SubtypeTestCache)

	result, malformed := iso.Store.IsInstanceOf(instance, tp, instantiatorTA)
	if flags.Current.TraceTypeChecks {
		printTypeCheck(iso, "InstanceOf", instance, tp, instantiatorTA, result)
	}
	if !result && malformed != "" {
		// Throw a dynamic type error only if the instanceof test fails.
		location := callerFrameLocation(iso)
		return errors.CreateAndThrowTypeError(location, "", "", "", malformed)
	}
	updateTypeTestCache(iso, instance, tp, instantiator, instantiatorTA, result, cache)
	args.SetReturn(object.Bool(result))
	return nil
}

// Check that the type of the given instance is a subtype of the given type
// and can therefore be assigned.
// Arg0: instance being assigned.
// Arg1: type being assigned to.
// Arg2: instantiator (or null).
// Arg3: type arguments of the instantiator of the type being assigned to.
// Arg4: name of the variable being assigned to.
// Arg5: subtype test cache.
var EntryTypeCheck = DefineEntry("TypeCheck", 6, typeCheckEntry)

func typeCheckEntry(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	srcInstance := args.ArgAt(0)
	dstType := args.ArgAt(1).(*object.Type)
	dstInstantiator := args.ArgAt(2)
	instantiatorTA := asTypeArgs(args.ArgAt(3))
	dstName := args.ArgAt(4).(object.Symbol)
	cache, _ := args.ArgAt(5).(*object.SubtypeTestCache)

	if dstType.IsDynamic {
		panic("kestrel: assignability check against dynamic")
	}
	if dstType.IsMalformed() {
		panic("kestrel: malformed type reached the type-check entry")
	}
	if srcInstance == nil {
		panic("kestrel: null instance reached the type-check entry")
	}

	isInstance, malformed := iso.Store.IsInstanceOf(srcInstance, dstType, instantiatorTA)
	if flags.Current.TraceTypeChecks {
		printTypeCheck(iso, "TypeCheck", srcInstance, dstType, instantiatorTA, isInstance)
	}
	if !isInstance {
		location := callerFrameLocation(iso)
		srcTypeName := iso.Store.GetType(srcInstance).Name()
		dstTypeName := dstType.Name()
		if !dstType.IsInstantiated() {
			resolved := object.Instantiate(object.NewVector(dstType), instantiatorTA)
			if resolved != nil {
				dstTypeName = resolved.TypeAt(0).Name()
			}
		}
		return errors.CreateAndThrowTypeError(location, srcTypeName, dstTypeName, string(dstName), malformed)
	}
	updateTypeTestCache(iso, srcInstance, dstType, dstInstantiator, instantiatorTA, true, cache)
	args.SetReturn(srcInstance)
	return nil
}

// Test whether a formal parameter was defined by a passed-in argument.
// Arg0: formal parameter index as Smi.
// Arg1: formal parameter name as symbol.
// Arg2: arguments descriptor array.
var EntryArgumentDefinitionTest = DefineEntry("ArgumentDefinitionTest", 3, argumentDefinitionTest)

func argumentDefinitionTest(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	paramIndex := args.ArgAt(0).(object.Smi)
	paramName := args.ArgAt(1).(object.Symbol)
	argDesc := args.ArgAt(2).(*object.Array)
	numPosArgs := int(argDesc.At(1).(object.Smi))
	// Defined by a positional argument?
	isDefined := numPosArgs > int(paramIndex)
	if !isDefined {
		// Defined by a named argument?
		numNamedArgs := int(argDesc.At(0).(object.Smi)) - numPosArgs
		for i := 0; i < numNamedArgs; i++ {
			argName := argDesc.At(2*i + 2).(object.Symbol)
			if argName == paramName {
				isDefined = true
				break
			}
		}
	}
	args.SetReturn(object.Bool(isDefined))
	return nil
}

// Report that the type of the given object is not bool in a conditional
// context.
// Arg0: bad object.
var EntryConditionTypeError = DefineEntry("ConditionTypeError", 1, conditionTypeError)

func conditionTypeError(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	location := callerFrameLocation(iso)
	srcInstance := args.ArgAt(0)
	if _, isBool := srcInstance.(object.Bool); isBool {
		panic("kestrel: condition error raised for a bool")
	}
	srcTypeName := iso.Store.GetType(srcInstance).Name()
	return errors.CreateAndThrowTypeError(location, srcTypeName, "bool",
		string(object.SymBooleanExpression), "")
}

// Report that the type of a type check is malformed.
// Arg0: src value.
// Arg1: name of the instance being assigned to.
// Arg2: malformed type error message.
var EntryMalformedTypeError = DefineEntry("MalformedTypeError", 3, malformedTypeError)

func malformedTypeError(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	location := callerFrameLocation(iso)
	srcValue := args.ArgAt(0)
	dstName := args.ArgAt(1).(object.Symbol)
	malformedError := args.ArgAt(2).(*object.Str)
	srcTypeName := iso.Store.GetType(srcValue).Name()
	return errors.CreateAndThrowTypeError(location, srcTypeName,
		string(object.SymMalformed), string(dstName), malformedError.Value)
}

// Arg0: exception instance.
var EntryThrow = DefineEntry("Throw", 1, throwEntry)

func throwEntry(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	return errors.Throw(args.ArgAt(0))
}

// Arg0: exception instance.
// Arg1: stack trace.
var EntryReThrow = DefineEntry("ReThrow", 2, rethrowEntry)

func rethrowEntry(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	return errors.ReThrow(args.ArgAt(0), args.ArgAt(1))
}
