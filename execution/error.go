package execution

import (
	"fmt"

	"github.com/canopy-network/fastpath/lib"
)

func ErrInsufficientGas(needed, remaining uint64) lib.ErrorI {
	return lib.NewError(lib.CodeInsufficientGas, lib.ExecutionModule, fmt.Sprintf("insufficient gas: needed %d, remaining %d", needed, remaining))
}

func ErrMoveAbort(code uint64) lib.ErrorI {
	return lib.NewError(lib.CodeMoveAbort, lib.ExecutionModule, fmt.Sprintf("move abort with code %d", code))
}

func ErrFunctionNotFound(module, function string) lib.ErrorI {
	return lib.NewError(lib.CodeFunctionNotFound, lib.ExecutionModule, fmt.Sprintf("function %s::%s not found", module, function))
}

func ErrModuleNotFound(pkg lib.ObjectID, module string) lib.ErrorI {
	return lib.NewError(lib.CodeModuleNotFound, lib.ExecutionModule, fmt.Sprintf("module %s not found in package %s", module, pkg))
}

func ErrInvalidPureArgument(index int, reason string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidPureArgument, lib.ExecutionModule, fmt.Sprintf("pure argument %d is invalid: %s", index, reason))
}

func ErrObjectArgNotFound(id lib.ObjectID) lib.ErrorI {
	return lib.NewError(lib.CodeObjectArgNotFound, lib.ExecutionModule, fmt.Sprintf("object argument %s not found", id))
}

func ErrWrongObjectArgCount(expected, got int) lib.ErrorI {
	return lib.NewError(lib.CodeObjectArgNotFound, lib.ExecutionModule, fmt.Sprintf("expected %d object arguments, got %d", expected, got))
}

func ErrInvalidObjectType(id lib.ObjectID, typ string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidObjectType, lib.ExecutionModule, fmt.Sprintf("object %s has unexpected type %s", id, typ))
}

func ErrEmptyPublish() lib.ErrorI {
	return lib.NewError(lib.CodeEmptyPublish, lib.ExecutionModule, "publish has no modules")
}

func ErrDuplicateModule(name string) lib.ErrorI {
	return lib.NewError(lib.CodeDuplicateModule, lib.ExecutionModule, fmt.Sprintf("module name %q is empty or repeated", name))
}

func ErrImmutableObjectWrite(id lib.ObjectID) lib.ErrorI {
	return lib.NewError(lib.CodeImmutableObjectWrite, lib.ExecutionModule, fmt.Sprintf("immutable object %s cannot be written", id))
}

func ErrTypeArguments(count int) lib.ErrorI {
	return lib.NewError(lib.CodeTypeArguments, lib.ExecutionModule, fmt.Sprintf("native functions take no type arguments, got %d", count))
}
