package execution

import (
	"bytes"
	"encoding/binary"

	"github.com/canopy-network/fastpath/lib"
)

/*
	The native framework is the package every authority creates at genesis. Its functions are implemented
	natively rather than interpreted, and a call to any other package fails as the function cannot be found.

	object_basics operates on objects of ObjectBasicsType whose contents are a big endian u64 value:

	- create(value u64, recipient address)    creates a new object owned by the recipient
	- transfer(object, recipient address)     reassigns the owner
	- set_value(object, value u64)            overwrites the value
	- update(target, source)                  copies the value of source into target
	- delete(object)                          deletes the object
	- abort(code u64)                         fails the call with the code

	Natives only write objects whose content changed.
*/

const (
	ObjectBasicsModule = "object_basics"
	ObjectBasicsType   = "0x2::object_basics::Object"
)

// FrameworkPackage() returns the native framework package object created at genesis
func FrameworkPackage() *lib.Object {
	return lib.NewPackageObject(lib.FrameworkPackageID, []lib.Module{{
		Name:     ObjectBasicsModule,
		Bytecode: []byte("native"),
	}}, lib.GenesisTransactionDigest)
}

// nativeFunction is the implementation of one framework function
type nativeFunction func(ctx *TxContext, store *TemporaryStore, objects []*lib.Object, pure []lib.HexBytes) lib.ErrorI

// NativeVM executes the native framework and publishes packages
type NativeVM struct {
	natives map[string]map[string]nativeFunction // module -> function -> implementation
}

var _ VM = &NativeVM{}

// NewNativeVM() creates a VM with the object_basics natives
func NewNativeVM() *NativeVM {
	return &NativeVM{natives: map[string]map[string]nativeFunction{
		ObjectBasicsModule: {
			"create":    nativeCreate,
			"transfer":  nativeTransfer,
			"set_value": nativeSetValue,
			"update":    nativeUpdate,
			"delete":    nativeDelete,
			"abort":     nativeAbort,
		},
	}}
}

// Execute() resolves the call against the package and runs the native implementation
func (vm *NativeVM) Execute(ctx *TxContext, store *TemporaryStore, gas *GasStatus, pkg *lib.MovePackage, call *lib.MoveCall) lib.ErrorI {
	if err := gas.ChargeCall(); err != nil {
		return err
	}
	if _, ok := pkg.GetModule(call.Module); !ok {
		return ErrModuleNotFound(call.Package.ID, call.Module)
	}
	functions, ok := vm.natives[call.Module]
	if !ok || call.Package.ID != lib.FrameworkPackageID {
		return ErrFunctionNotFound(call.Module, call.Function)
	}
	fn, ok := functions[call.Function]
	if !ok {
		return ErrFunctionNotFound(call.Module, call.Function)
	}
	if len(call.TypeArguments) != 0 {
		return ErrTypeArguments(len(call.TypeArguments))
	}
	objects := make([]*lib.Object, len(call.ObjectArguments))
	for i, ref := range call.ObjectArguments {
		if objects[i] = store.ReadObject(ref.ID); objects[i] == nil {
			return ErrObjectArgNotFound(ref.ID)
		}
	}
	return fn(ctx, store, objects, call.PureArguments)
}

// Publish() charges per bytecode byte and creates the package under a fresh id
func (vm *NativeVM) Publish(ctx *TxContext, store *TemporaryStore, gas *GasStatus, modules []lib.Module) lib.ErrorI {
	if len(modules) == 0 {
		return ErrEmptyPublish()
	}
	var size uint64
	names := make(map[string]struct{}, len(modules))
	for _, m := range modules {
		if _, dup := names[m.Name]; dup || m.Name == "" {
			return ErrDuplicateModule(m.Name)
		}
		names[m.Name] = struct{}{}
		size += uint64(len(m.Bytecode))
	}
	if err := gas.ChargePublish(size); err != nil {
		return err
	}
	return store.WriteObject(lib.NewPackageObject(store.FreshID(), modules, ctx.Digest))
}

func nativeCreate(ctx *TxContext, store *TemporaryStore, objects []*lib.Object, pure []lib.HexBytes) lib.ErrorI {
	if err := expectArgs(objects, pure, 0, 2); err != nil {
		return err
	}
	value, err := u64Arg(pure, 0)
	if err != nil {
		return err
	}
	recipient, err := addressArg(pure, 1)
	if err != nil {
		return err
	}
	id := store.FreshID()
	return store.WriteObject(lib.NewMoveObject(id, lib.NewAddressOwner(recipient), ObjectBasicsType, lib.Uint64ToBytes(value), ctx.Digest))
}

func nativeTransfer(_ *TxContext, store *TemporaryStore, objects []*lib.Object, pure []lib.HexBytes) lib.ErrorI {
	if err := expectArgs(objects, pure, 1, 1); err != nil {
		return err
	}
	o, err := basicsObject(objects[0])
	if err != nil {
		return err
	}
	recipient, err := addressArg(pure, 0)
	if err != nil {
		return err
	}
	if o.Owner.IsOwnedBy(recipient) {
		return nil
	}
	if err = o.Transfer(recipient); err != nil {
		return err
	}
	return store.WriteObject(o)
}

func nativeSetValue(_ *TxContext, store *TemporaryStore, objects []*lib.Object, pure []lib.HexBytes) lib.ErrorI {
	if err := expectArgs(objects, pure, 1, 1); err != nil {
		return err
	}
	o, err := basicsObject(objects[0])
	if err != nil {
		return err
	}
	value, err := u64Arg(pure, 0)
	if err != nil {
		return err
	}
	return setValue(store, o, lib.Uint64ToBytes(value))
}

func nativeUpdate(_ *TxContext, store *TemporaryStore, objects []*lib.Object, pure []lib.HexBytes) lib.ErrorI {
	if err := expectArgs(objects, pure, 2, 0); err != nil {
		return err
	}
	target, err := basicsObject(objects[0])
	if err != nil {
		return err
	}
	source, err := basicsObject(objects[1])
	if err != nil {
		return err
	}
	return setValue(store, target, source.Move.Contents)
}

func nativeDelete(_ *TxContext, store *TemporaryStore, objects []*lib.Object, pure []lib.HexBytes) lib.ErrorI {
	if err := expectArgs(objects, pure, 1, 0); err != nil {
		return err
	}
	o, err := basicsObject(objects[0])
	if err != nil {
		return err
	}
	return store.DeleteObject(o.ID)
}

func nativeAbort(_ *TxContext, _ *TemporaryStore, objects []*lib.Object, pure []lib.HexBytes) lib.ErrorI {
	if err := expectArgs(objects, pure, 0, 1); err != nil {
		return err
	}
	code, err := u64Arg(pure, 0)
	if err != nil {
		return err
	}
	return ErrMoveAbort(code)
}

// setValue() writes the object only if its contents change
func setValue(store *TemporaryStore, o *lib.Object, value []byte) lib.ErrorI {
	if bytes.Equal(o.Move.Contents, value) {
		return nil
	}
	o.Move.Contents = bytes.Clone(value)
	return store.WriteObject(o)
}

func expectArgs(objects []*lib.Object, pure []lib.HexBytes, numObjects, numPure int) lib.ErrorI {
	if len(objects) != numObjects {
		return ErrWrongObjectArgCount(numObjects, len(objects))
	}
	if len(pure) != numPure {
		return ErrInvalidPureArgument(len(pure), "unexpected number of pure arguments")
	}
	return nil
}

func basicsObject(o *lib.Object) (*lib.Object, lib.ErrorI) {
	if o.Move == nil || o.Move.Type != ObjectBasicsType || len(o.Move.Contents) != 8 {
		typ := "package"
		if o.Move != nil {
			typ = o.Move.Type
		}
		return nil, ErrInvalidObjectType(o.ID, typ)
	}
	return o, nil
}

func u64Arg(pure []lib.HexBytes, i int) (uint64, lib.ErrorI) {
	if len(pure[i]) != 8 {
		return 0, ErrInvalidPureArgument(i, "expected an 8 byte u64")
	}
	return binary.BigEndian.Uint64(pure[i]), nil
}

func addressArg(pure []lib.HexBytes, i int) (a lib.Address, err lib.ErrorI) {
	if len(pure[i]) != lib.AddressSize {
		return a, ErrInvalidPureArgument(i, "expected an address")
	}
	copy(a[:], pure[i])
	return a, nil
}
