package sandbox

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/r3e-network/faas-core/internal/faas"
	"github.com/r3e-network/faas-core/internal/faaserr"
)

// bridge binds one invocation's ports, permissions, and quota to a single
// goja.Runtime. It is the single trust boundary named in §4.2: every host
// operation is enumerated here exactly once, gated by permission (except
// zk.prove and zk.verify, which have no permission check), charged against
// quota, and converted to a typed JS exception on failure.
type bridge struct {
	rt   *goja.Runtime
	ctx  context.Context
	ictx InvocationContext
	caps Capabilities
	ring *logRing
}

// throwHostError raises a JS exception carrying a stable `code` field
// matching the §7 error-kind taxonomy (DESIGN NOTES §9: "the bridge
// converts each variant to a typed JS exception with a stable code field").
func (b *bridge) throwHostError(err error) {
	kind := faaserr.KindOf(err)
	obj := b.rt.NewObject()
	_ = obj.Set("code", string(kind))
	_ = obj.Set("message", err.Error())
	_ = obj.Set("name", "HostError")
	panic(obj)
}

func (b *bridge) require(perm faas.Permission) bool {
	if !b.ictx.Perms.Has(perm) {
		b.throwHostError(faaserr.New(faaserr.PermissionDenied, "function lacks permission %s", perm))
		return false
	}
	return true
}

func (b *bridge) charge(kind string) bool {
	if err := b.ictx.Quota.Charge(kind); err != nil {
		b.throwHostError(err)
		return false
	}
	return true
}

// buildContext assembles the `context` object handed to a function's
// default export as its second argument (§4.2 step 2: "its `default`
// export is invoked with `(event, context)`"). Host APIs are reachable
// only through this object, never as sandbox-wide globals (DESIGN NOTES
// §9: "explicit capability handles injected into each invocation's
// context").
func (b *bridge) buildContext() *goja.Object {
	ctxObj := b.rt.NewObject()
	_ = ctxObj.Set("chain", b.chainNamespace())
	_ = ctxObj.Set("oracle", b.oracleNamespace())
	_ = ctxObj.Set("storage", b.storageNamespace())
	_ = ctxObj.Set("metatx", b.metaTxNamespace())
	_ = ctxObj.Set("gasbank", b.gasBankNamespace())
	_ = ctxObj.Set("secure", b.secureNamespace())
	_ = ctxObj.Set("zk", b.zkNamespace())
	_ = ctxObj.Set("log", b.logNamespace())
	return ctxObj
}

func (b *bridge) chainNamespace() *goja.Object {
	ns := b.rt.NewObject()
	_ = ns.Set("get_block", func(call goja.FunctionCall) goja.Value {
		if !b.require(faas.PermChainRead) || !b.charge("chain.get_block") {
			return goja.Undefined()
		}
		arg := argString(call, 0)
		v, err := b.caps.Chain.GetBlock(b.ctx, arg)
		return b.finish(v, err)
	})
	_ = ns.Set("get_transaction", func(call goja.FunctionCall) goja.Value {
		if !b.require(faas.PermChainRead) || !b.charge("chain.get_transaction") {
			return goja.Undefined()
		}
		v, err := b.caps.Chain.GetTransaction(b.ctx, argString(call, 0))
		return b.finish(v, err)
	})
	_ = ns.Set("get_contract", func(call goja.FunctionCall) goja.Value {
		if !b.require(faas.PermChainRead) || !b.charge("chain.get_contract") {
			return goja.Undefined()
		}
		v, err := b.caps.Chain.GetContract(b.ctx, argString(call, 0))
		return b.finish(v, err)
	})
	_ = ns.Set("call_readonly", func(call goja.FunctionCall) goja.Value {
		if !b.require(faas.PermChainRead) || !b.charge("chain.call_readonly") {
			return goja.Undefined()
		}
		contract := argString(call, 0)
		method := argString(call, 1)
		args := argSlice(call, 2)
		v, err := b.caps.Chain.CallReadonly(b.ctx, contract, method, args)
		return b.finish(v, err)
	})
	return ns
}

func (b *bridge) oracleNamespace() *goja.Object {
	ns := b.rt.NewObject()
	_ = ns.Set("price", func(call goja.FunctionCall) goja.Value {
		if !b.require(faas.PermOracleRead) || !b.charge("oracle.price") {
			return goja.Undefined()
		}
		v, err := b.caps.Oracle.Price(b.ctx, argString(call, 0), argString(call, 1))
		return b.finish(v, err)
	})
	_ = ns.Set("random", func(call goja.FunctionCall) goja.Value {
		if !b.require(faas.PermOracleRead) || !b.charge("oracle.random") {
			return goja.Undefined()
		}
		min := argInt(call, 0)
		max := argInt(call, 1)
		count := int(argInt(call, 2))
		v, err := b.caps.Oracle.Random(b.ctx, min, max, count)
		return b.finish(v, err)
	})
	return ns
}

func (b *bridge) storageNamespace() *goja.Object {
	ns := b.rt.NewObject()
	_ = ns.Set("get", func(call goja.FunctionCall) goja.Value {
		if !b.require(faas.PermStorageRead) || !b.charge("storage.get") {
			return goja.Undefined()
		}
		key := argString(call, 0)
		if len(key) > 512 {
			b.throwHostError(faaserr.New(faaserr.InvalidRequest, "storage key exceeds 512 bytes"))
			return goja.Undefined()
		}
		v, err := b.caps.Storage.Get(b.ctx, b.ictx.OwnerID, b.ictx.FunctionID, key)
		return b.finish(v, err)
	})
	_ = ns.Set("set", func(call goja.FunctionCall) goja.Value {
		if !b.require(faas.PermStorageWrite) || !b.charge("storage.set") {
			return goja.Undefined()
		}
		key := argString(call, 0)
		value := []byte(argString(call, 1))
		ttl := argInt(call, 2)
		if len(key) > 512 {
			b.throwHostError(faaserr.New(faaserr.InvalidRequest, "storage key exceeds 512 bytes"))
			return goja.Undefined()
		}
		if len(value) > 1<<20 {
			b.throwHostError(faaserr.New(faaserr.InvalidRequest, "storage value exceeds 1 MiB"))
			return goja.Undefined()
		}
		err := b.caps.Storage.Set(b.ctx, b.ictx.OwnerID, b.ictx.FunctionID, key, value, ttl)
		return b.finish(nil, err)
	})
	_ = ns.Set("delete", func(call goja.FunctionCall) goja.Value {
		if !b.require(faas.PermStorageWrite) || !b.charge("storage.delete") {
			return goja.Undefined()
		}
		err := b.caps.Storage.Delete(b.ctx, b.ictx.OwnerID, b.ictx.FunctionID, argString(call, 0))
		return b.finish(nil, err)
	})
	_ = ns.Set("list", func(call goja.FunctionCall) goja.Value {
		if !b.require(faas.PermStorageRead) || !b.charge("storage.list") {
			return goja.Undefined()
		}
		prefix := argString(call, 0)
		limit := int(argInt(call, 1))
		v, err := b.caps.Storage.List(b.ctx, b.ictx.OwnerID, b.ictx.FunctionID, prefix, limit)
		return b.finish(v, err)
	})
	return ns
}

func (b *bridge) metaTxNamespace() *goja.Object {
	ns := b.rt.NewObject()
	_ = ns.Set("submit", func(call goja.FunctionCall) goja.Value {
		if !b.require(faas.PermMetaTxSubmit) || !b.charge("metatx.submit") {
			return goja.Undefined()
		}
		req := argExport(call, 0)
		v, err := b.caps.MetaTx.Submit(b.ctx, req)
		return b.finish(v, err)
	})
	return ns
}

func (b *bridge) gasBankNamespace() *goja.Object {
	ns := b.rt.NewObject()
	_ = ns.Set("pay", func(call goja.FunctionCall) goja.Value {
		if !b.require(faas.PermGasBankPay) || !b.charge("gasbank.pay") {
			return goja.Undefined()
		}
		tx := argExport(call, 0)
		v, err := b.caps.GasBank.Pay(b.ctx, tx)
		return b.finish(v, err)
	})
	return ns
}

// secureExecutePermission is not part of the §3 permission-set enum (it is
// TEE-specific per §4.2); functions are granted it the same way as any
// other permission and it is checked the same way.
const secureExecutePermission faas.Permission = "secure.execute"

func (b *bridge) secureNamespace() *goja.Object {
	ns := b.rt.NewObject()
	_ = ns.Set("execute", func(call goja.FunctionCall) goja.Value {
		if !b.require(secureExecutePermission) || !b.charge("secure.execute") {
			return goja.Undefined()
		}
		code := argString(call, 0)
		inputs := argExport(call, 1)
		v, err := b.caps.Attest.Execute(b.ctx, code, inputs)
		return b.finish(v, err)
	})
	return ns
}

func (b *bridge) zkNamespace() *goja.Object {
	ns := b.rt.NewObject()
	_ = ns.Set("prove", func(call goja.FunctionCall) goja.Value {
		if !b.charge("zk.prove") {
			return goja.Undefined()
		}
		circuitID := argString(call, 0)
		pub := argExport(call, 1)
		priv := argExport(call, 2)
		v, err := b.caps.ZK.Prove(b.ctx, circuitID, pub, priv)
		return b.finish(v, err)
	})
	_ = ns.Set("verify", func(call goja.FunctionCall) goja.Value {
		if !b.charge("zk.verify") {
			return goja.Undefined()
		}
		proof := argExport(call, 0)
		vk := argExport(call, 1)
		pub := argExport(call, 2)
		ok, err := b.caps.ZK.Verify(b.ctx, proof, vk, pub)
		return b.finish(ok, err)
	})
	return ns
}

func (b *bridge) logNamespace() *goja.Object {
	ns := b.rt.NewObject()
	level := func(lvl string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			msg := ""
			for i, a := range call.Arguments {
				if i > 0 {
					msg += " "
				}
				msg += fmt.Sprint(a.Export())
			}
			fmt.Fprintf(b.ring, "[%s] %s\n", lvl, msg)
			return goja.Undefined()
		}
	}
	_ = ns.Set("info", level("info"))
	_ = ns.Set("warn", level("warn"))
	_ = ns.Set("error", level("error"))
	_ = ns.Set("debug", level("debug"))
	return ns
}

// finish converts a (value, error) host-port result into either the Go
// value (auto-marshaled to JS by goja) or a thrown typed exception.
func (b *bridge) finish(v interface{}, err error) goja.Value {
	if err != nil {
		b.throwHostError(err)
		return goja.Undefined()
	}
	if v == nil {
		return goja.Undefined()
	}
	return b.rt.ToValue(v)
}

func argString(call goja.FunctionCall, i int) string {
	if i >= len(call.Arguments) {
		return ""
	}
	return call.Arguments[i].String()
}

func argInt(call goja.FunctionCall, i int) int64 {
	if i >= len(call.Arguments) {
		return 0
	}
	return call.Arguments[i].ToInteger()
}

func argSlice(call goja.FunctionCall, i int) []interface{} {
	if i >= len(call.Arguments) {
		return nil
	}
	exported := call.Arguments[i].Export()
	if s, ok := exported.([]interface{}); ok {
		return s
	}
	return []interface{}{exported}
}

func argExport(call goja.FunctionCall, i int) interface{} {
	if i >= len(call.Arguments) {
		return nil
	}
	return call.Arguments[i].Export()
}
