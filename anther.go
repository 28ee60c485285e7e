// Package anther hosts agent extensions behind one uniform invocation path.
//
// An extension is a named provider of tools. It may live in-process
// (builtin), behind a subprocess speaking JSON-RPC over stdio, or behind a
// remote HTTP endpoint with a server-sent event stream. The subpackages
// split the work:
//
//	import "github.com/petal-labs/anther/extension" // lifecycle, adapters, health
//	import "github.com/petal-labs/anther/invoke"    // tool dispatch with deadlines
//	import "github.com/petal-labs/anther/memory"    // the builtin memory extension
//	import "github.com/petal-labs/anther/provider"  // model backend routing
//	import "github.com/petal-labs/anther/config"    // the on-disk configuration
package anther

// Version is the module version reported by the CLI when not overridden at
// build time.
const Version = "0.1.0"
