// assert.go - misuse assertions: call-discipline violations panic in
// debug builds and are undefined behaviour in release builds.

package cmdq

import "fmt"

// DebugAssertions gates cmdq's internal misuse checks. Production
// embedders that have already validated call discipline may set this to
// false to drop the checks; it defaults to true, so assertions are live
// unless explicitly disabled.
var DebugAssertions = true

// assertf panics with a formatted message if DebugAssertions is enabled
// and cond is false. Misuse this module documents as fatal (mismatched
// block_begin/end, highpri_begin while already high-priority,
// block_run during high-priority, syncpoint creation inside a block,
// nesting-ceiling breaches, deferred calls inside a block) all funnel
// through this.
func assertf(cond bool, format string, args ...any) {
	if !DebugAssertions || cond {
		return
	}
	panic(fmt.Sprintf("cmdq: misuse: "+format, args...))
}
