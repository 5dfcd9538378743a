// Package core provides the foundational domain types, interfaces and execution
// contexts used by agentflow. It defines:
//
//   - Events and EventActions (immutable output records carrying state deltas)
//   - Sessions with layered app/user/session state and the store contract
//   - InvocationContext, CallbackContext and ToolContext (scoped execution)
//   - LiveRequestQueue (mailbox feeding a duplex model connection)
//   - RunConfig (per invocation settings, loadable from YAML)
//
// Implementation concerns (persistence, flows, concrete agents) live in other
// packages; core exposes small interfaces so backends can be swapped.
package core
