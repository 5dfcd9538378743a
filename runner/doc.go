// Package runner implements the orchestration layer of agentflow.
//
// A Runner owns the stores of one application and drives invocations of an
// agent tree against them:
//   - resolves which agent of the tree answers the next user turn
//   - creates the InvocationContext (stores, RunConfig, live queue, logger)
//   - optionally saves inline user blobs as artifacts
//   - persists every non-partial event through SessionStore.AppendEvent
//     before the producing agent resumes
//   - tracks active invocations for cancellation
//
// Run serves turn-based invocations, RunLive duplex sessions fed by a
// core.LiveRequestQueue. The root agentflow package wraps both behind a
// smaller façade.
package runner
