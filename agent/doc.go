// Package agent contains the agent implementations that make up an agent
// tree. The package focuses on three concerns:
//
//  1. Hierarchy, agent callbacks and run tracing (BaseAgent)
//  2. Coordination patterns (SequentialAgent, ParallelAgent, LoopAgent)
//  3. Model driven conversational / tool-calling agent (ModelAgent)
//
// Execution Model:
//   - RunAsync and RunLive return lazy event streams; the runner persists
//     every non-partial event before the producing agent continues
//   - Composite agents forward the streams of their sub-agents
//   - ModelAgent delegates to a flow from the flow package, chosen from its
//     transfer settings
//
// Agents are wired with SetSubAgents; an agent has at most one parent.
package agent
