package agentsession

import "context"

// Session is the opaque agent-session interface: something that, given
// a rendered chunk prompt, lets the LLM read files through its own
// sandboxed tools and eventually either calls the
// submit_extraction_results tool (landing a Submission in the Capture
// passed to the session at construction time) or returns a final text
// message for the worker's fallback-parse path.
//
// The core pipeline (pkg/worker, pkg/orchestrator) depends only on this
// interface; it never imports a concrete backend. Swapping backends
// (genai here, anything else later) never touches core code.
type Session interface {
	// Run drives one agent turn for prompt. finalText is the agent's
	// last textual message, used by the caller as a text-JSON fallback
	// if the tool was never called. Run itself does not return an error
	// for "the agent chose not to call the tool" -- that is a valid
	// outcome the caller inspects via the Capture's phase.
	Run(ctx context.Context, prompt string) (finalText string, err error)
}
