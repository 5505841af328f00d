package worker

import (
	"fmt"
	"strings"

	"github.com/kgraph/extractor/pkg/model"
)

// extractionPromptTemplate instructs the model to read the listed
// files through its tools, extract entities, then call
// submit_extraction_results. Prompt authoring is a collaborator concern;
// this template exists only so the worker has something concrete to
// render against the files in a chunk.
const extractionPromptTemplate = `You are extracting a knowledge graph from configuration files.

Use the read_file tool to read each of the following files (search_files
and glob_files are also available if you need to look at related files
outside this list). Identify the entities they describe (services, teams,
databases, queues, endpoints, and anything else with a clear identity)
and the relationships between them.

Files in this chunk:
%s

For each entity, produce:
  "@id": a URN of the form "urn:<Type>:<identifier>", e.g. "urn:Service:payment-api"
  "@type": the entity's type, matching the URN's <Type> segment
  "name": a human-readable name
  "description": optional, one sentence
  any other properties you find, as additional JSON keys. A property that
  references another entity should be a URN string or an {"@id": ...} object.

When you are done, call the %s tool exactly once with:
  entities: the list of entity objects described above
  metadata: {"entity_count": <n>, "types_discovered": [...], "files_processed": <n>}

Do not call the tool more than once. Do not ask clarifying questions.`

// RenderPrompt builds the prompt for a chunk, listing its files relative
// to nothing in particular -- callers pass whatever paths the
// Enumerator produced, which are already absolute and stable.
func RenderPrompt(c model.Chunk, toolName string) string {
	var files strings.Builder
	for _, f := range c.Files {
		fmt.Fprintf(&files, "  - %s\n", f)
	}
	return fmt.Sprintf(extractionPromptTemplate, files.String(), toolName)
}

// EstimatedTokens gives a rough token estimate for a rendered prompt,
// approximately 4 characters per token for English text, used only to
// decide whether a PromptTooLongError is plausible before even calling
// the agent session (the authoritative signal is still the session's own
// error).
func EstimatedTokens(prompt string) int {
	return (len(prompt) + 3) / 4
}
