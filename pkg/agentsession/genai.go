package agentsession

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/kgraph/extractor/pkg/capture"
	"github.com/kgraph/extractor/pkg/model"
)

// maxAgentTurns bounds the read/search/glob -> respond loop below so a
// model that never calls submit_extraction_results cannot spin forever.
const maxAgentTurns = 25

// GenAISession is a concrete Session backed by the Gemini SDK,
// configured with the same four function declarations mcpserver.go
// exposes over MCP -- submit plus the three read-only file tools -- so
// a model using this backend can explore a chunk's files the same way
// an external MCP client would.
type GenAISession struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	root    string
	cap     *capture.Capture
}

// GenAIConfig configures a GenAISession. Root sandboxes the read_file,
// search_files and glob_files tools the same way mcpserver.go's --data-dir
// sandboxes its MCP transport equivalents.
type GenAIConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	Root    string
}

// NewGenAISession creates a session, or returns an error if the API key
// is missing -- extraction cannot proceed without a configured backend.
func NewGenAISession(ctx context.Context, cfg GenAIConfig, cap *capture.Capture) (*GenAISession, error) {
	if cfg.APIKey == "" {
		return nil, &model.ConfigurationError{Reason: "no LLM API key configured"}
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-3-flash-preview"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &model.TransientError{Cause: err}
	}

	return &GenAISession{client: client, model: cfg.Model, timeout: cfg.Timeout, root: cfg.Root, cap: cap}, nil
}

// agentTools is the genai mirror of the four tool schemas mcpserver.go
// registers for the MCP transport, so a model talking to the Gemini API
// sees the identical contract a real MCP client would: it can read a
// file's contents, search across files, glob for paths, and finally
// submit its extracted entities.
var agentTools = &genai.Tool{
	FunctionDeclarations: []*genai.FunctionDeclaration{
		{
			Name:        ToolName,
			Description: "Submit the entities extracted from this chunk's files, plus extraction metadata.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"entities": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeObject}},
					"metadata": {Type: genai.TypeObject},
				},
				Required: []string{"entities", "metadata"},
			},
		},
		{
			Name:        ToolReadFile,
			Description: "Read the contents of a file at a path relative to the chunk's root, truncated if very large.",
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: map[string]*genai.Schema{"path": {Type: genai.TypeString}},
				Required:   []string{"path"},
			},
		},
		{
			Name:        ToolSearchFiles,
			Description: "Search file contents for a literal substring, optionally scoped to a path, returning matching path:line: text lines.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"query": {Type: genai.TypeString},
					"path":  {Type: genai.TypeString},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        ToolGlobFiles,
			Description: "List paths matching a glob pattern (supports ** for any depth) relative to the chunk's root.",
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: map[string]*genai.Schema{"pattern": {Type: genai.TypeString}},
				Required:   []string{"pattern"},
			},
		},
	},
}

// Run drives a multi-turn agent loop: the model may call read_file,
// search_files or glob_files any number of times to inspect the chunk's
// files before calling submit_extraction_results, mirroring the turn loop
// an external MCP client would run against mcpserver.go. The loop ends
// when the model calls the submit tool, returns a pure-text response, or
// maxAgentTurns is exhausted.
func (s *GenAISession) Run(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{agentTools},
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	for turn := 0; turn < maxAgentTurns; turn++ {
		result, err := s.client.Models.GenerateContent(ctx, s.model, contents, config)
		if err != nil {
			if isPromptTooLong(err) {
				return "", &model.PromptTooLongError{}
			}
			if isRateLimit(err) {
				return "", &model.RateLimitedError{RetryAfter: 60 * time.Second}
			}
			return "", &model.TransientError{Cause: err}
		}
		if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
			return "", &model.TransientError{Cause: fmt.Errorf("empty response from model")}
		}

		respContent := result.Candidates[0].Content
		contents = append(contents, respContent)

		var finalText string
		var responseParts []*genai.Part
		var submitted bool
		var sawFunctionCall bool

		for _, part := range respContent.Parts {
			if part == nil {
				continue
			}
			if part.FunctionCall != nil {
				sawFunctionCall = true
				if part.FunctionCall.Name == ToolName {
					sub, err := decodeFunctionCallArgs(part.FunctionCall.Args)
					if err != nil {
						return "", &model.ParseErr{Cause: err}
					}
					s.cap.Submit(sub)
					submitted = true
					continue
				}
				responseParts = append(responseParts, s.dispatchFileTool(part.FunctionCall.Name, part.FunctionCall.Args))
				continue
			}
			if part.Text != "" {
				finalText += part.Text
			}
		}

		if submitted {
			return finalText, nil
		}
		if !sawFunctionCall {
			return finalText, nil
		}

		contents = append(contents, genai.NewContentFromParts(responseParts, genai.RoleUser))
	}

	return "", &model.TransientError{Cause: fmt.Errorf("agent exceeded %d turns without submitting a result", maxAgentTurns)}
}

// dispatchFileTool runs one of the three read-only file tools against
// s.root and wraps the result (or error) as a function-response part to
// feed back to the model on the next turn.
func (s *GenAISession) dispatchFileTool(name string, args map[string]any) *genai.Part {
	var output string
	var toolErr error

	switch name {
	case ToolReadFile:
		path, _ := args["path"].(string)
		output, toolErr = readFile(s.root, path)
	case ToolSearchFiles:
		query, _ := args["query"].(string)
		scope, _ := args["path"].(string)
		output, toolErr = searchFiles(s.root, query, scope)
	case ToolGlobFiles:
		pattern, _ := args["pattern"].(string)
		var matches []string
		matches, toolErr = globFiles(s.root, pattern)
		if toolErr == nil {
			if len(matches) == 0 {
				output = "no matches"
			} else {
				output = strings.Join(matches, "\n")
			}
		}
	default:
		toolErr = fmt.Errorf("unknown tool %q", name)
	}

	response := map[string]any{"result": output}
	if toolErr != nil {
		response = map[string]any{"error": toolErr.Error()}
	}
	return genai.NewPartFromFunctionResponse(name, response)
}

// decodeFunctionCallArgs converts the decoded function-call argument map
// into a Submission, re-marshaling the entities list so its shape
// matches exactly what handleSubmit produces for the MCP transport path
// (a []json.RawMessage the worker can feed through the same normalizer).
func decodeFunctionCallArgs(args map[string]any) (*capture.Submission, error) {
	rawEntities, ok := args["entities"]
	if !ok {
		return nil, fmt.Errorf("function call missing entities argument")
	}
	entitiesJSON, err := json.Marshal(rawEntities)
	if err != nil {
		return nil, err
	}
	var entities []json.RawMessage
	if err := json.Unmarshal(entitiesJSON, &entities); err != nil {
		return nil, err
	}
	metadata, _ := args["metadata"].(map[string]any)
	return &capture.Submission{Entities: entities, Metadata: metadata}, nil
}

func isRateLimit(err error) bool {
	// The genai SDK surfaces HTTP 429s as an *apierror with Code 429;
	// a plain substring check keeps this adapter from depending on the
	// SDK's internal error types, which are not part of its stable API.
	msg := err.Error()
	for _, needle := range []string{"429", "RESOURCE_EXHAUSTED", "rate limit"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// isPromptTooLong mirrors isRateLimit's substring-check style for the
// other terminal condition a GenerateContent call can surface: a prompt
// (plus the accumulated tool-call history) too large for the model's
// context window.
func isPromptTooLong(err error) bool {
	msg := err.Error()
	for _, needle := range []string{"413", "prompt is too long", "PROMPT_TOO_LONG", "exceeds the maximum"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
