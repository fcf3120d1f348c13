package agent

// Agent couples instructions with a model and a tool set.
type Agent struct {
	Name         string
	Instructions string
	Model        Model
	Tools        []Tool
}

func New(name string) *Agent {
	return &Agent{Name: name}
}

// WithInstructions sets the system instructions.
func (a *Agent) WithInstructions(instructions string) *Agent {
	a.Instructions = instructions
	return a
}

// WithModel sets the model the agent runs on.
func (a *Agent) WithModel(m Model) *Agent {
	a.Model = m
	return a
}

// WithTools adds tools to the agent.
func (a *Agent) WithTools(tools ...Tool) *Agent {
	a.Tools = append(a.Tools, tools...)
	return a
}

func (a *Agent) toolByName(name string) Tool {
	for _, t := range a.Tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

const triageInstructions = `You are the triage analyst for a cybersecurity news platform.
You are given one article as JSON. Assess whether it is relevant to defenders,
how severe it is, and whether it should be published.

Use the dedup_check tool to verify the article is not a copy of an earlier
story, and the guardrail_check tool to verify it does not trip a content
policy rule. Call each at most once.

Then answer with a single JSON object and nothing else:
{
  "decision": "AUTO_PUBLISH" | "REVIEW" | "DROP",
  "severity": "CRITICAL" | "HIGH" | "MEDIUM" | "LOW" | "INFO",
  "score": <0-100 relevance score>,
  "confidence": <0.0-1.0>,
  "duplicateOf": <article id when dedup_check found a duplicate, else omit>,
  "rationale": "<one or two sentences>"
}`

// NewTriageAgent builds the agent that assesses a single article. It only
// gets the verification tools, the article payload arrives as the task input.
func NewTriageAgent(m Model, toolbox *Toolbox) *Agent {
	return New("triage").
		WithInstructions(triageInstructions).
		WithModel(m).
		WithTools(toolbox.DedupCheck(), toolbox.GuardrailCheck())
}

const chatInstructions = `You are the assistant for analysts using a cybersecurity news
triage platform. Answer questions about articles, feeds and triage activity.
Use the tools to look up real data before answering, never invent article
contents or statistics. Keep answers short and cite article ids where
relevant.`

// NewChatAgent builds the assistant behind the chat endpoint, with read-only
// tools over the article store.
func NewChatAgent(m Model, toolbox *Toolbox) *Agent {
	return New("assistant").
		WithInstructions(chatInstructions).
		WithModel(m).
		WithTools(
			toolbox.SearchArticles(),
			toolbox.GetArticle(),
			toolbox.TriageStats(),
			toolbox.DedupCheck(),
			toolbox.GuardrailCheck(),
		)
}
