package prompts

// Template names.
const (
	Rephrase          = "rephrase"
	RefineRephrase    = "refine_rephrase"
	AnalyzeChat       = "analyze_chat"
	DeepDiveQuestions = "deep_dive_questions"
	ClassifyFeedback  = "classify_feedback"
	ChatSystem        = "chat_system"
)

// Placeholder names used by the default templates.
const (
	VarUserText     = "user_text"
	VarDraft        = "draft"
	VarConversation = "conversation"
)

// defaults are the compiled-in templates. Placeholders are {name}.
var defaults = map[string]string{
	Rephrase: `[Instruction]
Rewrite the following job-interview note so that it is clear, polite and easy to read.
Keep every fact. Do not add information that is not in the note.
Output only the rewritten text.

[Note]
{user_text}

[Rewritten]
`,

	RefineRephrase: `[Instruction]
Below is a draft rewrite of a job-interview note. Improve it once more:
fix awkward phrasing, remove repetition and keep the meaning unchanged.
Output only the improved text.

[Draft]
{draft}

[Improved]
`,

	AnalyzeChat: `[Instruction]
Read the job seeker's message and summarise in two or three sentences
what they seem to care about most and what they are unsure of.

[Message]
{user_text}

[Analysis]
`,

	DeepDiveQuestions: `[Instruction]
Read the job seeker's note and suggest up to three short follow-up questions
that would help them reflect more deeply on the interview.
Write one question per line.

[Note]
{user_text}

[Questions]
`,

	ClassifyFeedback: `[Instruction]
Analyse the following feedback text and classify it into the given categories as JSON.

[Categories]
- impression: overall impression
- attraction: what was attractive
- concern: concerns
- aspiration: level of interest in the company
- next_step: next step
- other: anything else

[Rules]
- Output JSON only.
- Use an empty string "" for any category the text does not mention.

[Example]
Feedback text:
Talked with the CTO today. The tech stack is modern and looks fun. Salary is a bit of a worry. I'd like to move on to the next interview.

JSON output:
` + "```json" + `
{
  "impression": "Talked with the CTO.",
  "attraction": "The tech stack is modern and looks fun.",
  "concern": "Salary is a bit of a worry.",
  "aspiration": "high",
  "next_step": "wants to proceed",
  "other": ""
}
` + "```" + `

[Task]
Feedback text:
{user_text}

JSON output:
` + "```json" + `
`,

	ChatSystem: `You are a friendly career advisor helping a job seeker reflect on their interviews.
Answer briefly and kindly. Ask a question back when it helps them think.

{conversation}Assistant:`,
}
