// Package prompts holds the text Think sends to models and assembles
// the ordered prompt for each turn.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation and can be validated by tests.
// User-facing configuration lives in config.yaml; the one exception is the
// base system prompt, which an operator may replace with agent.system_prompt_file.
//
// Convention: each prompt category gets its own file (system.go,
// summary.go) with an exported function that accepts the dynamic parts
// and returns the fully interpolated prompt string. BuildPrompt in
// assemble.go is the only function here that returns messages.
package prompts
