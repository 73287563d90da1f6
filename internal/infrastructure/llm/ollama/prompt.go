package ollama

import "strings"

func buildInstructionPrompt(utterance string, vocabulary []string) string {
	var b strings.Builder
	b.WriteString(`You are a device-control instruction parser.
Return a strict JSON object describing the requested command.
Use a "name" key for the command and additional keys for its parameters.
Numbers must be JSON numbers, not strings. No markdown, no extra keys.

`)
	if len(vocabulary) > 0 {
		b.WriteString("Known commands for this device:\n")
		for _, known := range vocabulary {
			b.WriteString("- ")
			b.WriteString(known)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("User request:\n")
	b.WriteString(utterance)
	return b.String()
}
