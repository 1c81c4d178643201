package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pairreview/pairreview/internal/store"
)

// outputContract is appended to every prompt so providers emit the streaming
// JSON event protocol the parser understands
const outputContract = `## Output format

Emit your findings as a stream of JSON objects, one per line. Use these shapes:

{"kind":"file_start","file":"<path>"}
{"kind":"suggestion","file":"<path>","type":"<bug|security|performance|style|suggestion>","title":"<short>","description":"<detail>","line_start":<n>,"line_end":<n>,"old_or_new":"NEW","confidence":<0..1>}
{"kind":"file_end"}
{"kind":"summary","text":"<one-paragraph overall assessment>"}

For a file-level finding, omit line_start/line_end. Use "old_or_new":"OLD" only
when the finding is about removed lines. Emit the summary object last, at most
once. Emit nothing except these JSON objects.`

// levelFocus describes what each analysis level concentrates on
var levelFocus = map[int]string{
	1: "correctness: bugs, logic errors, broken edge cases, and security problems introduced by this change",
	2: "design: API shape, error handling, concurrency, and maintainability of the changed code",
	3: "polish: naming, readability, documentation, and consistency with the surrounding code",
}

// ReviewPrompt composes the per-voice analysis prompt
func ReviewPrompt(diff string, level int, custom, repo, request, priorDigest string) string {
	var sb strings.Builder

	sb.WriteString("You are reviewing a code change. Analyze the diff below and report concrete, actionable findings.\n\n")

	if focus, ok := levelFocus[level]; ok {
		fmt.Fprintf(&sb, "Focus this pass on %s.\n\n", focus)
	}

	writeInstructionBlock(&sb, "Repository instructions", repo)
	writeInstructionBlock(&sb, "Reviewer instructions", custom)
	writeInstructionBlock(&sb, "Request instructions", request)

	if priorDigest != "" {
		sb.WriteString("## Findings from earlier passes\n\n")
		sb.WriteString("Do not repeat these; build on them or go deeper.\n\n")
		sb.WriteString(priorDigest)
		sb.WriteString("\n\n")
	}

	sb.WriteString(outputContract)
	sb.WriteString("\n\n## Diff\n\n```diff\n")
	sb.WriteString(diff)
	sb.WriteString("\n```\n")
	return sb.String()
}

// AggregationPrompt composes the orchestration prompt that merges raw
// per-voice suggestions into the final set
func AggregationPrompt(diff string, raw []store.SuggestionInput, voiceSummaries []string) string {
	var sb strings.Builder

	sb.WriteString("You are the orchestrator of a multi-reviewer code review. ")
	sb.WriteString("Several reviewers analyzed the same diff independently; their raw findings are below. ")
	sb.WriteString("Merge them into one final set: de-duplicate overlapping findings, drop false positives, ")
	sb.WriteString("keep the strongest phrasing, and rank by severity.\n\n")

	sb.WriteString("## Raw findings\n\n```json\n")
	enc, err := json.MarshalIndent(raw, "", "  ")
	if err == nil {
		sb.Write(enc)
	}
	sb.WriteString("\n```\n\n")

	if len(voiceSummaries) > 0 {
		sb.WriteString("## Reviewer summaries\n\n")
		for _, s := range voiceSummaries {
			if s == "" {
				continue
			}
			sb.WriteString("- " + s + "\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString(outputContract)
	sb.WriteString("\n\n## Diff\n\n```diff\n")
	sb.WriteString(diff)
	sb.WriteString("\n```\n")
	return sb.String()
}

// SuggestionDigest renders earlier-level findings compactly for inclusion in
// a later level's prompt
func SuggestionDigest(suggestions []store.SuggestionInput) string {
	if len(suggestions) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, s := range suggestions {
		line := ""
		if s.LineStart != nil {
			line = fmt.Sprintf(":%d", *s.LineStart)
		}
		fmt.Fprintf(&sb, "- [%s] %s%s - %s\n", s.Type, s.File, line, s.Title)
	}
	return sb.String()
}

func writeInstructionBlock(sb *strings.Builder, heading, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	sb.WriteString("## " + heading + "\n\n")
	sb.WriteString(text)
	sb.WriteString("\n\n")
}
