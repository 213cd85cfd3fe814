package llm

import (
	"fmt"
	"strings"
)

// RenderPrompt turns a PromptContext into the instruction text sent to a
// networked provider. Pure function: the same context always renders the
// same string.
func RenderPrompt(pc PromptContext) string {
	var b strings.Builder

	b.WriteString("You are an expert medical AI assistant. Analyze the following patient case and provide a differential diagnosis.\n\n")
	b.WriteString("PATIENT INFORMATION:\n")
	fmt.Fprintf(&b, "Complaints: %s\n", strings.Join(pc.Complaints, ", "))
	fmt.Fprintf(&b, "Symptoms: %s\n", strings.Join(pc.Symptoms, ", "))

	for _, v := range pc.Vitals {
		fmt.Fprintf(&b, "Vital %s: %s\n", v.Name, v.Value)
	}
	if pc.History != "" {
		fmt.Fprintf(&b, "Medical History: %s\n", pc.History)
	}

	if len(pc.Cases) > 0 {
		b.WriteString("\nSIMILAR CASES FROM DATABASE:\n")
		for i, c := range pc.Cases {
			fmt.Fprintf(&b, "%d. Case %s: %s (similarity %.1f%%)\n", i+1, c.ID, c.Diagnosis, c.Similarity)
			if len(c.Symptoms) > 0 {
				fmt.Fprintf(&b, "   Symptoms: %s\n", strings.Join(c.Symptoms, ", "))
			}
			if c.Outcome != "" {
				fmt.Fprintf(&b, "   Outcome: %s\n", c.Outcome)
			}
		}
	}

	if len(pc.Facts) > 0 {
		b.WriteString("\nRELEVANT MEDICAL KNOWLEDGE:\n")
		for _, f := range pc.Facts {
			fmt.Fprintf(&b, "- %s %s %s\n", f.Subject, f.Predicate, f.Object)
		}
	}

	fmt.Fprintf(&b, `
INSTRUCTIONS:
1. Provide a differential diagnosis with the top %d most likely conditions.
2. For each condition include: name, confidence score (0-100), description, and ICD-10 code if known.
3. Recommend specific diagnostic actions with priority levels and categories.
4. Suggest follow-up questions to gather more information.
5. Respond with JSON only, using keys differential_diagnosis, recommended_actions and follow_up_questions.
`, pc.TopK)

	return b.String()
}
