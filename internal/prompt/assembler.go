package prompt

import (
	"fmt"
	"strings"

	"github.com/medical-control-plane/backend/internal/models"
)

const (
	highConfidence     = 0.8
	moderateConfidence = 0.5
)

type Role string

const (
	RoleStudent   Role = "student"
	RolePhysician Role = "physician"
)

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context is everything the assembler needs for one prompt. Sources are
// cited as [n] by their 1-based position and are never reordered.
type Context struct {
	RetrievedText string
	Sources       []models.MedicalSource
	Query         string
	History       []Turn
	Confidence    float64
	Role          Role
}

const highTemplate = `You are a clinical decision support assistant answering a healthcare professional.
The retrieved medical literature below is highly relevant to the question.

Instructions:
- Answer using only the retrieved literature.
- Cite every claim with its source number in square brackets, e.g. [1].
- Use the direct language of the guidelines when stating recommendations.
- If the literature only partially covers the question, state clearly what is not covered.`

const moderateTemplate = `You are a clinical decision support assistant answering a healthcare professional.
NOTE: The retrieved literature is only moderately relevant to this question. Confidence in the answer is moderate.

Instructions:
- Answer using only the retrieved literature.
- Cite every claim with its source number in square brackets, e.g. [1].
- Point out where the evidence is indirect or incomplete.
- Advise the user to verify the recommendations against current guidelines or a specialist before acting.`

const lowTemplate = `You are a clinical decision support assistant answering a healthcare professional.
WARNING: Little or no relevant medical literature was found for this question.

Instructions:
- State plainly that the available evidence is absent or limited.
- Offer only general clinical principles; do not give specific doses, thresholds or treatment plans.
- Do not present any statement as guideline-backed.
- Strongly recommend consulting current guidelines, institutional protocols or a specialist.`

const (
	studentInstruction   = "- The user is a medical student: explain concepts clearly and define technical terms."
	physicianInstruction = "- The user is a physician: include advanced nuances, contraindications and evidence levels where relevant."
)

// BuildPrompt renders the generation prompt for pc, picking the template by
// confidence: >= 0.8 high, [0.5, 0.8) moderate, < 0.5 low.
func BuildPrompt(pc Context) string {
	var b strings.Builder

	switch {
	case pc.Confidence >= highConfidence:
		b.WriteString(highTemplate)
		switch pc.Role {
		case RoleStudent:
			b.WriteString("\n" + studentInstruction)
		case RolePhysician:
			b.WriteString("\n" + physicianInstruction)
		}
	case pc.Confidence >= moderateConfidence:
		b.WriteString(moderateTemplate)
	default:
		b.WriteString(lowTemplate)
	}

	b.WriteString("\n\nSources:\n")
	if len(pc.Sources) == 0 {
		b.WriteString("(none)\n")
	} else {
		for i, src := range pc.Sources {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, describe(src))
		}
	}

	b.WriteString("\nRetrieved literature:\n")
	if strings.TrimSpace(pc.RetrievedText) == "" {
		b.WriteString("(no relevant passages were retrieved)\n")
	} else {
		b.WriteString(pc.RetrievedText)
		b.WriteString("\n")
	}

	if len(pc.History) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, turn := range pc.History {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n", pc.Query)

	return b.String()
}

// JoinChunks concatenates chunk texts, each prefixed by the citation number
// of its source in sources.
func JoinChunks(chunks []models.RetrievedChunk, sources []models.MedicalSource) string {
	index := make(map[string]int, len(sources))
	for i, src := range sources {
		if _, ok := index[src.ID]; !ok {
			index[src.ID] = i + 1
		}
	}

	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if n, ok := index[c.Metadata.SourceID]; ok {
			parts = append(parts, fmt.Sprintf("[%d] %s", n, c.Text))
		} else {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// FormatCitations renders the reference list using the same numbering as
// BuildPrompt.
func FormatCitations(sources []models.MedicalSource) string {
	if len(sources) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("References:\n")
	for i, src := range sources {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, describe(src))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Citations returns one rendered reference per source, in source order.
func Citations(sources []models.MedicalSource) []string {
	out := make([]string, len(sources))
	for i, src := range sources {
		out[i] = fmt.Sprintf("[%d] %s", i+1, describe(src))
	}
	return out
}

const (
	highDisclaimer     = "This answer is based on highly relevant, current medical literature. Always apply clinical judgment."
	moderateDisclaimer = "Caution: this answer is based on moderately relevant literature. Verify recommendations against current guidelines before clinical use."
	lowDisclaimer      = "⚠️ WARNING: Limited or no supporting evidence was found. Do not rely on this answer for clinical decisions; consult current guidelines or a specialist."
)

// Disclaimer returns the disclaimer text for a confidence value.
func Disclaimer(confidence float64) string {
	switch {
	case confidence >= highConfidence:
		return highDisclaimer
	case confidence >= moderateConfidence:
		return moderateDisclaimer
	default:
		return lowDisclaimer
	}
}

// AddConfidenceDisclaimer appends the disclaimer for confidence to text.
func AddConfidenceDisclaimer(text string, confidence float64) string {
	return strings.TrimRight(text, "\n") + "\n\n" + Disclaimer(confidence)
}

func describe(src models.MedicalSource) string {
	parts := []string{src.Title}
	if src.Organization != "" {
		parts = append(parts, src.Organization)
	} else if len(src.Authors) > 0 {
		authors := src.Authors[0]
		if len(src.Authors) > 1 {
			authors += " et al"
		}
		parts = append(parts, authors)
	}
	if src.Date != "" {
		parts = append(parts, src.Date)
	}

	out := strings.Join(parts, ". ")
	if src.URL != "" {
		out += ". " + src.URL
	}
	return out
}
