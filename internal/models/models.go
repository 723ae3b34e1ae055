package models

import "time"

type SourceType string

const (
	SourceProtocol        SourceType = "protocol"
	SourceGuideline       SourceType = "guideline"
	SourceDrugInfo        SourceType = "drug_info"
	SourceClinicalPathway SourceType = "clinical_pathway"
	SourceReference       SourceType = "reference"
	SourceTextbook        SourceType = "textbook"
	SourceJournal         SourceType = "journal"
)

func (t SourceType) Valid() bool {
	switch t {
	case SourceProtocol, SourceGuideline, SourceDrugInfo, SourceClinicalPathway,
		SourceReference, SourceTextbook, SourceJournal:
		return true
	}
	return false
}

type EvidenceLevel string

const (
	EvidenceA             EvidenceLevel = "A"
	EvidenceB             EvidenceLevel = "B"
	EvidenceC             EvidenceLevel = "C"
	EvidenceExpertOpinion EvidenceLevel = "expert_opinion"
)

// MedicalSource is a citable document. Immutable once created.
type MedicalSource struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Type          SourceType    `json:"type"`
	Organization  string        `json:"organization,omitempty"`
	Authors       []string      `json:"authors,omitempty"`
	Date          string        `json:"date,omitempty"`
	URL           string        `json:"url,omitempty"`
	EvidenceLevel EvidenceLevel `json:"evidence_level,omitempty"`
	Authoritative bool          `json:"authoritative,omitempty"`
	Specialty     string        `json:"specialty,omitempty"`
	Tags          []string      `json:"tags,omitempty"`
}

// ChunkMetadata is the source's bibliographic data denormalized onto each chunk.
type ChunkMetadata struct {
	SourceID      string        `json:"source_id"`
	Title         string        `json:"title"`
	Type          SourceType    `json:"type"`
	Organization  string        `json:"organization,omitempty"`
	Authors       []string      `json:"authors,omitempty"`
	Date          string        `json:"date,omitempty"`
	URL           string        `json:"url,omitempty"`
	EvidenceLevel EvidenceLevel `json:"evidence_level,omitempty"`
	Authoritative bool          `json:"authoritative,omitempty"`
	Specialty     string        `json:"specialty,omitempty"`
	Tags          []string      `json:"tags,omitempty"`
	ChunkIndex    int           `json:"chunk_index"`
	TotalChunks   int           `json:"total_chunks"`
}

func (s MedicalSource) ChunkMetadata(chunkIndex int) ChunkMetadata {
	return ChunkMetadata{
		SourceID:      s.ID,
		Title:         s.Title,
		Type:          s.Type,
		Organization:  s.Organization,
		Authors:       s.Authors,
		Date:          s.Date,
		URL:           s.URL,
		EvidenceLevel: s.EvidenceLevel,
		Authoritative: s.Authoritative,
		Specialty:     s.Specialty,
		Tags:          s.Tags,
		ChunkIndex:    chunkIndex,
	}
}

// Source rebuilds the bibliographic record carried by a chunk.
func (m ChunkMetadata) Source() MedicalSource {
	return MedicalSource{
		ID:            m.SourceID,
		Title:         m.Title,
		Type:          m.Type,
		Organization:  m.Organization,
		Authors:       m.Authors,
		Date:          m.Date,
		URL:           m.URL,
		EvidenceLevel: m.EvidenceLevel,
		Authoritative: m.Authoritative,
		Specialty:     m.Specialty,
		Tags:          m.Tags,
	}
}

type DocumentChunk struct {
	ID         string        `json:"id"`
	Text       string        `json:"text"`
	StartPos   int           `json:"start_pos"`
	EndPos     int           `json:"end_pos"`
	ChunkIndex int           `json:"chunk_index"`
	TokenCount int           `json:"token_count"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// RetrievedChunk is a chunk returned by similarity search for one query.
type RetrievedChunk struct {
	DocumentChunk
	Score     float64   `json:"score"`
	Embedding []float32 `json:"embedding,omitempty"`
}

type RAGContext struct {
	Chunks         []RetrievedChunk `json:"chunks"`
	Sources        []MedicalSource  `json:"sources"`
	Confidence     float64          `json:"confidence"`
	Query          string           `json:"query"`
	Timestamp      time.Time        `json:"timestamp"`
	TotalRetrieved int              `json:"total_retrieved"`
	LatencyMs      int64            `json:"latency_ms"`
}

type ConfidenceLevel string

const (
	ConfidenceHigh     ConfidenceLevel = "high"
	ConfidenceModerate ConfidenceLevel = "moderate"
	ConfidenceLow      ConfidenceLevel = "low"
	ConfidenceVeryLow  ConfidenceLevel = "very-low"
)

type ConfidenceScore struct {
	Score              float64         `json:"score"`
	Level              ConfidenceLevel `json:"level"`
	RequiresDisclaimer bool            `json:"requires_disclaimer"`
	SuggestedActions   []string        `json:"suggested_actions"`
	Explanation        string          `json:"explanation"`
}

type Intent string

const (
	IntentGeneralQuery     Intent = "general_query"
	IntentClinicalTool     Intent = "clinical_tool"
	IntentEmergency        Intent = "emergency"
	IntentAdministrative   Intent = "administrative"
	IntentMedicalReference Intent = "medical_reference"
)

func (i Intent) Valid() bool {
	switch i {
	case IntentGeneralQuery, IntentClinicalTool, IntentEmergency, IntentAdministrative, IntentMedicalReference:
		return true
	}
	return false
}

type ClassificationMethod string

const (
	MethodKeyword ClassificationMethod = "keyword"
	MethodNLU     ClassificationMethod = "nlu"
	MethodLLM     ClassificationMethod = "llm"
)

type EmergencySeverity string

const (
	SeverityCritical EmergencySeverity = "critical"
	SeverityUrgent   EmergencySeverity = "urgent"
	SeverityModerate EmergencySeverity = "moderate"
)

// Rank orders severities: critical > urgent > moderate > none.
func (s EmergencySeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityUrgent:
		return 2
	case SeverityModerate:
		return 1
	}
	return 0
}

type AlternativeIntent struct {
	Intent     Intent  `json:"intent"`
	ToolID     string  `json:"tool_id,omitempty"`
	Confidence float64 `json:"confidence"`
}

type IntentClassification struct {
	PrimaryIntent       Intent                 `json:"primary_intent"`
	ToolID              string                 `json:"tool_id,omitempty"`
	Confidence          float64                `json:"confidence"`
	Method              ClassificationMethod   `json:"method"`
	ModelVersion        string                 `json:"model_version,omitempty"`
	ExtractedParameters map[string]interface{} `json:"extracted_parameters"`
	IsEmergency         bool                   `json:"is_emergency"`
	EmergencyKeywords   []string               `json:"emergency_keywords"`
	EmergencySeverity   EmergencySeverity      `json:"emergency_severity,omitempty"`
	MatchedPatterns     []string               `json:"matched_patterns"`
	AlternativeIntents  []AlternativeIntent    `json:"alternative_intents,omitempty"`
	ClassifiedAt        time.Time              `json:"classified_at"`
}

type ParameterType string

const (
	ParamNumber  ParameterType = "number"
	ParamString  ParameterType = "string"
	ParamBoolean ParameterType = "boolean"
	ParamEnum    ParameterType = "enum"
)

type ToolParameter struct {
	Name        string        `json:"name"`
	Type        ParameterType `json:"type"`
	Description string        `json:"description"`
	Unit        string        `json:"unit,omitempty"`
	Required    bool          `json:"required"`
	Min         *float64      `json:"min,omitempty"`
	Max         *float64      `json:"max,omitempty"`
	Options     []string      `json:"options,omitempty"`
}

type ToolMetadata struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Category           string   `json:"category"`
	Version            string   `json:"version"`
	RequiredPermission string   `json:"required_permission"`
	Keywords           []string `json:"keywords,omitempty"`
}

type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type ToolExecutionResult struct {
	ToolID         string                 `json:"tool_id"`
	Success        bool                   `json:"success"`
	Data           map[string]interface{} `json:"data,omitempty"`
	Interpretation string                 `json:"interpretation,omitempty"`
	Citations      []string               `json:"citations,omitempty"`
	Warnings       []string               `json:"warnings,omitempty"`
	Errors         []string               `json:"errors,omitempty"`
	Disclaimer     string                 `json:"disclaimer,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// SearchFilter narrows vector search by chunk metadata. Empty fields match all.
type SearchFilter struct {
	DocumentType SourceType `json:"document_type,omitempty"`
	Specialty    string     `json:"specialty,omitempty"`
}
