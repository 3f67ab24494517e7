package models

// MemoryType classifies what kind of knowledge a memory represents.
type MemoryType string

const (
	MemoryTypeFact       MemoryType = "fact"
	MemoryTypePattern    MemoryType = "pattern"
	MemoryTypePreference MemoryType = "preference"
	MemoryTypeDecision   MemoryType = "decision"
	MemoryTypeLesson     MemoryType = "lesson"
	MemoryTypeContext    MemoryType = "context"
)

var ValidMemoryTypes = map[MemoryType]bool{
	MemoryTypeFact:       true,
	MemoryTypePattern:    true,
	MemoryTypePreference: true,
	MemoryTypeDecision:   true,
	MemoryTypeLesson:     true,
	MemoryTypeContext:    true,
}

func (t MemoryType) IsValid() bool {
	return ValidMemoryTypes[t]
}

// Importance ranks how much weight a memory carries in listings.
type Importance string

const (
	ImportanceLow      Importance = "low"
	ImportanceMedium   Importance = "medium"
	ImportanceHigh     Importance = "high"
	ImportanceCritical Importance = "critical"
)

// ImportanceRank maps each importance level to a sortable weight.
var ImportanceRank = map[Importance]int{
	ImportanceLow:      0,
	ImportanceMedium:   1,
	ImportanceHigh:     2,
	ImportanceCritical: 3,
}

func (i Importance) IsValid() bool {
	_, ok := ImportanceRank[i]
	return ok
}

// Source records who produced a memory.
type Source string

const (
	SourceSystem Source = "system"
	SourceWorker Source = "worker"
	SourceHuman  Source = "human"
)

func (s Source) IsValid() bool {
	return s == SourceSystem || s == SourceWorker || s == SourceHuman
}

// Strategy selects how a search is executed.
type Strategy string

const (
	StrategyLexical  Strategy = "lexical"
	StrategyVector   Strategy = "vector"
	StrategyHybrid   Strategy = "hybrid"
	StrategyExpanded Strategy = "expanded"
)

func (s Strategy) IsValid() bool {
	switch s {
	case StrategyLexical, StrategyVector, StrategyHybrid, StrategyExpanded:
		return true
	}
	return false
}

// RetrievalMethod records how a memory was reached in the feedback log.
type RetrievalMethod string

const (
	MethodSemantic    RetrievalMethod = "semantic"
	MethodTag         RetrievalMethod = "tag"
	MethodAssociation RetrievalMethod = "association"
	MethodRecency     RetrievalMethod = "recency"
	MethodExplicit    RetrievalMethod = "explicit"
)

// AssociationType names the kind of target an association points at.
type AssociationType string

const (
	AssocRelevantToOutcome AssociationType = "relevant_to_outcome"
	AssocRelevantToTask    AssociationType = "relevant_to_task"
	AssocRelatedToMemory   AssociationType = "related_to_memory"
)

func (t AssociationType) IsValid() bool {
	switch t {
	case AssocRelevantToOutcome, AssocRelevantToTask, AssocRelatedToMemory:
		return true
	}
	return false
}

// ExpansionType labels where an expanded query variant came from.
type ExpansionType string

const (
	ExpansionOriginal  ExpansionType = "original"
	ExpansionSynonym   ExpansionType = "synonym"
	ExpansionRelated   ExpansionType = "related"
	ExpansionRephrase  ExpansionType = "rephrase"
	ExpansionTechnical ExpansionType = "technical"
)

// ExpandedQuery is one query variant produced by query expansion. The
// original query is always the first entry of any expansion set.
type ExpandedQuery struct {
	Query         string        `json:"query"`
	ExpansionType ExpansionType `json:"expansionType"`
}

// StoreRequest is the payload for storing a new memory.
type StoreRequest struct {
	Content         string     `json:"content"`
	MemoryType      MemoryType `json:"memoryType"`
	Importance      Importance `json:"importance"`
	Source          Source     `json:"source"`
	SourceOutcomeID string     `json:"sourceOutcomeId,omitempty"`
	SourceTaskID    string     `json:"sourceTaskId,omitempty"`
	Tags            []string   `json:"tags"`
	Confidence      *float64   `json:"confidence,omitempty"`
	ExpiresAt       *int64     `json:"expiresAt,omitempty"`
}

// StoreResult is returned from a store operation. Warnings carry degraded
// dependency notices (e.g. embedding service down); the write itself
// succeeded whenever error is nil.
type StoreResult struct {
	Memory            *Memory  `json:"memory"`
	Deduplicated      bool     `json:"deduplicated"`
	NearDuplicateID   string   `json:"nearDuplicateId,omitempty"`
	NearDupSimilarity float64  `json:"nearDupSimilarity,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
}

// UpdateRequest applies partial updates to a memory.
type UpdateRequest struct {
	Content    *string     `json:"content,omitempty"`
	MemoryType *MemoryType `json:"memoryType,omitempty"`
	Importance *Importance `json:"importance,omitempty"`
	Confidence *float64    `json:"confidence,omitempty"`
	ExpiresAt  *int64      `json:"expiresAt,omitempty"`
}

// SearchRequest is the payload for a search across strategies.
type SearchRequest struct {
	Query      string       `json:"query"`
	Strategy   Strategy     `json:"strategy"`
	Limit      int          `json:"limit"`
	MinScore   float64      `json:"minScore"` // 0 means the configured default
	MemoryType MemoryType   `json:"memoryType,omitempty"`
	Importance Importance   `json:"importance,omitempty"`
	Tags       []string     `json:"tags,omitempty"` // all must be present
	OutcomeID  string       `json:"outcomeId,omitempty"`
	TaskID     string       `json:"taskId,omitempty"`
}

// SearchResult is a single scored search hit.
type SearchResult struct {
	Memory        *Memory       `json:"memory"`
	Score         float64       `json:"score"`
	FoundBy       []string      `json:"foundBy,omitempty"` // subset of {"lexical","vector"}
	Snippet       string        `json:"snippet,omitempty"`
	SourceQuery   string        `json:"sourceQuery,omitempty"`
	ExpansionType ExpansionType `json:"expansionType,omitempty"`
	RetrievalID   string        `json:"retrievalId,omitempty"`
}

// SearchResponse is returned from a search.
type SearchResponse struct {
	Results          []SearchResult `json:"results"`
	Strategy         Strategy       `json:"strategy"`
	TotalFound       int            `json:"totalFound"`
	RetrievalIDs     []string       `json:"retrievalIds"`
	VectorSearchUsed bool           `json:"vectorSearchUsed"`
	Warnings         []string       `json:"warnings,omitempty"`
}

// KeywordQuery composes a lexical query from the four supported primitives:
// AND-by-default terms, a quoted exact phrase, an OR term set, and
// NOT-excluded terms.
type KeywordQuery struct {
	All     []string `json:"all,omitempty"`
	Any     []string `json:"any,omitempty"`
	Phrase  string   `json:"phrase,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// AssociateRequest creates an association from a memory to a target.
type AssociateRequest struct {
	AssociationType AssociationType `json:"associationType"`
	TargetID        string          `json:"targetId"`
	Strength        *float64        `json:"strength,omitempty"`
	Context         string          `json:"context,omitempty"`
}

// BackfillResult reports an embedding backfill run. Failed batches are
// counted and skipped; they never abort the run.
type BackfillResult struct {
	Scanned       int `json:"scanned"`
	Embedded      int `json:"embedded"`
	FailedBatches int `json:"failedBatches"`
}

// SystemStats is the system-wide counters snapshot.
type SystemStats struct {
	TotalMemories  int            `json:"totalMemories"`
	ActiveMemories int            `json:"activeMemories"`
	WithEmbedding  int            `json:"withEmbedding"`
	ByType         map[string]int `json:"byType"`
	ByImportance   map[string]int `json:"byImportance"`
	Associations   int            `json:"associations"`
	Retrievals     int            `json:"retrievals"`
	Tags           int            `json:"tags"`
}

// ServiceCheck reports one dependency's health.
type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status      string       `json:"status"`
	DB          ServiceCheck `json:"db"`
	Embedding   ServiceCheck `json:"embedding"`
	Completion  ServiceCheck `json:"completion"`
	MemoryCount int          `json:"memoryCount"`
}
