package models

// Memory is the core domain entity: one unit of distilled knowledge
// harvested from past work, stored in SQLite.
type Memory struct {
	ID              string     `json:"id"`
	Content         string     `json:"content"`
	MemoryType      MemoryType `json:"memoryType"`
	Importance      Importance `json:"importance"`
	Source          Source     `json:"source"`
	SourceOutcomeID string     `json:"sourceOutcomeId,omitempty"`
	SourceTaskID    string     `json:"sourceTaskId,omitempty"`
	Tags            []string   `json:"tags"`
	Confidence      float64    `json:"confidence"`
	AccessCount     int        `json:"accessCount"`
	ContentHash     string     `json:"-"`
	Embedding       []byte     `json:"-"`
	EmbeddingDim    int        `json:"-"`
	CreatedAt       int64      `json:"createdAt"`
	UpdatedAt       int64      `json:"updatedAt"`
	LastAccessedAt  *int64     `json:"lastAccessedAt,omitempty"`
	ExpiresAt       *int64     `json:"expiresAt,omitempty"`
	SupersededBy    *string    `json:"supersededBy,omitempty"`
}

// HasEmbedding reports whether an embedding vector is stored for this memory.
func (m *Memory) HasEmbedding() bool {
	return len(m.Embedding) > 0
}

// Tag is a normalized label with a usage counter. The counter increments on
// link creation only; it is never decremented when a tagged memory is deleted
// (the counter reads as "times ever used").
type Tag struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MemoryCount int    `json:"memoryCount"`
	CreatedAt   int64  `json:"createdAt"`
}

// Association is a directed, typed, weighted edge from a memory to an
// outcome, task, or another memory. The same (memory, target) pair may be
// associated more than once with different context strings.
type Association struct {
	ID              string          `json:"id"`
	MemoryID        string          `json:"memoryId"`
	AssociationType AssociationType `json:"associationType"`
	TargetID        string          `json:"targetId"`
	Strength        float64         `json:"strength"`
	Context         string          `json:"context,omitempty"`
	CreatedAt       int64           `json:"createdAt"`
}

// RetrievalEntry is one row of the append-only retrieval feedback log:
// a (memory, query) pairing returned by a search. Only the usefulness flag
// is ever mutated after insert.
type RetrievalEntry struct {
	ID             string          `json:"id"`
	MemoryID       string          `json:"memoryId"`
	Method         RetrievalMethod `json:"method"`
	Query          string          `json:"query,omitempty"`
	RelevanceScore float64         `json:"relevanceScore"`
	OutcomeID      string          `json:"outcomeId,omitempty"`
	TaskID         string          `json:"taskId,omitempty"`
	WasUseful      *bool           `json:"wasUseful,omitempty"`
	CreatedAt      int64           `json:"createdAt"`
}

// RetrievalStats summarizes judged and unjudged retrievals of one memory.
// UsefulnessRatio excludes unknowns from the denominator and is 0 when no
// judged entries exist.
type RetrievalStats struct {
	Total           int     `json:"total"`
	Useful          int     `json:"useful"`
	NotUseful       int     `json:"notUseful"`
	Unknown         int     `json:"unknown"`
	UsefulnessRatio float64 `json:"usefulnessRatio"`
}
