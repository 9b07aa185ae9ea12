package db

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

const (
	KindIntent = "intent"
	KindWish   = "wish"

	StatusDraft       = "draft"
	StatusPublished   = "published"
	StatusUnpublished = "unpublished"

	MatchStatusNew  = "new"
	MatchStatusVoid = "void"
)

// Intent maps intents. Wishes share the table and differ by kind.
type Intent struct {
	ID           string `gorm:"column:intent_id;type:text;primaryKey"`
	Kind         string `gorm:"column:kind;type:text;not null;default:intent"`
	OwnerID      string `gorm:"column:owner_id;type:text;not null"`
	RawText      string `gorm:"column:raw_text;type:text;not null;default:''"`
	DeclaredLang string `gorm:"column:declared_lang;type:text;not null;default:''"`
	Status       string `gorm:"column:status;type:text;not null;default:draft"`

	NormalizedLang        string     `gorm:"column:normalized_lang;type:text;not null;default:''"`
	NormalizedText        string     `gorm:"column:normalized_text;type:text;not null;default:''"`
	DetectedLang          string     `gorm:"column:detected_lang;type:text;not null;default:''"`
	Translated            bool       `gorm:"column:translated;type:boolean;not null;default:false"`
	TranslationProvider   string     `gorm:"column:translation_provider;type:text;not null;default:''"`
	TranslationMs         int64      `gorm:"column:translation_ms;type:bigint;not null;default:0"`
	NormalizedFingerprint string     `gorm:"column:normalized_fingerprint;type:text;not null;default:''"`
	NormalizedAt          *time.Time `gorm:"column:normalized_at;type:timestamptz"`

	Embedding            *pgvector.Vector `gorm:"column:embedding;type:vector"`
	EmbeddingDim         int              `gorm:"column:embedding_dim;type:integer;not null;default:0"`
	EmbeddingModel       string           `gorm:"column:embedding_model;type:text;not null;default:''"`
	EmbeddingProvider    string           `gorm:"column:embedding_provider;type:text;not null;default:''"`
	EmbeddingFingerprint string           `gorm:"column:embedding_fingerprint;type:text;not null;default:''"`
	EmbeddedAt           *time.Time       `gorm:"column:embedded_at;type:timestamptz"`

	Processed     bool       `gorm:"column:processed;type:boolean;not null;default:false"`
	ProcessedAt   *time.Time `gorm:"column:processed_at;type:timestamptz"`
	MatchCount    int        `gorm:"column:match_count;type:integer;not null;default:0"`
	WorkerVersion string     `gorm:"column:worker_version;type:text;not null;default:''"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Intent) TableName() string { return "intents" }

// EmbeddingVector returns the cached vector or nil.
func (i Intent) EmbeddingVector() []float32 {
	if i.Embedding == nil {
		return nil
	}
	return i.Embedding.Slice()
}

// Match maps matches. The pair key is the primary key, so a pairing can be
// created at most once and retraction only ever flips its status.
type Match struct {
	PairKey     string  `gorm:"column:pair_key;type:text;primaryKey"`
	IntentA     string  `gorm:"column:intent_a;type:text;not null"`
	IntentB     string  `gorm:"column:intent_b;type:text;not null"`
	OwnerA      string  `gorm:"column:owner_a;type:text;not null"`
	OwnerB      string  `gorm:"column:owner_b;type:text;not null"`
	TextA       string  `gorm:"column:text_a;type:text;not null;default:''"`
	TextB       string  `gorm:"column:text_b;type:text;not null;default:''"`
	Score       float64 `gorm:"column:score;type:double precision;not null"`
	Confidence  float64 `gorm:"column:confidence;type:double precision;not null;default:0"`
	MatchType   string  `gorm:"column:match_type;type:text;not null"`
	Category    string  `gorm:"column:category;type:text;not null;default:general"`
	Label       string  `gorm:"column:label;type:text;not null;default:magic"`
	MatchedText string  `gorm:"column:matched_text;type:text;not null;default:''"`
	Source      string  `gorm:"column:source;type:text;not null;default:intent"`
	Status      string  `gorm:"column:status;type:text;not null;default:new"`

	DeliveredTo []string   `gorm:"column:delivered_to;type:text[];not null;default:'{}'"`
	DeliveredAt *time.Time `gorm:"column:delivered_at;type:timestamptz"`

	ClosedReason  string     `gorm:"column:closed_reason;type:text;not null;default:''"`
	ClosedBySide  string     `gorm:"column:closed_by_side;type:text;not null;default:''"`
	ClosedByOwner string     `gorm:"column:closed_by_owner;type:text;not null;default:''"`
	ArchivedAt    *time.Time `gorm:"column:archived_at;type:timestamptz"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Match) TableName() string { return "matches" }

func autoMigrateModels() []any {
	return []any{
		&Intent{},
		&Match{},
	}
}
