package domain

import "time"

// GenerationStatus enumerates the job record lifecycle reported back to the queue.
type GenerationStatus string

const (
	GenerationStatusQueued    GenerationStatus = "queued"
	GenerationStatusRunning   GenerationStatus = "running"
	GenerationStatusCompleted GenerationStatus = "completed"
	GenerationStatusFailed    GenerationStatus = "failed"
	GenerationStatusCancelled GenerationStatus = "cancelled"
)

// Terminal reports whether no further processing happens for the status.
func (s GenerationStatus) Terminal() bool {
	switch s {
	case GenerationStatusCompleted, GenerationStatusFailed, GenerationStatusCancelled:
		return true
	default:
		return false
	}
}

// CreditSource names whose balance pays for a generation.
type CreditSource string

const (
	CreditSourceIndividual CreditSource = "individual"
	CreditSourceTeam       CreditSource = "team"
)

// Generation is the persisted job record for one headshot run.
type Generation struct {
	ID                 string
	PersonID           string
	UserID             string
	TeamID             string
	Status             GenerationStatus
	CreditSource       CreditSource
	CreditCost         int
	SelfieKeys         []string
	Style              StyleSettings
	PackageID          string
	WorkflowVersion    string
	Attempts           int
	Progress           string
	FinalImageKey      string
	FailureReason      string
	Feedback           []EvaluationFeedback
	CancelRequested    bool
	DebitTransactionID string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Owner resolves the ledger owner charged for the generation.
func (g Generation) Owner() CreditOwner {
	if g.CreditSource == CreditSourceTeam && g.TeamID != "" {
		return CreditOwner{PersonID: g.PersonID, TeamID: g.TeamID, UserID: g.UserID}
	}
	return CreditOwner{PersonID: g.PersonID, UserID: g.UserID}
}

// WorkflowOptions carries per-run switches that do not belong to the style.
type WorkflowOptions struct {
	WorkflowVersion string
}

// SelfieImage is a downloaded selfie or asset buffer.
type SelfieImage struct {
	Key      string
	MimeType string
	Data     []byte
}

// GenerationContext is the read-only bundle a run works from. Build it with
// NewGenerationContext so the maps are not shared with the caller.
type GenerationContext struct {
	GenerationID string
	PersonID     string
	UserID       string
	TeamID       string
	Style        StyleSettings
	SelfieKeys   []string
	Selfies      map[string]SelfieImage
	SelfieTypes  map[string]SelfieType
	Options      WorkflowOptions
}

// NewGenerationContext copies the supplied collections into a fresh context.
func NewGenerationContext(g Generation, selfies map[string]SelfieImage, types map[string]SelfieType) GenerationContext {
	keys := append([]string(nil), g.SelfieKeys...)
	selfieCopy := make(map[string]SelfieImage, len(selfies))
	for k, v := range selfies {
		selfieCopy[k] = v
	}
	var typeCopy map[string]SelfieType
	if len(types) > 0 {
		typeCopy = make(map[string]SelfieType, len(types))
		for k, v := range types {
			typeCopy[k] = v
		}
	}
	return GenerationContext{
		GenerationID: g.ID,
		PersonID:     g.PersonID,
		UserID:       g.UserID,
		TeamID:       g.TeamID,
		Style:        g.Style,
		SelfieKeys:   keys,
		Selfies:      selfieCopy,
		SelfieTypes:  typeCopy,
		Options:      WorkflowOptions{WorkflowVersion: g.WorkflowVersion},
	}
}
