package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"teamshots/internal/domain"
)

// DefaultWorkflowVersion is stamped on generations enqueued without one.
const DefaultWorkflowVersion = "v2"

// Job is the wire shape of a queued headshot generation.
type Job struct {
	GenerationID  string               `json:"generationId"`
	PersonID      string               `json:"personId"`
	UserID        string               `json:"userId,omitempty"`
	TeamID        string               `json:"teamId,omitempty"`
	SelfieKeys    []string             `json:"selfieS3Keys"`
	StyleSettings domain.StyleSettings `json:"styleSettings"`
	PackageID     string               `json:"packageId,omitempty"`
	CreditSource  domain.CreditSource  `json:"creditSource"`
	Credits       int                  `json:"credits"`
}

// ErrInvalidJob wraps every validation failure.
var ErrInvalidJob = errors.New("invalid job")

// Validate normalizes the job in place and reports the first problem found.
func (j *Job) Validate() error {
	j.GenerationID = strings.TrimSpace(j.GenerationID)
	j.PersonID = strings.TrimSpace(j.PersonID)
	if _, err := uuid.Parse(j.GenerationID); err != nil {
		return fmt.Errorf("%w: generationId %q is not a uuid", ErrInvalidJob, j.GenerationID)
	}
	if j.PersonID == "" {
		return fmt.Errorf("%w: personId is required", ErrInvalidJob)
	}
	keys := make([]string, 0, len(j.SelfieKeys))
	for _, k := range j.SelfieKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	j.SelfieKeys = keys
	if len(j.SelfieKeys) == 0 {
		return fmt.Errorf("%w: at least one selfie key is required", ErrInvalidJob)
	}
	if j.Credits < 0 {
		return fmt.Errorf("%w: credits must not be negative", ErrInvalidJob)
	}
	switch j.CreditSource {
	case "":
		j.CreditSource = domain.CreditSourceIndividual
	case domain.CreditSourceIndividual:
	case domain.CreditSourceTeam:
		if strings.TrimSpace(j.TeamID) == "" {
			return fmt.Errorf("%w: team credit source needs a teamId", ErrInvalidJob)
		}
	default:
		return fmt.Errorf("%w: unknown credit source %q", ErrInvalidJob, j.CreditSource)
	}
	return nil
}

// DecodeJob parses and validates a message body.
func DecodeJob(raw []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}

// Generation converts the job into a fresh queued record.
func (j Job) Generation() domain.Generation {
	return domain.Generation{
		ID:              j.GenerationID,
		PersonID:        j.PersonID,
		UserID:          j.UserID,
		TeamID:          j.TeamID,
		Status:          domain.GenerationStatusQueued,
		CreditSource:    j.CreditSource,
		CreditCost:      j.Credits,
		SelfieKeys:      append([]string(nil), j.SelfieKeys...),
		Style:           j.StyleSettings,
		PackageID:       j.PackageID,
		WorkflowVersion: DefaultWorkflowVersion,
	}
}

// JobFromGeneration rebuilds the wire job for a stored record.
func JobFromGeneration(g domain.Generation) Job {
	return Job{
		GenerationID:  g.ID,
		PersonID:      g.PersonID,
		UserID:        g.UserID,
		TeamID:        g.TeamID,
		SelfieKeys:    append([]string(nil), g.SelfieKeys...),
		StyleSettings: g.Style,
		PackageID:     g.PackageID,
		CreditSource:  g.CreditSource,
		Credits:       g.CreditCost,
	}
}
