package lifecycle

import (
	"encoding/json"

	"github.com/teranos/staffsync/errors"
)

// CreateFromCandidatePayload carries the HR candidate data needed to
// provision a directory principal ahead of the join date. CorrelationID is
// the candidate id and is mandatory: dedup and cooldown key on it.
type CreateFromCandidatePayload struct {
	CorrelationID string `json:"correlationId"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Email         string `json:"email,omitempty"`
	BusinessID    string `json:"businessId,omitempty"`
	JoinDate      string `json:"joinDate,omitempty"`
	EmployeeType  string `json:"employeeType,omitempty"`
	Domain        string `json:"domain,omitempty"`
}

// Validate checks the fields required before scheduling.
func (p *CreateFromCandidatePayload) Validate() error {
	if p.CorrelationID == "" {
		return errors.NewInvalidRequestError("correlationId is required")
	}
	if p.FirstName == "" || p.LastName == "" {
		return errors.NewInvalidRequestError("firstName and lastName are required")
	}
	return nil
}

// OffboardPayload identifies the principal to disable or delete. At least
// one of BusinessID, Email or PrincipalHint must be set; the handler tries
// them in that order.
type OffboardPayload struct {
	CorrelationID string `json:"correlationId"`
	BusinessID    string `json:"businessId,omitempty"`
	Email         string `json:"email,omitempty"`
	PrincipalHint string `json:"principalHint,omitempty"`
}

// Validate checks the fields required before scheduling.
func (p *OffboardPayload) Validate() error {
	if p.CorrelationID == "" {
		return errors.NewInvalidRequestError("correlationId is required")
	}
	if p.BusinessID == "" && p.Email == "" && p.PrincipalHint == "" {
		return errors.NewInvalidRequestError("at least one of businessId, email or principalHint is required")
	}
	return nil
}

func mustMarshal(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		// Payload structs contain only strings; marshalling cannot fail.
		panic(err)
	}
	return raw
}
