package record

import "time"

// Record is an immutable clinical note for a pet visit. Corrections are
// appended as addenda.
type Record struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	PetID         string         `json:"pet_id"`
	AppointmentID string         `json:"appointment_id,omitempty"`
	VetID         string         `json:"vet_id"`
	VisitedAt     time.Time      `json:"visited_at"`
	Complaint     string         `json:"complaint,omitempty"`
	Diagnosis     string         `json:"diagnosis"`
	Treatment     string         `json:"treatment,omitempty"`
	WeightKg      float64        `json:"weight_kg,omitempty"`
	Prescriptions []Prescription `json:"prescriptions,omitempty"`
	Addenda       []Addendum     `json:"addenda,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Prescription is a medication issued with a record.
type Prescription struct {
	Drug      string `json:"drug"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency,omitempty"`
	Days      int    `json:"days"`
}

// Addendum is a later note attached to a record.
type Addendum struct {
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
