package records

import (
	"context"
	"strings"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/domain/customer"
	"github.com/R3E-Network/vetclinic/internal/app/domain/record"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/services/storeerr"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

const maxTextLength = 4000

// Service manages medical records. Records are append-only.
type Service struct {
	records      storage.RecordStore
	customers    storage.CustomerStore
	appointments storage.AppointmentStore
	log          *logger.Logger
	now          func() time.Time
}

// New creates a records service.
func New(records storage.RecordStore, customers storage.CustomerStore, appointments storage.AppointmentStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("records")
	}
	return &Service{records: records, customers: customers, appointments: appointments, log: log, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Input is a new clinical note.
type Input struct {
	PetID         string                `json:"pet_id"`
	AppointmentID string                `json:"appointment_id,omitempty"`
	VisitedAt     time.Time             `json:"visited_at,omitempty"`
	Complaint     string                `json:"complaint,omitempty"`
	Diagnosis     string                `json:"diagnosis"`
	Treatment     string                `json:"treatment,omitempty"`
	WeightKg      float64               `json:"weight_kg,omitempty"`
	Prescriptions []record.Prescription `json:"prescriptions,omitempty"`
}

// Create writes a record. Only veterinarians and clinic managers can.
func (s *Service) Create(ctx context.Context, actor auth.Actor, in Input) (record.Record, error) {
	if err := auth.RequireRole(actor, tenant.RoleVeterinarian, tenant.RoleAdmin, tenant.RoleOwner); err != nil {
		return record.Record{}, err
	}
	in.PetID = strings.TrimSpace(in.PetID)
	in.AppointmentID = strings.TrimSpace(in.AppointmentID)
	in.Diagnosis = strings.TrimSpace(in.Diagnosis)
	in.Complaint = strings.TrimSpace(in.Complaint)
	in.Treatment = strings.TrimSpace(in.Treatment)
	if in.Diagnosis == "" {
		return record.Record{}, svcerrors.InvalidInput("diagnosis is required")
	}
	for _, text := range []string{in.Diagnosis, in.Complaint, in.Treatment} {
		if len(text) > maxTextLength {
			return record.Record{}, svcerrors.InvalidInput("record fields cannot exceed %d characters", maxTextLength)
		}
	}
	if in.WeightKg < 0 {
		return record.Record{}, svcerrors.InvalidInput("weight_kg cannot be negative")
	}
	prescriptions, err := normalizePrescriptions(in.Prescriptions)
	if err != nil {
		return record.Record{}, err
	}
	if _, err := s.pet(ctx, actor.TenantID, in.PetID); err != nil {
		return record.Record{}, err
	}

	visited := in.VisitedAt
	if in.AppointmentID != "" {
		a, err := s.appointments.GetAppointment(ctx, actor.TenantID, in.AppointmentID)
		if err != nil {
			if storeerr.IsNotFound(err) {
				return record.Record{}, svcerrors.InvalidInput("unknown appointment %s", in.AppointmentID)
			}
			return record.Record{}, storeerr.Translate(err, "appointment", in.AppointmentID)
		}
		if a.PetID != in.PetID {
			return record.Record{}, svcerrors.InvalidInput("appointment %s is for another pet", a.ID)
		}
		if a.Status == appointment.StatusCancelled {
			return record.Record{}, svcerrors.InvalidInput("appointment %s was cancelled", a.ID)
		}
		if visited.IsZero() && a.StartsAt != nil {
			visited = *a.StartsAt
		}
	}
	if visited.IsZero() {
		visited = s.now()
	}

	r, err := s.records.CreateRecord(ctx, record.Record{
		TenantID:      actor.TenantID,
		PetID:         in.PetID,
		AppointmentID: in.AppointmentID,
		VetID:         actor.UserID,
		VisitedAt:     visited.UTC(),
		Complaint:     in.Complaint,
		Diagnosis:     in.Diagnosis,
		Treatment:     in.Treatment,
		WeightKg:      in.WeightKg,
		Prescriptions: prescriptions,
	})
	if err != nil {
		return record.Record{}, storeerr.Translate(err, "record", "")
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("record_id", r.ID).
		WithField("pet_id", r.PetID).
		Info("medical record created")
	return r, nil
}

func normalizePrescriptions(in []record.Prescription) ([]record.Prescription, error) {
	out := make([]record.Prescription, 0, len(in))
	for _, p := range in {
		p.Drug = strings.TrimSpace(p.Drug)
		p.Dosage = strings.TrimSpace(p.Dosage)
		p.Frequency = strings.TrimSpace(p.Frequency)
		if p.Drug == "" || p.Dosage == "" {
			return nil, svcerrors.InvalidInput("prescriptions need a drug and a dosage")
		}
		if p.Days < 1 || p.Days > 365 {
			return nil, svcerrors.InvalidInput("prescription days must be between 1 and 365")
		}
		out = append(out, p)
	}
	return out, nil
}

// AddAddendum appends a correction or follow-up note.
func (s *Service) AddAddendum(ctx context.Context, actor auth.Actor, recordID, text string) (record.Record, error) {
	if err := auth.RequireRole(actor, tenant.RoleVeterinarian, tenant.RoleAdmin, tenant.RoleOwner); err != nil {
		return record.Record{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return record.Record{}, svcerrors.InvalidInput("addendum text is required")
	}
	if len(text) > maxTextLength {
		return record.Record{}, svcerrors.InvalidInput("addendum cannot exceed %d characters", maxTextLength)
	}
	r, err := s.records.AppendAddendum(ctx, actor.TenantID, recordID, record.Addendum{
		AuthorID:  actor.UserID,
		Text:      text,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return record.Record{}, storeerr.Translate(err, "record", recordID)
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("record_id", r.ID).
		Info("record addendum added")
	return r, nil
}

// Get returns one record visible to the actor.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (record.Record, error) {
	r, err := s.records.GetRecord(ctx, actor.TenantID, id)
	if err != nil {
		return record.Record{}, storeerr.Translate(err, "record", id)
	}
	if err := s.canRead(ctx, actor, r.PetID); err != nil {
		if svcerrors.HasCode(err, svcerrors.CodeForbidden) {
			return record.Record{}, svcerrors.NotFound("record", id)
		}
		return record.Record{}, err
	}
	return r, nil
}

// ListForPet returns a pet's history, newest first.
func (s *Service) ListForPet(ctx context.Context, actor auth.Actor, petID string) ([]record.Record, error) {
	if err := s.canRead(ctx, actor, petID); err != nil {
		return nil, err
	}
	list, err := s.records.ListRecords(ctx, actor.TenantID, petID)
	if err != nil {
		return nil, storeerr.Translate(err, "record", "")
	}
	return list, nil
}

func (s *Service) canRead(ctx context.Context, actor auth.Actor, petID string) error {
	if actor.IsStaff() {
		return nil
	}
	pet, err := s.pet(ctx, actor.TenantID, petID)
	if err != nil {
		return err
	}
	return auth.RequireCustomerAccess(actor, pet.CustomerID)
}

func (s *Service) pet(ctx context.Context, tenantID, petID string) (customer.Pet, error) {
	if petID == "" {
		return customer.Pet{}, svcerrors.InvalidInput("pet_id is required")
	}
	p, err := s.customers.GetPet(ctx, tenantID, petID)
	if err != nil {
		return customer.Pet{}, storeerr.Translate(err, "pet", petID)
	}
	return p, nil
}
