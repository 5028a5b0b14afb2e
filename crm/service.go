// ABOUTME: CRM service used by the sync reconciler and importer
// ABOUTME: Upserts contacts and leads through the matcher with bounded retries
package crm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/harperreed/leadbridge/models"
	"github.com/harperreed/leadbridge/retry"
)

var (
	ErrContactNotFound = errors.New("contact not found")
)

// API is the AmoCRM surface the service needs. *Client implements it.
type API interface {
	Directory
	GetContact(ctx context.Context, id int64) (*models.Contact, error)
	CreateContact(ctx context.Context, contact models.Contact) (int64, error)
	PatchContact(ctx context.Context, contact models.Contact) error
	CreateLead(ctx context.Context, in LeadInput) (int64, error)
	PatchLead(ctx context.Context, id int64, patch LeadPatch) error
	StatusName(ctx context.Context, pipelineID, statusID int64) (string, error)
}

type Config struct {
	BaseURL    string
	PipelineID int64
	StatusID   int64
	Retry      retry.Policy
}

type Service struct {
	api     API
	matcher *Matcher
	cfg     Config
	logger  *slog.Logger
}

func NewService(api API, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Service{
		api:     api,
		matcher: NewMatcher(api, logger),
		cfg:     cfg,
		logger:  logger,
	}
}

// call retries fn under the service policy. Client errors other than rate
// limiting are not retried.
func call[T any](ctx context.Context, s *Service, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.DoValue(ctx, s.cfg.Retry, op, func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		if err != nil {
			s.logger.Warn("crm call failed", "op", op, "error", err)
			var apiErr *APIError
			if (errors.As(err, &apiErr) && !apiErr.Retryable()) || errors.Is(err, ErrContactNotFound) {
				return v, retry.Permanent(err)
			}
		}
		return v, err
	})
}

func (s *Service) FindContact(ctx context.Context, phone, email, name string) (*models.Contact, error) {
	return call(ctx, s, "find_contact", func(ctx context.Context) (*models.Contact, error) {
		return s.matcher.MatchContact(ctx, phone, email, name)
	})
}

// UpsertContact updates the matched contact or creates a new one.
func (s *Service) UpsertContact(ctx context.Context, name, phone, email string) (int64, error) {
	return call(ctx, s, "upsert_contact", func(ctx context.Context) (int64, error) {
		existing, err := s.matcher.MatchContact(ctx, phone, email, name)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			return s.updateContact(ctx, existing.ID, name, phone, email)
		}

		id, err := s.api.CreateContact(ctx, models.Contact{Name: name, Phone: phone, Email: email})
		if err != nil {
			return 0, fmt.Errorf("failed to create contact: %w", err)
		}
		s.logger.Info("created contact", "contact_id", id, "name", name)
		return id, nil
	})
}

// UpdateContact writes name, phone and email to an existing contact when
// they differ. Empty values are left alone.
func (s *Service) UpdateContact(ctx context.Context, id int64, name, phone, email string) (int64, error) {
	return call(ctx, s, "update_contact", func(ctx context.Context) (int64, error) {
		return s.updateContact(ctx, id, name, phone, email)
	})
}

func (s *Service) updateContact(ctx context.Context, id int64, name, phone, email string) (int64, error) {
	current, err := s.api.GetContact(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to get contact %d: %w", id, err)
	}
	if current == nil {
		return 0, fmt.Errorf("contact %d: %w", id, ErrContactNotFound)
	}

	patch := models.Contact{ID: id}
	changed := false
	if name != "" && current.Name != name {
		patch.Name = name
		changed = true
	}
	if phone != "" && current.Phone != phone {
		patch.Phone = phone
		changed = true
	}
	if email != "" && current.Email != email {
		patch.Email = email
		changed = true
	}

	if !changed {
		s.logger.Debug("contact unchanged", "contact_id", id)
		return id, nil
	}
	if err := s.api.PatchContact(ctx, patch); err != nil {
		return 0, fmt.Errorf("failed to update contact %d: %w", id, err)
	}
	s.logger.Info("updated contact", "contact_id", id)
	return id, nil
}

func (s *Service) FindLead(ctx context.Context, email, name string, leadID int64) (*models.Lead, error) {
	return call(ctx, s, "find_lead", func(ctx context.Context) (*models.Lead, error) {
		return s.matcher.MatchLead(ctx, email, name, leadID)
	})
}

// CreateLead creates a lead in the configured pipeline and status, linked to
// contactID. The budget is truncated to whole units.
func (s *Service) CreateLead(ctx context.Context, name string, contactID int64, budget float64) (int64, error) {
	return call(ctx, s, "create_lead", func(ctx context.Context) (int64, error) {
		return s.createLead(ctx, name, contactID, budget)
	})
}

func (s *Service) createLead(ctx context.Context, name string, contactID int64, budget float64) (int64, error) {
	id, err := s.api.CreateLead(ctx, LeadInput{
		Name:       name,
		Price:      int64(budget),
		PipelineID: s.cfg.PipelineID,
		StatusID:   s.cfg.StatusID,
		ContactID:  contactID,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create lead: %w", err)
	}
	s.logger.Info("created lead", "lead_id", id, "contact_id", contactID, "price", int64(budget))
	return id, nil
}

// UpsertLead updates the lead found by id or email, or creates one. Price is
// only changed for a non-zero budget.
func (s *Service) UpsertLead(ctx context.Context, name string, contactID int64, budget float64, email string, leadID int64) (int64, error) {
	return call(ctx, s, "upsert_lead", func(ctx context.Context) (int64, error) {
		existing, err := s.matcher.MatchLead(ctx, email, name, leadID)
		if err != nil {
			return 0, err
		}
		if existing == nil {
			return s.createLead(ctx, name, contactID, budget)
		}

		var patch LeadPatch
		changed := false
		if name != "" && existing.Name != name {
			patch.Name = name
			changed = true
		}
		if price := int64(budget); budget != 0 && existing.Price != price {
			patch.Price = &price
			changed = true
		}

		if !changed {
			s.logger.Debug("lead unchanged", "lead_id", existing.ID)
			return existing.ID, nil
		}
		if err := s.api.PatchLead(ctx, existing.ID, patch); err != nil {
			return 0, fmt.Errorf("failed to update lead %d: %w", existing.ID, err)
		}
		s.logger.Info("updated lead", "lead_id", existing.ID)
		return existing.ID, nil
	})
}

// GetContactInfo returns nil when the contact does not exist.
func (s *Service) GetContactInfo(ctx context.Context, id int64) (*models.Contact, error) {
	return call(ctx, s, "get_contact_info", func(ctx context.Context) (*models.Contact, error) {
		return s.api.GetContact(ctx, id)
	})
}

// GetLeadInfo returns the lead with its status name and first contact, or nil
// when the lead does not exist. A status or contact that cannot be resolved
// leaves the corresponding name empty.
func (s *Service) GetLeadInfo(ctx context.Context, id int64) (*models.LeadDetails, error) {
	return call(ctx, s, "get_lead_info", func(ctx context.Context) (*models.LeadDetails, error) {
		lead, err := s.api.GetLead(ctx, id)
		if err != nil || lead == nil {
			return nil, err
		}

		name, err := s.api.StatusName(ctx, lead.PipelineID, lead.StatusID)
		if err != nil {
			s.logger.Warn("failed to resolve lead status", "lead_id", id, "status_id", lead.StatusID, "error", err)
		}
		lead.StatusName = name

		if lead.ContactID != 0 {
			contact, err := s.api.GetContact(ctx, lead.ContactID)
			if err != nil {
				s.logger.Debug("failed to load lead contact", "lead_id", id, "contact_id", lead.ContactID, "error", err)
			} else if contact != nil {
				lead.ContactName = contact.Name
			}
		}
		return lead, nil
	})
}

func (s *Service) LeadLink(id int64) string {
	return s.cfg.BaseURL + "/leads/detail/" + strconv.FormatInt(id, 10)
}
