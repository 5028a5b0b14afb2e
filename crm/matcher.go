// ABOUTME: Record matching against CRM contacts and leads
// ABOUTME: Resolves an event's identity hints to at most one existing contact or lead
package crm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/harperreed/leadbridge/identity"
	"github.com/harperreed/leadbridge/models"
)

// Directory is the read side of the CRM the matcher searches.
type Directory interface {
	SearchContacts(ctx context.Context, query string) ([]models.Contact, error)
	GetLead(ctx context.Context, id int64) (*models.LeadDetails, error)
	ContactLeadIDs(ctx context.Context, contactID int64) ([]int64, error)
}

type Matcher struct {
	dir    Directory
	logger *slog.Logger
}

func NewMatcher(dir Directory, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{dir: dir, logger: logger}
}

// MatchContact finds the contact for the given hints. Email is searched
// first; several email hits are narrowed by phone and name, and when none
// fits the first email hit is still returned. Without email hits the first
// phone hit wins. A nil contact means no match.
func (m *Matcher) MatchContact(ctx context.Context, phone, email, name string) (*models.Contact, error) {
	if email != "" {
		candidates, err := m.dir.SearchContacts(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to search contacts by email: %w", err)
		}
		m.logger.Debug("contacts found by email", "email", email, "count", len(candidates))

		switch {
		case len(candidates) == 1:
			return &candidates[0], nil
		case len(candidates) > 1:
			for i := range candidates {
				if phoneMatches(candidates[i].Phone, phone) && nameMatches(candidates[i].Name, name) {
					m.logger.Debug("contact matched by email, phone and name", "contact_id", candidates[i].ID)
					return &candidates[i], nil
				}
			}
			m.logger.Info("no exact contact match, using first email result", "contact_id", candidates[0].ID)
			return &candidates[0], nil
		}
	}

	if phone != "" {
		candidates, err := m.dir.SearchContacts(ctx, phone)
		if err != nil {
			return nil, fmt.Errorf("failed to search contacts by phone: %w", err)
		}
		if len(candidates) > 0 {
			m.logger.Debug("contact matched by phone", "contact_id", candidates[0].ID)
			return &candidates[0], nil
		}
	}

	return nil, nil
}

// MatchLead finds a lead either directly by id or through the contact found
// for email. Several leads on the contact are narrowed by a case-insensitive
// substring match on name, falling back to the first one.
func (m *Matcher) MatchLead(ctx context.Context, email, name string, leadID int64) (*models.Lead, error) {
	if leadID != 0 {
		details, err := m.dir.GetLead(ctx, leadID)
		if err != nil {
			return nil, fmt.Errorf("failed to get lead %d: %w", leadID, err)
		}
		if details == nil {
			m.logger.Warn("lead not found", "lead_id", leadID)
			return nil, nil
		}
		return toLead(details), nil
	}

	if email == "" {
		return nil, nil
	}

	contact, err := m.MatchContact(ctx, "", email, name)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, nil
	}

	ids, err := m.dir.ContactLeadIDs(ctx, contact.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list leads for contact %d: %w", contact.ID, err)
	}

	var leads []*models.Lead
	for _, id := range ids {
		details, err := m.dir.GetLead(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get lead %d: %w", id, err)
		}
		if details != nil {
			leads = append(leads, toLead(details))
		}
	}

	if len(leads) == 0 {
		m.logger.Debug("contact has no leads", "contact_id", contact.ID)
		return nil, nil
	}
	if len(leads) > 1 && name != "" {
		hint := strings.ToLower(name)
		for _, lead := range leads {
			if strings.Contains(strings.ToLower(lead.Name), hint) {
				return lead, nil
			}
		}
	}
	return leads[0], nil
}

func phoneMatches(candidate, phone string) bool {
	if phone == "" {
		return true
	}
	if candidate == phone {
		return true
	}
	normalized := identity.NormalizePhone(phone)
	return normalized != "" && identity.NormalizePhone(candidate) == normalized
}

func nameMatches(candidate, name string) bool {
	return name == "" || strings.EqualFold(candidate, name)
}

func toLead(d *models.LeadDetails) *models.Lead {
	lead := &models.Lead{ID: d.ID, Name: d.Name}
	if d.Price != nil {
		lead.Price = *d.Price
	}
	return lead
}
