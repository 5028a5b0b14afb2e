// ABOUTME: CRM lookup MCP tool handlers
// ABOUTME: Implements find_contact and find_lead using the record matcher
package handlers

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/leadbridge/identity"
	"github.com/harperreed/leadbridge/models"
)

type Lookup interface {
	FindContact(ctx context.Context, phone, email, name string) (*models.Contact, error)
	FindLead(ctx context.Context, email, name string, leadID int64) (*models.Lead, error)
	GetLeadInfo(ctx context.Context, id int64) (*models.LeadDetails, error)
	LeadLink(id int64) string
}

type LookupHandlers struct {
	crm Lookup
}

func NewLookupHandlers(crm Lookup) *LookupHandlers {
	return &LookupHandlers{crm: crm}
}

type FindContactInput struct {
	Phone string `json:"phone,omitempty" jsonschema:"Phone number in any format"`
	Email string `json:"email,omitempty" jsonschema:"Email address"`
	Name  string `json:"name,omitempty" jsonschema:"Name used to disambiguate several matches"`
}

type FindContactOutput struct {
	Found   bool            `json:"found"`
	Contact *models.Contact `json:"contact,omitempty"`
}

func (h *LookupHandlers) FindContact(ctx context.Context, _ *mcp.CallToolRequest, input FindContactInput) (*mcp.CallToolResult, FindContactOutput, error) {
	if input.Phone == "" && input.Email == "" {
		return nil, FindContactOutput{}, fmt.Errorf("phone or email is required")
	}

	contact, err := h.crm.FindContact(ctx, identity.NormalizePhone(input.Phone), input.Email, input.Name)
	if err != nil {
		return nil, FindContactOutput{}, fmt.Errorf("failed to find contact: %w", err)
	}
	return nil, FindContactOutput{Found: contact != nil, Contact: contact}, nil
}

type FindLeadInput struct {
	LeadID int64  `json:"lead_id,omitempty" jsonschema:"AmoCRM lead id"`
	Email  string `json:"email,omitempty" jsonschema:"Email of the lead's contact"`
	Name   string `json:"name,omitempty" jsonschema:"Part of the lead name"`
}

type FindLeadOutput struct {
	Found bool                `json:"found"`
	Lead  *models.LeadDetails `json:"lead,omitempty"`
	Link  string              `json:"link,omitempty"`
}

func (h *LookupHandlers) FindLead(ctx context.Context, _ *mcp.CallToolRequest, input FindLeadInput) (*mcp.CallToolResult, FindLeadOutput, error) {
	if input.LeadID == 0 && input.Email == "" {
		return nil, FindLeadOutput{}, fmt.Errorf("lead_id or email is required")
	}

	lead, err := h.crm.FindLead(ctx, input.Email, input.Name, input.LeadID)
	if err != nil {
		return nil, FindLeadOutput{}, fmt.Errorf("failed to find lead: %w", err)
	}
	if lead == nil {
		return nil, FindLeadOutput{}, nil
	}

	details, err := h.crm.GetLeadInfo(ctx, lead.ID)
	if err != nil {
		return nil, FindLeadOutput{}, fmt.Errorf("failed to get lead %d: %w", lead.ID, err)
	}
	if details == nil {
		price := lead.Price
		details = &models.LeadDetails{ID: lead.ID, Name: lead.Name, Price: &price}
	}

	return nil, FindLeadOutput{Found: true, Lead: details, Link: h.crm.LeadLink(lead.ID)}, nil
}
