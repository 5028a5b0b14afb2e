// ABOUTME: AmoCRM v4 REST API client
// ABOUTME: Reads and writes contacts, leads and pipeline statuses with a bearer token
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/harperreed/leadbridge/models"
)

const (
	DefaultTimeout = 15 * time.Second

	fieldCodePhone = "PHONE"
	fieldCodeEmail = "EMAIL"
	enumCodeWork   = "WORK"
)

// APIError is a non-success response from AmoCRM.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("amocrm %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	baseURL string
	token   string
	base    *http.Client
	timeout time.Duration
	http    *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient sets the transport underneath the bearer token client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.base = h
	}
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// NewClient creates a client for an account such as
// https://example.amocrm.ru, authenticating with a long-lived access token.
func NewClient(baseURL, accessToken string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   accessToken,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	ctx := context.Background()
	if c.base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.token, TokenType: "Bearer"})
	c.http = oauth2.NewClient(ctx, src)
	c.http.Timeout = c.timeout

	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

type fieldValue struct {
	Value    any    `json:"value"`
	EnumCode string `json:"enum_code,omitempty"`
}

type customField struct {
	FieldID   int64        `json:"field_id,omitempty"`
	FieldCode string       `json:"field_code"`
	Values    []fieldValue `json:"values"`
}

type entityRef struct {
	ID     int64 `json:"id"`
	IsMain bool  `json:"is_main,omitempty"`
}

type contactPayload struct {
	ID           int64         `json:"id,omitempty"`
	Name         string        `json:"name,omitempty"`
	CustomFields []customField `json:"custom_fields_values,omitempty"`
	Embedded     *struct {
		Leads []entityRef `json:"leads,omitempty"`
	} `json:"_embedded,omitempty"`
}

type leadEmbedded struct {
	Contacts []entityRef `json:"contacts,omitempty"`
}

type leadPayload struct {
	ID         int64         `json:"id,omitempty"`
	Name       string        `json:"name,omitempty"`
	Price      *int64        `json:"price,omitempty"`
	PipelineID int64         `json:"pipeline_id,omitempty"`
	StatusID   int64         `json:"status_id,omitempty"`
	Embedded   *leadEmbedded `json:"_embedded,omitempty"`
}

type contactsPage struct {
	Embedded struct {
		Contacts []contactPayload `json:"contacts"`
	} `json:"_embedded"`
}

type leadsPage struct {
	Embedded struct {
		Leads []leadPayload `json:"leads"`
	} `json:"_embedded"`
}

type statusPayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (p contactPayload) firstValue(code string) string {
	for _, f := range p.CustomFields {
		if !strings.EqualFold(f.FieldCode, code) {
			continue
		}
		for _, v := range f.Values {
			if v.Value == nil {
				continue
			}
			if s := strings.TrimSpace(fmt.Sprint(v.Value)); s != "" {
				return s
			}
		}
	}
	return ""
}

func (p contactPayload) toModel() models.Contact {
	return models.Contact{
		ID:    p.ID,
		Name:  p.Name,
		Phone: p.firstValue(fieldCodePhone),
		Email: p.firstValue(fieldCodeEmail),
	}
}

func contactFields(phone, email string) []customField {
	var fields []customField
	if phone != "" {
		fields = append(fields, customField{
			FieldCode: fieldCodePhone,
			Values:    []fieldValue{{Value: phone, EnumCode: enumCodeWork}},
		})
	}
	if email != "" {
		fields = append(fields, customField{
			FieldCode: fieldCodeEmail,
			Values:    []fieldValue{{Value: email, EnumCode: enumCodeWork}},
		})
	}
	return fields
}

// do sends a request and decodes a JSON response into out. It reports
// found=false for 204 and 404, which AmoCRM uses for empty results.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) (bool, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("amocrm %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return false, &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(payload)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return true, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return true, nil
		}
		return true, fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return true, nil
}

// SearchContacts runs AmoCRM's full-text contact query (matches phone, email
// and name). Results keep the API's order.
func (c *Client) SearchContacts(ctx context.Context, query string) ([]models.Contact, error) {
	var page contactsPage
	found, err := c.do(ctx, http.MethodGet, "/api/v4/contacts", url.Values{"query": {query}}, nil, &page)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	contacts := make([]models.Contact, 0, len(page.Embedded.Contacts))
	for _, p := range page.Embedded.Contacts {
		contacts = append(contacts, p.toModel())
	}
	return contacts, nil
}

// GetContact returns nil when the contact does not exist.
func (c *Client) GetContact(ctx context.Context, id int64) (*models.Contact, error) {
	var p contactPayload
	found, err := c.do(ctx, http.MethodGet, "/api/v4/contacts/"+strconv.FormatInt(id, 10), nil, nil, &p)
	if err != nil || !found {
		return nil, err
	}
	contact := p.toModel()
	return &contact, nil
}

func (c *Client) CreateContact(ctx context.Context, contact models.Contact) (int64, error) {
	body := []contactPayload{{
		Name:         contact.Name,
		CustomFields: contactFields(contact.Phone, contact.Email),
	}}

	var page contactsPage
	if _, err := c.do(ctx, http.MethodPost, "/api/v4/contacts", nil, body, &page); err != nil {
		return 0, err
	}
	if len(page.Embedded.Contacts) == 0 || page.Embedded.Contacts[0].ID == 0 {
		return 0, fmt.Errorf("amocrm returned no id for created contact")
	}
	return page.Embedded.Contacts[0].ID, nil
}

// PatchContact writes the non-empty fields of contact.
func (c *Client) PatchContact(ctx context.Context, contact models.Contact) error {
	body := contactPayload{
		Name:         contact.Name,
		CustomFields: contactFields(contact.Phone, contact.Email),
	}
	_, err := c.do(ctx, http.MethodPatch, "/api/v4/contacts/"+strconv.FormatInt(contact.ID, 10), nil, body, nil)
	return err
}

// ContactLeadIDs lists the leads linked to a contact in the order AmoCRM
// returns them.
func (c *Client) ContactLeadIDs(ctx context.Context, contactID int64) ([]int64, error) {
	var p contactPayload
	path := "/api/v4/contacts/" + strconv.FormatInt(contactID, 10)
	found, err := c.do(ctx, http.MethodGet, path, url.Values{"with": {"leads"}}, nil, &p)
	if err != nil || !found || p.Embedded == nil {
		return nil, err
	}

	ids := make([]int64, 0, len(p.Embedded.Leads))
	for _, ref := range p.Embedded.Leads {
		ids = append(ids, ref.ID)
	}
	return ids, nil
}

// GetLead returns the lead with its pipeline, status id and main (or first)
// contact id, or nil when it does not exist. StatusName and ContactName are
// left empty.
func (c *Client) GetLead(ctx context.Context, id int64) (*models.LeadDetails, error) {
	var p leadPayload
	path := "/api/v4/leads/" + strconv.FormatInt(id, 10)
	found, err := c.do(ctx, http.MethodGet, path, url.Values{"with": {"contacts"}}, nil, &p)
	if err != nil || !found {
		return nil, err
	}

	lead := &models.LeadDetails{
		ID:         p.ID,
		Name:       p.Name,
		Price:      p.Price,
		PipelineID: p.PipelineID,
		StatusID:   p.StatusID,
	}
	if p.Embedded != nil && len(p.Embedded.Contacts) > 0 {
		lead.ContactID = p.Embedded.Contacts[0].ID
		for _, ref := range p.Embedded.Contacts {
			if ref.IsMain {
				lead.ContactID = ref.ID
				break
			}
		}
	}
	return lead, nil
}

// LeadInput describes a lead to create.
type LeadInput struct {
	Name       string
	Price      int64
	PipelineID int64
	StatusID   int64
	ContactID  int64
}

func (c *Client) CreateLead(ctx context.Context, in LeadInput) (int64, error) {
	price := in.Price
	payload := leadPayload{
		Name:       in.Name,
		Price:      &price,
		PipelineID: in.PipelineID,
		StatusID:   in.StatusID,
	}
	if in.ContactID != 0 {
		payload.Embedded = &leadEmbedded{Contacts: []entityRef{{ID: in.ContactID, IsMain: true}}}
	}

	var page leadsPage
	if _, err := c.do(ctx, http.MethodPost, "/api/v4/leads", nil, []leadPayload{payload}, &page); err != nil {
		return 0, err
	}
	if len(page.Embedded.Leads) == 0 || page.Embedded.Leads[0].ID == 0 {
		return 0, fmt.Errorf("amocrm returned no id for created lead")
	}
	return page.Embedded.Leads[0].ID, nil
}

// LeadPatch holds the lead fields to change. Empty Name and nil Price are
// left untouched.
type LeadPatch struct {
	Name  string
	Price *int64
}

func (c *Client) PatchLead(ctx context.Context, id int64, patch LeadPatch) error {
	body := leadPayload{Name: patch.Name, Price: patch.Price}
	_, err := c.do(ctx, http.MethodPatch, "/api/v4/leads/"+strconv.FormatInt(id, 10), nil, body, nil)
	return err
}

// StatusName resolves a pipeline stage name. It returns "" when the status
// is unknown.
func (c *Client) StatusName(ctx context.Context, pipelineID, statusID int64) (string, error) {
	if pipelineID == 0 || statusID == 0 {
		return "", nil
	}
	var s statusPayload
	path := fmt.Sprintf("/api/v4/leads/pipelines/%d/statuses/%d", pipelineID, statusID)
	found, err := c.do(ctx, http.MethodGet, path, nil, nil, &s)
	if err != nil || !found {
		return "", err
	}
	return s.Name, nil
}
