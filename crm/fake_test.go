// ABOUTME: In-memory AmoCRM stand-in for crm package tests
// ABOUTME: Records searches and writes so tests can assert on CRM traffic
package crm

import (
	"context"
	"strings"
	"sync"

	"github.com/harperreed/leadbridge/models"
)

type fakeAPI struct {
	mu sync.Mutex

	contacts     []models.Contact
	leads        map[int64]*models.LeadDetails
	contactLeads map[int64][]int64
	statuses     map[int64]string
	nextID       int64

	searchErr  error
	searchErrN int

	searches        []string
	patchedContacts []models.Contact
	patchedLeads    map[int64]LeadPatch
	createdLeads    []LeadInput
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		leads:        make(map[int64]*models.LeadDetails),
		contactLeads: make(map[int64][]int64),
		statuses:     make(map[int64]string),
		patchedLeads: make(map[int64]LeadPatch),
		nextID:       1000,
	}
}

func (f *fakeAPI) addContact(c models.Contact) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts = append(f.contacts, c)
}

func (f *fakeAPI) addLead(l models.LeadDetails) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lead := l
	f.leads[l.ID] = &lead
	if l.ContactID != 0 {
		f.contactLeads[l.ContactID] = append(f.contactLeads[l.ContactID], l.ID)
	}
}

func (f *fakeAPI) SearchContacts(_ context.Context, query string) ([]models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, query)
	if f.searchErr != nil && f.searchErrN > 0 {
		f.searchErrN--
		return nil, f.searchErr
	}

	var out []models.Contact
	for _, c := range f.contacts {
		if strings.EqualFold(c.Email, query) || c.Phone == query {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeAPI) GetContact(_ context.Context, id int64) (*models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.contacts {
		if c.ID == id {
			contact := c
			return &contact, nil
		}
	}
	return nil, nil
}

func (f *fakeAPI) CreateContact(_ context.Context, c models.Contact) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c.ID = f.nextID
	f.contacts = append(f.contacts, c)
	return c.ID, nil
}

func (f *fakeAPI) PatchContact(_ context.Context, patch models.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patchedContacts = append(f.patchedContacts, patch)
	for i := range f.contacts {
		if f.contacts[i].ID != patch.ID {
			continue
		}
		if patch.Name != "" {
			f.contacts[i].Name = patch.Name
		}
		if patch.Phone != "" {
			f.contacts[i].Phone = patch.Phone
		}
		if patch.Email != "" {
			f.contacts[i].Email = patch.Email
		}
	}
	return nil
}

func (f *fakeAPI) GetLead(_ context.Context, id int64) (*models.LeadDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lead, ok := f.leads[id]
	if !ok {
		return nil, nil
	}
	copied := *lead
	return &copied, nil
}

func (f *fakeAPI) ContactLeadIDs(_ context.Context, contactID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.contactLeads[contactID]...), nil
}

func (f *fakeAPI) CreateLead(_ context.Context, in LeadInput) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	price := in.Price
	f.leads[f.nextID] = &models.LeadDetails{
		ID:         f.nextID,
		Name:       in.Name,
		Price:      &price,
		PipelineID: in.PipelineID,
		StatusID:   in.StatusID,
		ContactID:  in.ContactID,
	}
	f.contactLeads[in.ContactID] = append(f.contactLeads[in.ContactID], f.nextID)
	f.createdLeads = append(f.createdLeads, in)
	return f.nextID, nil
}

func (f *fakeAPI) PatchLead(_ context.Context, id int64, patch LeadPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patchedLeads[id] = patch
	if lead, ok := f.leads[id]; ok {
		if patch.Name != "" {
			lead.Name = patch.Name
		}
		if patch.Price != nil {
			price := *patch.Price
			lead.Price = &price
		}
	}
	return nil
}

func (f *fakeAPI) StatusName(_ context.Context, _ int64, statusID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[statusID], nil
}

func int64Ptr(v int64) *int64 {
	return &v
}
