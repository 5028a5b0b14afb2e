// ABOUTME: In-memory CRM and journal fakes for reconciler tests
// ABOUTME: Counts CRM calls and allows pausing lead creation to stage races
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"

	"github.com/harperreed/leadbridge/models"
)

type fakeCRM struct {
	mu gosync.Mutex

	contacts map[int64]models.Contact
	leads    map[int64]models.LeadDetails
	nextID   int64
	status   string

	calls       []string
	createdLead int
	failOn      map[string]error
	// beforeCreate runs outside the lock right before a lead is created.
	beforeCreate func()
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		contacts: make(map[int64]models.Contact),
		leads:    make(map[int64]models.LeadDetails),
		nextID:   100,
		status:   "Первичный контакт",
		failOn:   make(map[string]error),
	}
}

func (f *fakeCRM) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.failOn[call]
}

func (f *fakeCRM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCRM) leadsCreated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createdLead
}

func (f *fakeCRM) FindContact(_ context.Context, phone, email, _ string) (*models.Contact, error) {
	if err := f.record("FindContact"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.contacts {
		if (email != "" && c.Email == email) || (phone != "" && c.Phone == phone) {
			contact := c
			return &contact, nil
		}
	}
	return nil, nil
}

func (f *fakeCRM) UpsertContact(ctx context.Context, name, phone, email string) (int64, error) {
	if err := f.record("UpsertContact"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.contacts {
		if (email != "" && c.Email == email) || (phone != "" && c.Phone == phone) {
			f.contacts[id] = models.Contact{ID: id, Name: name, Phone: phone, Email: email}
			return id, nil
		}
	}
	f.nextID++
	f.contacts[f.nextID] = models.Contact{ID: f.nextID, Name: name, Phone: phone, Email: email}
	return f.nextID, nil
}

func (f *fakeCRM) UpdateContact(_ context.Context, id int64, name, phone, email string) (int64, error) {
	if err := f.record("UpdateContact"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.contacts[id]; !ok {
		return 0, fmt.Errorf("contact %d not found", id)
	}
	f.contacts[id] = models.Contact{ID: id, Name: name, Phone: phone, Email: email}
	return id, nil
}

func (f *fakeCRM) FindLead(_ context.Context, _, _ string, leadID int64) (*models.Lead, error) {
	if err := f.record("FindLead"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.leads[leadID]; ok {
		return &models.Lead{ID: l.ID, Name: l.Name}, nil
	}
	return nil, nil
}

func (f *fakeCRM) CreateLead(_ context.Context, name string, contactID int64, budget float64) (int64, error) {
	if err := f.record("CreateLead"); err != nil {
		return 0, err
	}
	return f.createLead(name, contactID, budget), nil
}

func (f *fakeCRM) createLead(name string, contactID int64, budget float64) int64 {
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	price := int64(budget)
	f.leads[f.nextID] = models.LeadDetails{ID: f.nextID, Name: name, Price: &price, ContactID: contactID, StatusName: f.status}
	f.createdLead++
	return f.nextID
}

func (f *fakeCRM) UpsertLead(_ context.Context, name string, contactID int64, budget float64, _ string, leadID int64) (int64, error) {
	if err := f.record("UpsertLead"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	if l, ok := f.leads[leadID]; ok {
		l.Name = name
		if budget != 0 {
			price := int64(budget)
			l.Price = &price
		}
		f.leads[leadID] = l
		f.mu.Unlock()
		return leadID, nil
	}
	f.mu.Unlock()
	return f.createLead(name, contactID, budget), nil
}

func (f *fakeCRM) GetContactInfo(_ context.Context, id int64) (*models.Contact, error) {
	if err := f.record("GetContactInfo"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.contacts[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (f *fakeCRM) GetLeadInfo(_ context.Context, id int64) (*models.LeadDetails, error) {
	if err := f.record("GetLeadInfo"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.leads[id]; ok {
		return &l, nil
	}
	return nil, nil
}

func (f *fakeCRM) LeadLink(id int64) string {
	return fmt.Sprintf("https://example.amocrm.ru/leads/detail/%d", id)
}

type recordingJournal struct {
	mu       gosync.Mutex
	started  []string
	finished map[string]error
	outcomes []models.SyncOutcome
}

func newRecordingJournal() *recordingJournal {
	return &recordingJournal{finished: make(map[string]error)}
}

func (j *recordingJournal) FlowStarted(flow string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.started = append(j.started, flow)
}

func (j *recordingJournal) FlowFinished(flow string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finished[flow] = err
}

func (j *recordingJournal) RowOutcome(o models.SyncOutcome) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes = append(j.outcomes, o)
}

func (j *recordingJournal) all() []models.SyncOutcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.SyncOutcome(nil), j.outcomes...)
}

// failingStore wraps a sheet store and fails selected calls.
type failingStore struct {
	SpreadsheetStore
	mu        gosync.Mutex
	readErrAt map[int]bool
	reads     int
	onUpdate  func(row int, mapping map[string]string)
}

var errSheetUnavailable = errors.New("sheets unavailable")

func (s *failingStore) ReadAllRows(ctx context.Context) ([]models.SheetRow, error) {
	s.mu.Lock()
	s.reads++
	fail := s.readErrAt[s.reads]
	s.mu.Unlock()
	if fail {
		return nil, errSheetUnavailable
	}
	return s.SpreadsheetStore.ReadAllRows(ctx)
}

func (s *failingStore) UpdateCells(ctx context.Context, row int, mapping map[string]string) error {
	if s.onUpdate != nil {
		s.onUpdate(row, mapping)
	}
	return s.SpreadsheetStore.UpdateCells(ctx, row, mapping)
}
