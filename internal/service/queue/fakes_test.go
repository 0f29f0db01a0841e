package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/opd-queue/internal/model"
	"github.com/jwalitptl/opd-queue/internal/repository"
	"github.com/jwalitptl/opd-queue/pkg/clock"
	"github.com/jwalitptl/opd-queue/pkg/logger"
	"github.com/jwalitptl/opd-queue/pkg/metrics"
)

type counterKey struct {
	key model.QueueKey
	day time.Time
}

// fakeStore mimics the Postgres repositories: compare-and-swap writes, a
// per-day token counter and the one-active-consultation rule, all under one mutex.
type fakeStore struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]*model.Appointment
	counters     map[counterKey]int
	availability map[model.QueueKey]*model.DoctorAvailability
	settings     map[model.QueueKey]*model.QueueSettings

	counterErr       error
	listErr          error
	upsertErr        error
	settingsCalls    int
	beforeWrite      func(stored *model.Appointment)
	hideActiveOnRead bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		appointments: make(map[uuid.UUID]*model.Appointment),
		counters:     make(map[counterKey]int),
		availability: make(map[model.QueueKey]*model.DoctorAvailability),
		settings:     make(map[model.QueueKey]*model.QueueSettings),
	}
}

func (f *fakeStore) put(a *model.Appointment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appointments[a.ID] = a.Clone()
}

func (f *fakeStore) stored(id uuid.UUID) *model.Appointment {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[id]
	if !ok {
		return nil
	}
	return a.Clone()
}

func (f *fakeStore) Create(_ context.Context, a *model.Appointment) error {
	f.put(a)
	return nil
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (*model.Appointment, error) {
	if a := f.stored(id); a != nil {
		return a, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) nextToken(a *model.Appointment) (int, error) {
	if f.counterErr != nil {
		return 0, f.counterErr
	}
	ck := counterKey{key: model.QueueKey{HospitalID: a.HospitalID, DoctorID: a.DoctorID}, day: *a.QueueDay}
	f.counters[ck]++
	return f.counters[ck], nil
}

func (f *fakeStore) CheckIn(_ context.Context, change repository.StatusChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.compare(change); err != nil {
		return err
	}
	token, err := f.nextToken(change.Appointment)
	if err != nil {
		return err
	}
	change.Appointment.TokenNumber = &token
	f.commit(change)
	return nil
}

func (f *fakeStore) CreateCheckedIn(_ context.Context, a *model.Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	token, err := f.nextToken(a)
	if err != nil {
		return err
	}
	a.TokenNumber = &token
	f.appointments[a.ID] = a.Clone()
	return nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, change repository.StatusChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.compare(change); err != nil {
		return err
	}
	f.commit(change)
	return nil
}

func (f *fakeStore) StartConsultation(_ context.Context, change repository.StatusChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if active := f.activeFor(change.Appointment.DoctorID, change.Appointment.ID); active != nil {
		return &repository.ActiveConsultationError{AppointmentID: active.ID}
	}
	if err := f.compare(change); err != nil {
		return err
	}
	f.commit(change)
	return nil
}

func (f *fakeStore) FindActiveConsultation(_ context.Context, doctorID, excludeID uuid.UUID) (*model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.hideActiveOnRead {
		return nil, repository.ErrNotFound
	}
	if active := f.activeFor(doctorID, excludeID); active != nil {
		return active.Clone(), nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) ListQueue(_ context.Context, key model.QueueKey, day time.Time) ([]*model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*model.Appointment
	for _, a := range f.appointments {
		if a.HospitalID == key.HospitalID && a.DoctorID == key.DoctorID && a.QueueDay != nil && a.QueueDay.Equal(day) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token() < out[j].Token() })
	return out, nil
}

func (f *fakeStore) ListActiveQueues(_ context.Context, day time.Time) ([]model.QueueKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[model.QueueKey]bool)
	var keys []model.QueueKey
	for _, a := range f.appointments {
		key := model.QueueKey{HospitalID: a.HospitalID, DoctorID: a.DoctorID}
		if a.QueueDay != nil && a.QueueDay.Equal(day) && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *fakeStore) GetAvailability(_ context.Context, key model.QueueKey) (*model.DoctorAvailability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if a, ok := f.availability[key]; ok {
		c := *a
		return &c, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) UpsertAvailability(_ context.Context, a *model.DoctorAvailability) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.upsertErr != nil {
		return f.upsertErr
	}
	c := *a
	f.availability[model.QueueKey{HospitalID: a.HospitalID, DoctorID: a.DoctorID}] = &c
	return nil
}

func (f *fakeStore) GetQueueSettings(_ context.Context, key model.QueueKey) (*model.QueueSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.settingsCalls++
	if s, ok := f.settings[key]; ok {
		c := *s
		return &c, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) compare(change repository.StatusChange) error {
	stored, ok := f.appointments[change.Appointment.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if f.beforeWrite != nil {
		f.beforeWrite(stored)
	}
	if stored.Version != change.ExpectedVersion || stored.Status != change.From {
		return repository.ErrVersionConflict
	}
	return nil
}

func (f *fakeStore) commit(change repository.StatusChange) {
	stored := f.appointments[change.Appointment.ID]
	a := change.Appointment
	a.Version = change.ExpectedVersion + 1
	a.Consultation = stored.Clone().Consultation
	if change.Notes != nil {
		a.Consultation.Notes = *change.Notes
	}
	f.appointments[a.ID] = a.Clone()
}

func (f *fakeStore) activeFor(doctorID, excludeID uuid.UUID) *model.Appointment {
	for _, a := range f.appointments {
		if a.DoctorID == doctorID && a.ID != excludeID && a.Status == model.AppointmentStatusInConsultation {
			return a
		}
	}
	return nil
}

type fakeBoard struct {
	mu         sync.Mutex
	entries    map[model.QueueKey]*model.QueueStatus
	publishErr error
	getErr     error
	publishes  int
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{entries: make(map[model.QueueKey]*model.QueueStatus)}
}

func (b *fakeBoard) Publish(_ context.Context, status *model.QueueStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.publishes++
	if b.publishErr != nil {
		return b.publishErr
	}
	c := *status
	b.entries[status.Key()] = &c
	return nil
}

func (b *fakeBoard) Get(_ context.Context, key model.QueueKey) (*model.QueueStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.getErr != nil {
		return nil, b.getErr
	}
	if s, ok := b.entries[key]; ok {
		c := *s
		return &c, nil
	}
	return nil, repository.ErrNotFound
}

func (b *fakeBoard) entry(key model.QueueKey) *model.QueueStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries[key]
}

func (b *fakeBoard) publishCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishes
}

var errStoreDown = errors.New("store unavailable")

// testNow is mid-morning on a clinic day.
var testNow = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store     *fakeStore
	board     *fakeBoard
	clock     *clock.FixedClock
	metrics   *metrics.Metrics
	projector *Projector
	service   *Service
	reader    *Reader
	key       model.QueueKey
}

func newFixture() *fixture {
	store := newFakeStore()
	board := newFakeBoard()
	clk := &clock.FixedClock{At: testNow, Loc: time.UTC}
	m := metrics.New("test")
	log := logger.Nop()

	projector := NewProjector(store, store, board, clk, log, m, time.Second)
	return &fixture{
		store:     store,
		board:     board,
		clock:     clk,
		metrics:   m,
		projector: projector,
		service:   NewService(store, projector, clk, log, m),
		reader: NewReader(board, projector, store, store, clk, log, ReaderConfig{
			DefaultAvgConsultationMinutes: 10,
			PollIntervalSeconds:           15,
			SettingsCacheTTL:              time.Minute,
		}),
		key: model.QueueKey{HospitalID: uuid.New(), DoctorID: uuid.New()},
	}
}

func (fx *fixture) today() time.Time {
	return clock.Today(fx.clock).Start
}

// booked stores a BOOKED appointment scheduled later today.
func (fx *fixture) booked() *model.Appointment {
	a := &model.Appointment{
		Base:          model.Base{ID: uuid.New()},
		PatientID:     uuid.New(),
		DoctorID:      fx.key.DoctorID,
		HospitalID:    fx.key.HospitalID,
		ScheduledTime: testNow.Add(time.Hour),
		Status:        model.AppointmentStatusBooked,
		Type:          model.AppointmentTypeRegular,
	}
	fx.store.put(a)
	return a
}

// queued stores an appointment already holding token in the given status.
func (fx *fixture) queued(token int, status model.AppointmentStatus) *model.Appointment {
	day := fx.today()
	checkIn := testNow.Add(-time.Hour)
	a := &model.Appointment{
		Base:          model.Base{ID: uuid.New()},
		PatientID:     uuid.New(),
		DoctorID:      fx.key.DoctorID,
		HospitalID:    fx.key.HospitalID,
		ScheduledTime: testNow,
		Status:        status,
		Type:          model.AppointmentTypeRegular,
		TokenNumber:   &token,
		QueueDay:      &day,
		CheckInTime:   &checkIn,
		Version:       1,
	}
	if status == model.AppointmentStatusCompleted {
		end := testNow.Add(time.Duration(token) * time.Minute)
		a.ConsultationEndTime = &end
	}
	fx.store.put(a)
	return a
}
