package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-enrollment-api/internal/dto"
	"github.com/noah-isme/lms-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/lms-enrollment-api/pkg/errors"
)

type courseRepoStub struct {
	mu      sync.Mutex
	courses map[string]*models.Course
	updates int
	deletes int
	stale   bool
	seq     int
}

func newCourseRepoStub(courses ...models.Course) *courseRepoStub {
	stub := &courseRepoStub{courses: make(map[string]*models.Course)}
	for i := range courses {
		c := courses[i]
		stub.courses[c.ID] = &c
	}
	return stub
}

func (s *courseRepoStub) FindByID(ctx context.Context, id string) (*models.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *c
	return &clone, nil
}

func (s *courseRepoStub) Create(ctx context.Context, course *models.Course) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	course.ID = "course-" + strings.Repeat("x", s.seq)
	clone := *course
	s.courses[course.ID] = &clone
	return nil
}

func (s *courseRepoStub) UpdateStatus(ctx context.Context, id string, from, to models.CourseStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[id]
	if !ok || c.Status != from || s.stale {
		return sql.ErrNoRows
	}
	c.Status = to
	s.updates++
	return nil
}

func (s *courseRepoStub) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.courses[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.courses, id)
	s.deletes++
	return nil
}

type memoryCacheStore struct {
	mu      sync.Mutex
	values  map[string][]byte
	evicted []string
}

func newMemoryCacheStore() *memoryCacheStore {
	return &memoryCacheStore{values: make(map[string][]byte)}
}

func (m *memoryCacheStore) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = raw
	return nil
}

func (m *memoryCacheStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
		m.evicted = append(m.evicted, key)
	}
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.NotificationEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event models.NotificationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []models.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func TestCourseServiceCreateStartsAsDraft(t *testing.T) {
	repo := newCourseRepoStub()
	events := &recordingPublisher{}
	registry := NewSubscriberRegistry(nil, nil)
	svc := NewCourseService(repo, nil, events, registry, nil, nil, nil)

	capacity := 25
	course, err := svc.Create(context.Background(), dto.CreateCourseRequest{Code: "GO-101", Name: "Go 101", Capacity: &capacity, InstructorID: "teacher-1"})
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusDraft, course.Status)
	assert.Equal(t, []models.EventType{models.EventCourseCreated}, events.types())

	teacher, ok := registry.Get("teacher-1")
	require.True(t, ok)
	assert.Equal(t, []string{course.ID}, teacher.Courses)

	_, err = svc.Create(context.Background(), dto.CreateCourseRequest{Name: "missing code"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestCourseServiceTransitions(t *testing.T) {
	tests := []struct {
		name     string
		from     models.CourseStatus
		action   models.CourseAction
		expected models.CourseStatus
		changed  bool
		conflict bool
	}{
		{name: "publish draft", from: models.CourseStatusDraft, action: models.CourseActionPublish, expected: models.CourseStatusActive, changed: true},
		{name: "archive draft", from: models.CourseStatusDraft, action: models.CourseActionArchive, expected: models.CourseStatusArchived, changed: true},
		{name: "finish draft", from: models.CourseStatusDraft, action: models.CourseActionFinish, conflict: true},
		{name: "activate active", from: models.CourseStatusActive, action: models.CourseActionActivate, expected: models.CourseStatusActive},
		{name: "finish active", from: models.CourseStatusActive, action: models.CourseActionFinish, expected: models.CourseStatusFinished, changed: true},
		{name: "publish finished", from: models.CourseStatusFinished, action: models.CourseActionPublish, conflict: true},
		{name: "archive finished", from: models.CourseStatusFinished, action: models.CourseActionArchive, expected: models.CourseStatusArchived, changed: true},
		{name: "archive archived", from: models.CourseStatusArchived, action: models.CourseActionArchive, expected: models.CourseStatusArchived},
		{name: "activate archived", from: models.CourseStatusArchived, action: models.CourseActionActivate, conflict: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := newCourseRepoStub(models.Course{ID: "42", Name: "Go 101", Status: tc.from, InstructorID: "teacher-1"})
			events := &recordingPublisher{}
			svc := NewCourseService(repo, nil, events, nil, nil, nil, nil)

			resp, err := svc.Transition(context.Background(), "42", tc.action)
			if tc.conflict {
				require.Error(t, err)
				assert.ErrorIs(t, err, appErrors.ErrStateConflict)
				assert.ErrorIs(t, err, models.ErrIllegalTransition)
				assert.Zero(t, repo.updates)
				assert.Empty(t, events.types())
				stored, _ := repo.FindByID(context.Background(), "42")
				assert.Equal(t, tc.from, stored.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, resp.Course.Status)
			assert.Equal(t, tc.from, resp.Previous)
			assert.Equal(t, tc.changed, resp.Changed)
			assert.Equal(t, tc.expected.Capabilities(), resp.Capabilities)
			if tc.changed {
				assert.Equal(t, 1, repo.updates)
				assert.Equal(t, []models.EventType{models.EventCourseUpdated}, events.types())
			} else {
				assert.Zero(t, repo.updates)
				assert.Empty(t, events.types())
			}
		})
	}
}

func TestCourseServiceStaleTransitionIsConflict(t *testing.T) {
	repo := newCourseRepoStub(models.Course{ID: "42", Status: models.CourseStatusDraft})
	repo.stale = true
	svc := NewCourseService(repo, nil, nil, nil, nil, nil, nil)

	_, err := svc.Publish(context.Background(), "42")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrStateConflict)
}

func TestCourseServiceArchiveDropsFollowers(t *testing.T) {
	repo := newCourseRepoStub(models.Course{ID: "42", Name: "Go 101", Status: models.CourseStatusFinished, InstructorID: "teacher-1"})
	store := &fakeNotificationStore{}
	registry := NewSubscriberRegistry(nil, nil)
	dispatcher := NewNotificationDispatcher(registry, store, nil, nil)
	require.NoError(t, registry.Attach(Subscriber{ID: "teacher-1", Role: models.RoleTeacher, Courses: []string{"42"}}))
	require.NoError(t, registry.Attach(Subscriber{ID: "user-7", Role: models.RoleStudent, Courses: []string{"42"}}))
	svc := NewCourseService(repo, nil, dispatcher, registry, nil, nil, nil)

	_, err := svc.Archive(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 1, store.forRecipient("teacher-1", models.EventCourseUpdated))
	assert.Equal(t, 1, store.forRecipient("user-7", models.EventCourseUpdated))

	teacher, _ := registry.Get("teacher-1")
	assert.Empty(t, teacher.Courses)
}

func TestCourseServiceGetUsesCache(t *testing.T) {
	repo := newCourseRepoStub(models.Course{ID: "42", Name: "Go 101", Status: models.CourseStatusDraft})
	store := newMemoryCacheStore()
	cache := NewCourseCache(store, nil, time.Minute, nil)
	svc := NewCourseService(repo, cache, nil, nil, nil, nil, nil)

	course, err := svc.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "Go 101", course.Name)

	repo.courses["42"].Name = "renamed behind the cache"
	course, err = svc.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "Go 101", course.Name)

	_, err = svc.Publish(context.Background(), "42")
	require.NoError(t, err)
	assert.Contains(t, store.evicted, "course:42")

	course, err = svc.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusActive, course.Status)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestCourseServiceDeleteRespectsCapabilities(t *testing.T) {
	repo := newCourseRepoStub(
		models.Course{ID: "draft", Status: models.CourseStatusDraft},
		models.Course{ID: "active", Status: models.CourseStatusActive},
		models.Course{ID: "finished", Status: models.CourseStatusFinished},
		models.Course{ID: "archived", Status: models.CourseStatusArchived},
	)
	events := &recordingPublisher{}
	svc := NewCourseService(repo, nil, events, NewSubscriberRegistry(nil, nil), nil, nil, nil)

	require.NoError(t, svc.Delete(context.Background(), "draft"))
	require.NoError(t, svc.Delete(context.Background(), "archived"))
	assert.ErrorIs(t, svc.Delete(context.Background(), "active"), appErrors.ErrStateConflict)
	assert.ErrorIs(t, svc.Delete(context.Background(), "finished"), appErrors.ErrStateConflict)
	assert.ErrorIs(t, svc.Delete(context.Background(), "draft"), appErrors.ErrNotFound)

	assert.Equal(t, 2, repo.deletes)
	assert.Equal(t, []models.EventType{models.EventCourseDeleted, models.EventCourseDeleted}, events.types())
}

type materialRepoStub struct {
	created []models.Material
}

func (m *materialRepoStub) Create(ctx context.Context, material *models.Material) error {
	material.ID = "mat-1"
	material.Active = true
	m.created = append(m.created, *material)
	return nil
}

func TestMaterialServiceRequiresModifiableCourse(t *testing.T) {
	repo := newCourseRepoStub(
		models.Course{ID: "draft", Name: "Draft", Status: models.CourseStatusDraft},
		models.Course{ID: "finished", Name: "Done", Status: models.CourseStatusFinished},
	)
	materials := &materialRepoStub{}
	events := &recordingPublisher{}
	courses := NewCourseService(repo, nil, nil, nil, nil, nil, nil)
	svc := NewMaterialService(courses, materials, events, nil, nil)

	req := dto.CreateMaterialRequest{Title: "Intro slides", Kind: "DOCUMENT"}
	material, err := svc.Create(context.Background(), "draft", req)
	require.NoError(t, err)
	assert.Equal(t, "mat-1", material.ID)
	require.Len(t, events.events, 1)
	assert.Equal(t, models.EventMaterialAdded, events.events[0].Type)
	assert.Equal(t, "draft", events.events[0].Metadata["course_id"])

	_, err = svc.Create(context.Background(), "finished", req)
	assert.ErrorIs(t, err, appErrors.ErrStateConflict)
	_, err = svc.Create(context.Background(), "draft", dto.CreateMaterialRequest{Title: "x", Kind: "PODCAST"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Len(t, materials.created, 1)
}

func TestCourseCacheDisabledWithoutStore(t *testing.T) {
	cache := NewCourseCache(nil, nil, time.Minute, nil)
	require.Nil(t, cache)

	_, ok := cache.Course(context.Background(), "42")
	assert.False(t, ok)
	cache.Store(context.Background(), &models.Course{ID: "42"})
	assert.NoError(t, cache.Evict(context.Background(), "42"))
}
