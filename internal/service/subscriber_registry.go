package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
	"github.com/noah-isme/lms-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/lms-enrollment-api/pkg/errors"
)

// Observer receives the events routed to a subscriber.
type Observer interface {
	Update(ctx context.Context, event models.NotificationEvent) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, event models.NotificationEvent) error

// Update calls f(ctx, event).
func (f ObserverFunc) Update(ctx context.Context, event models.NotificationEvent) error {
	return f(ctx, event)
}

// Subscriber describes a registered recipient. Interests default to the role
// defaults when left nil on Attach.
type Subscriber struct {
	ID        string
	Role      models.UserRole
	Interests []models.EventType
	Courses   []string
	Observer  Observer
}

// subscriberEntry is immutable once published in a snapshot.
type subscriberEntry struct {
	id        string
	role      models.UserRole
	interests map[models.EventType]struct{}
	courses   map[string]struct{}
	observer  Observer
}

func (e *subscriberEntry) interestedIn(t models.EventType) bool {
	_, ok := e.interests[t]
	return ok
}

// follows reports whether the entry receives events scoped to courseID.
// Admins receive every course; other roles only the courses they follow.
func (e *subscriberEntry) follows(courseID string) bool {
	if courseID == "" || e.role == models.RoleAdmin {
		return true
	}
	_, ok := e.courses[courseID]
	return ok
}

func (e *subscriberEntry) clone() *subscriberEntry {
	c := &subscriberEntry{
		id:        e.id,
		role:      e.role,
		interests: make(map[models.EventType]struct{}, len(e.interests)),
		courses:   make(map[string]struct{}, len(e.courses)),
		observer:  e.observer,
	}
	for k := range e.interests {
		c.interests[k] = struct{}{}
	}
	for k := range e.courses {
		c.courses[k] = struct{}{}
	}
	return c
}

func (e *subscriberEntry) view() Subscriber {
	interests := make([]models.EventType, 0, len(e.interests))
	for t := range e.interests {
		interests = append(interests, t)
	}
	sort.Slice(interests, func(i, j int) bool { return interests[i] < interests[j] })
	courses := make([]string, 0, len(e.courses))
	for id := range e.courses {
		courses = append(courses, id)
	}
	sort.Strings(courses)
	return Subscriber{ID: e.id, Role: e.role, Interests: interests, Courses: courses, Observer: e.observer}
}

// DefaultInterests returns the role interest sets used when none are configured.
func DefaultInterests() map[models.UserRole][]models.EventType {
	return map[models.UserRole][]models.EventType{
		models.RoleTeacher: {
			models.EventAssignmentSubmitted,
			models.EventStudentEnrolled,
			models.EventCourseUpdated,
		},
		models.RoleStudent: {
			models.EventAssignmentCreated,
			models.EventAssignmentUpdated,
			models.EventAssignmentGraded,
			models.EventMaterialAdded,
			models.EventCourseUpdated,
		},
		models.RoleAdmin: {
			models.EventCourseCreated,
			models.EventCourseUpdated,
			models.EventCourseDeleted,
			models.EventAssignmentCreated,
			models.EventStudentEnrolled,
		},
	}
}

type interestFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// LoadInterestOverrides reads role interest sets from a YAML file and merges
// them over the defaults. Roles absent from the file keep their defaults.
func LoadInterestOverrides(path string) (map[models.UserRole][]models.EventType, error) {
	defaults := DefaultInterests()
	if path == "" {
		return defaults, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read interests file: %w", err)
	}
	var file interestFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse interests file: %w", err)
	}
	for role, types := range file.Roles {
		events := make([]models.EventType, 0, len(types))
		for _, t := range types {
			event := models.EventType(t)
			if !event.Valid() {
				return nil, fmt.Errorf("interests file: unknown event type %q for role %s", t, role)
			}
			events = append(events, event)
		}
		defaults[models.UserRole(role)] = events
	}
	return defaults, nil
}

type userLister interface {
	ListActive(ctx context.Context) ([]models.User, error)
}

type followSource interface {
	ListFollows(ctx context.Context) ([]repository.CourseFollow, error)
}

// FollowSourceFunc adapts a repository listing to followSource.
type FollowSourceFunc func(ctx context.Context) ([]repository.CourseFollow, error)

// ListFollows calls f(ctx).
func (f FollowSourceFunc) ListFollows(ctx context.Context) ([]repository.CourseFollow, error) {
	return f(ctx)
}

// SubscriberRegistry holds the process-wide subscriber set. Readers iterate an
// immutable snapshot; writers copy the snapshot under a mutex and swap it.
type SubscriberRegistry struct {
	mu        sync.Mutex
	snapshot  atomic.Pointer[[]*subscriberEntry]
	defaults  map[models.UserRole][]models.EventType
	observers func(id string, role models.UserRole) Observer
	logger    *zap.Logger
}

// NewSubscriberRegistry constructs an empty registry. defaults falls back to DefaultInterests.
func NewSubscriberRegistry(defaults map[models.UserRole][]models.EventType, logger *zap.Logger) *SubscriberRegistry {
	if defaults == nil {
		defaults = DefaultInterests()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &SubscriberRegistry{defaults: defaults, logger: logger}
	empty := make([]*subscriberEntry, 0)
	r.snapshot.Store(&empty)
	return r
}

// SetObserverFactory sets the observer assigned to subscribers attached without one.
func (r *SubscriberRegistry) SetObserverFactory(factory func(id string, role models.UserRole) Observer) {
	r.mu.Lock()
	r.observers = factory
	r.mu.Unlock()
}

func (r *SubscriberRegistry) entries() []*subscriberEntry {
	return *r.snapshot.Load()
}

// Len returns the number of registered subscribers.
func (r *SubscriberRegistry) Len() int {
	return len(r.entries())
}

// Attach registers a subscriber, replacing any previous registration with the same id.
func (r *SubscriberRegistry) Attach(sub Subscriber) error {
	if sub.ID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "subscriber id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.newEntry(sub)
	r.mutate(sub.ID, func(current *subscriberEntry) *subscriberEntry { return entry }, true)
	return nil
}

// Detach removes a subscriber. It reports whether the subscriber was registered.
func (r *SubscriberRegistry) Detach(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mutate(id, func(*subscriberEntry) *subscriberEntry { return nil }, false)
}

// Subscribe adds an event type to the subscriber's interest set.
func (r *SubscriberRegistry) Subscribe(id string, eventType models.EventType) (Subscriber, error) {
	if !eventType.Valid() {
		return Subscriber{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown event type %s", eventType))
	}
	return r.update(id, func(e *subscriberEntry) { e.interests[eventType] = struct{}{} })
}

// Unsubscribe removes an event type from the subscriber's interest set.
func (r *SubscriberRegistry) Unsubscribe(id string, eventType models.EventType) (Subscriber, error) {
	if !eventType.Valid() {
		return Subscriber{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown event type %s", eventType))
	}
	return r.update(id, func(e *subscriberEntry) { delete(e.interests, eventType) })
}

// FollowCourse scopes course events for the user to include courseID. Unknown
// users are attached with the given role first.
func (r *SubscriberRegistry) FollowCourse(userID string, role models.UserRole, courseID string) {
	if userID == "" || courseID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutate(userID, func(current *subscriberEntry) *subscriberEntry {
		var next *subscriberEntry
		if current == nil {
			next = r.newEntry(Subscriber{ID: userID, Role: role})
		} else {
			next = current.clone()
		}
		next.courses[courseID] = struct{}{}
		return next
	}, true)
}

// UnfollowCourse removes courseID from every subscriber's follow set.
func (r *SubscriberRegistry) UnfollowCourse(courseID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.entries()
	next := make([]*subscriberEntry, len(current))
	for i, e := range current {
		if _, ok := e.courses[courseID]; ok {
			e = e.clone()
			delete(e.courses, courseID)
		}
		next[i] = e
	}
	r.snapshot.Store(&next)
}

// LeaveCourse removes courseID from a single user's follow set. It reports
// whether the user was following the course.
func (r *SubscriberRegistry) LeaveCourse(userID, courseID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	left := false
	r.mutate(userID, func(current *subscriberEntry) *subscriberEntry {
		if current == nil {
			return nil
		}
		if _, ok := current.courses[courseID]; !ok {
			return current
		}
		next := current.clone()
		delete(next.courses, courseID)
		left = true
		return next
	}, false)
	return left
}

// AttachIfAbsent registers sub unless a subscriber with the same id exists.
// It returns the registration in effect and whether sub was inserted.
func (r *SubscriberRegistry) AttachIfAbsent(sub Subscriber) (Subscriber, bool, error) {
	if sub.ID == "" {
		return Subscriber{}, false, appErrors.Clone(appErrors.ErrValidation, "subscriber id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var effective *subscriberEntry
	found := r.mutate(sub.ID, func(current *subscriberEntry) *subscriberEntry {
		if current != nil {
			effective = current
			return current
		}
		effective = r.newEntry(sub)
		return effective
	}, true)
	return effective.view(), !found, nil
}

// Get returns a copy of the subscriber registration.
func (r *SubscriberRegistry) Get(id string) (Subscriber, bool) {
	for _, e := range r.entries() {
		if e.id == id {
			return e.view(), true
		}
	}
	return Subscriber{}, false
}

// Seed registers every active user with role defaults and applies the follow sets.
func (r *SubscriberRegistry) Seed(ctx context.Context, users userLister, follows ...followSource) (int, error) {
	list, err := users.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed subscribers: %w", err)
	}
	roles := make(map[string]models.UserRole, len(list))
	for _, u := range list {
		if err := r.Attach(Subscriber{ID: u.ID, Role: u.Role}); err != nil {
			return 0, err
		}
		roles[u.ID] = u.Role
	}
	for _, source := range follows {
		pairs, err := source.ListFollows(ctx)
		if err != nil {
			return 0, fmt.Errorf("seed course follows: %w", err)
		}
		for _, pair := range pairs {
			role, ok := roles[pair.UserID]
			if !ok {
				continue
			}
			r.FollowCourse(pair.UserID, role, pair.CourseID)
		}
	}
	r.logger.Info("subscriber registry seeded", zap.Int("subscribers", r.Len()))
	return r.Len(), nil
}

func (r *SubscriberRegistry) newEntry(sub Subscriber) *subscriberEntry {
	interests := sub.Interests
	if interests == nil {
		interests = r.defaults[sub.Role]
	}
	entry := &subscriberEntry{
		id:        sub.ID,
		role:      sub.Role,
		interests: make(map[models.EventType]struct{}, len(interests)),
		courses:   make(map[string]struct{}, len(sub.Courses)),
		observer:  sub.Observer,
	}
	for _, t := range interests {
		entry.interests[t] = struct{}{}
	}
	for _, id := range sub.Courses {
		entry.courses[id] = struct{}{}
	}
	if entry.observer == nil && r.observers != nil {
		entry.observer = r.observers(sub.ID, sub.Role)
	}
	return entry
}

func (r *SubscriberRegistry) update(id string, fn func(*subscriberEntry)) (Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var updated *subscriberEntry
	found := r.mutate(id, func(current *subscriberEntry) *subscriberEntry {
		if current == nil {
			return nil
		}
		updated = current.clone()
		fn(updated)
		return updated
	}, false)
	if !found {
		return Subscriber{}, appErrors.Clone(appErrors.ErrNotFound, "subscriber not found")
	}
	return updated.view(), nil
}

// mutate replaces the entry with the given id by fn(current). A nil result
// removes the entry; insert allows fn to add a missing entry. Callers hold r.mu.
func (r *SubscriberRegistry) mutate(id string, fn func(current *subscriberEntry) *subscriberEntry, insert bool) bool {
	current := r.entries()
	next := make([]*subscriberEntry, 0, len(current)+1)
	found := false
	for _, e := range current {
		if e.id != id {
			next = append(next, e)
			continue
		}
		found = true
		if replacement := fn(e); replacement != nil {
			next = append(next, replacement)
		}
	}
	if !found {
		if !insert {
			return false
		}
		if created := fn(nil); created != nil {
			next = append(next, created)
		}
	}
	r.snapshot.Store(&next)
	return found
}
