package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-enrollment-api/internal/dto"
	"github.com/noah-isme/lms-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/lms-enrollment-api/pkg/errors"
)

type enrollmentRepoStub struct {
	details map[string]*models.EnrollmentDetail
}

func newEnrollmentRepoStub(details ...models.EnrollmentDetail) *enrollmentRepoStub {
	stub := &enrollmentRepoStub{details: make(map[string]*models.EnrollmentDetail)}
	for i := range details {
		d := details[i]
		stub.details[d.ID] = &d
	}
	return stub
}

func (s *enrollmentRepoStub) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	d, ok := s.details[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := d.Enrollment
	return &clone, nil
}

func (s *enrollmentRepoStub) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	d, ok := s.details[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *d
	return &clone, nil
}

func (s *enrollmentRepoStub) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, reason *string) error {
	d, ok := s.details[id]
	if !ok {
		return sql.ErrNoRows
	}
	d.Status = status
	d.FailureReason = reason
	return nil
}

func (s *enrollmentRepoStub) ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	var out []models.EnrollmentDetail
	for _, d := range s.details {
		if d.StudentID == studentID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *enrollmentRepoStub) ListByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error) {
	var out []models.EnrollmentDetail
	for _, d := range s.details {
		if d.CourseID == courseID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func enrollmentFixture(id string, status models.EnrollmentStatus) models.EnrollmentDetail {
	return models.EnrollmentDetail{
		Enrollment: models.Enrollment{
			ID: id, StudentID: "7", CourseID: "42",
			Category:  models.EnrollmentCategoryFree,
			Status:    status,
			CreatedAt: time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC),
		},
		StudentName: "Ana Souza",
		StudentCode: "S-007",
		CourseName:  "Go 101",
	}
}

func newEnrollmentServiceForTest(repo *enrollmentRepoStub) *EnrollmentService {
	courses := NewCourseService(newCourseRepoStub(models.Course{ID: "42", Code: "GO-101", Name: "Go 101", Status: models.CourseStatusActive}), nil, nil, nil, nil, nil, nil)
	students := &fakeStudents{students: map[string]*models.Student{"7": {ID: "7", FullName: "Ana Souza"}}}
	svc := NewEnrollmentService(repo, students, courses, nil, nil)
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }
	return svc
}

func TestEnrollmentServiceGet(t *testing.T) {
	svc := newEnrollmentServiceForTest(newEnrollmentRepoStub(enrollmentFixture("enr-1", models.EnrollmentStatusActive)))

	detail, err := svc.Get(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana Souza", detail.StudentName)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestEnrollmentServiceLists(t *testing.T) {
	svc := newEnrollmentServiceForTest(newEnrollmentRepoStub(
		enrollmentFixture("enr-1", models.EnrollmentStatusActive),
		enrollmentFixture("enr-2", models.EnrollmentStatusFailed),
	))

	byStudent, err := svc.ListByStudent(context.Background(), "7")
	require.NoError(t, err)
	assert.Len(t, byStudent, 2)

	byCourse, err := svc.ListByCourse(context.Background(), "42")
	require.NoError(t, err)
	assert.Len(t, byCourse, 2)

	_, err = svc.ListByStudent(context.Background(), "8")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	_, err = svc.ListByCourse(context.Background(), "99")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestEnrollmentServiceUnenroll(t *testing.T) {
	repo := newEnrollmentRepoStub(
		enrollmentFixture("enr-1", models.EnrollmentStatusActive),
		enrollmentFixture("enr-2", models.EnrollmentStatusFailed),
	)
	svc := newEnrollmentServiceForTest(repo)

	detail, err := svc.Unenroll(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, detail.Status)

	_, err = svc.Unenroll(context.Background(), "enr-1")
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)
	_, err = svc.Unenroll(context.Background(), "enr-2")
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)
	_, err = svc.Unenroll(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestEnrollmentServiceUnenrollStopsCourseEvents(t *testing.T) {
	userID := "user-7"
	registry := NewSubscriberRegistry(nil, nil)
	registry.FollowCourse(userID, models.RoleStudent, "42")
	registry.FollowCourse(userID, models.RoleStudent, "43")
	store := &fakeNotificationStore{}
	dispatcher := NewNotificationDispatcher(registry, store, nil, nil)

	courses := NewCourseService(newCourseRepoStub(models.Course{ID: "42", Code: "GO-101", Name: "Go 101", Status: models.CourseStatusActive}), nil, nil, nil, nil, nil, nil)
	students := &fakeStudents{students: map[string]*models.Student{"7": {ID: "7", UserID: &userID, FullName: "Ana Souza"}}}
	svc := NewEnrollmentService(newEnrollmentRepoStub(enrollmentFixture("enr-1", models.EnrollmentStatusActive)), students, courses, registry, nil)

	_, err := svc.Unenroll(context.Background(), "enr-1")
	require.NoError(t, err)

	sub, ok := registry.Get(userID)
	require.True(t, ok)
	assert.Equal(t, []string{"43"}, sub.Courses)

	report, err := dispatcher.Notify(context.Background(), models.NotificationEvent{
		Type:       models.EventMaterialAdded,
		Title:      "New material",
		Message:    "Week 2 slides",
		SourceID:   "teacher-1",
		TargetID:   "42",
		TargetType: models.TargetTypeCourse,
	})
	require.NoError(t, err)
	assert.Zero(t, report.Delivered)
	assert.Zero(t, store.forRecipient(userID, models.EventMaterialAdded))
}

func TestEnrollmentServiceUnenrollSurvivesStudentLookupFailure(t *testing.T) {
	registry := NewSubscriberRegistry(nil, nil)
	registry.FollowCourse("user-7", models.RoleStudent, "42")
	courses := NewCourseService(newCourseRepoStub(models.Course{ID: "42", Code: "GO-101", Name: "Go 101", Status: models.CourseStatusActive}), nil, nil, nil, nil, nil, nil)
	students := &fakeStudents{err: errors.New("students table locked")}
	svc := NewEnrollmentService(newEnrollmentRepoStub(enrollmentFixture("enr-1", models.EnrollmentStatusActive)), students, courses, registry, nil)

	detail, err := svc.Unenroll(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, detail.Status)

	sub, _ := registry.Get("user-7")
	assert.Equal(t, []string{"42"}, sub.Courses)
}

func TestNotificationServiceKeepsFollowsOfRegisteredUsers(t *testing.T) {
	users := userReaderStub{users: map[string]*models.User{
		"user-7": {ID: "user-7", Role: models.RoleStudent, Active: true},
	}}
	registry := NewSubscriberRegistry(nil, nil)
	svc := NewNotificationService(&notificationRepoStub{}, users, registry, nil)
	registry.FollowCourse("user-7", models.RoleStudent, "42")

	resp, err := svc.Subscriptions(context.Background(), "user-7")
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, resp.Courses)
	assert.Equal(t, 1, registry.Len())
}

func TestEnrollmentServiceExportRoster(t *testing.T) {
	svc := newEnrollmentServiceForTest(newEnrollmentRepoStub(enrollmentFixture("enr-1", models.EnrollmentStatusActive)))

	csv, err := svc.ExportRoster(context.Background(), "42", dto.RosterFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "roster-GO-101-1700000000.csv", csv.Filename)
	assert.Equal(t, "text/csv", csv.ContentType)
	assert.Equal(t, "student_code,student_name,category,status,enrolled_at\nS-007,Ana Souza,GRATUITA,ACTIVE,2024-01-01T08:00:00Z\n", string(csv.Content))

	pdf, err := svc.ExportRoster(context.Background(), "42", dto.RosterFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "roster-GO-101-1700000000.pdf", pdf.Filename)
	assert.True(t, bytes.HasPrefix(pdf.Content, []byte("%PDF")))

	_, err = svc.ExportRoster(context.Background(), "42", "xlsx")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

type notificationRepoStub struct {
	items  []models.Notification
	filter models.NotificationFilter
	err    error
}

func (s *notificationRepoStub) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	s.filter = filter
	if s.err != nil {
		return nil, 0, s.err
	}
	return s.items, len(s.items), nil
}

func (s *notificationRepoStub) MarkRead(ctx context.Context, recipientID, id string, at time.Time) error {
	for i := range s.items {
		if s.items[i].ID == id && s.items[i].RecipientID == recipientID {
			s.items[i].Status = models.NotificationStatusRead
			s.items[i].ReadAt = &at
			return nil
		}
	}
	return sql.ErrNoRows
}

type userReaderStub struct {
	users map[string]*models.User
}

func (s userReaderStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func TestNotificationServiceList(t *testing.T) {
	repo := &notificationRepoStub{items: []models.Notification{{ID: "n-1", RecipientID: "user-7", Status: models.NotificationStatusUnread}}}
	svc := NewNotificationService(repo, userReaderStub{}, NewSubscriberRegistry(nil, nil), nil)

	items, pagination, err := svc.List(context.Background(), models.NotificationFilter{RecipientID: "user-7", Status: models.NotificationStatusUnread})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, pagination)

	_, _, err = svc.List(context.Background(), models.NotificationFilter{RecipientID: "user-7", Status: "ARCHIVED"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	repo.err = errors.New("db down")
	_, _, err = svc.List(context.Background(), models.NotificationFilter{RecipientID: "user-7"})
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}

func TestNotificationServiceMarkRead(t *testing.T) {
	repo := &notificationRepoStub{items: []models.Notification{{ID: "n-1", RecipientID: "user-7", Status: models.NotificationStatusUnread}}}
	svc := NewNotificationService(repo, userReaderStub{}, NewSubscriberRegistry(nil, nil), nil)

	require.NoError(t, svc.MarkRead(context.Background(), "user-7", "n-1"))
	assert.Equal(t, models.NotificationStatusRead, repo.items[0].Status)
	assert.NotNil(t, repo.items[0].ReadAt)

	assert.ErrorIs(t, svc.MarkRead(context.Background(), "user-8", "n-1"), appErrors.ErrNotFound)
}

func TestNotificationServiceSubscriptions(t *testing.T) {
	users := userReaderStub{users: map[string]*models.User{
		"teacher-9": {ID: "teacher-9", Role: models.RoleTeacher, Active: true},
		"retired":   {ID: "retired", Role: models.RoleTeacher, Active: false},
	}}
	registry := NewSubscriberRegistry(nil, nil)
	svc := NewNotificationService(&notificationRepoStub{}, users, registry, nil)

	resp, err := svc.Subscriptions(context.Background(), "teacher-9")
	require.NoError(t, err)
	assert.ElementsMatch(t, DefaultInterests()[models.RoleTeacher], resp.Interests)
	assert.Equal(t, 1, registry.Len())

	resp, err = svc.Subscribe(context.Background(), "teacher-9", models.EventMaterialUploaded)
	require.NoError(t, err)
	assert.Contains(t, resp.Interests, models.EventMaterialUploaded)

	resp, err = svc.Unsubscribe(context.Background(), "teacher-9", models.EventStudentEnrolled)
	require.NoError(t, err)
	assert.NotContains(t, resp.Interests, models.EventStudentEnrolled)

	_, err = svc.Subscriptions(context.Background(), "ghost")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	_, err = svc.Subscriptions(context.Background(), "retired")
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)
	_, err = svc.Subscribe(context.Background(), "teacher-9", "NOPE")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
