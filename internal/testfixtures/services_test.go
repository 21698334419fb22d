package testfixtures

import (
	"context"
	"testing"
	"time"

	"github.com/example/neighborhood-portal/internal/access"
	"github.com/example/neighborhood-portal/internal/application"
	"github.com/example/neighborhood-portal/internal/approval"
)

type userStoreStub struct {
	users map[string]application.User
}

func (s *userStoreStub) GetUser(ctx context.Context, id string) (application.User, error) {
	user, ok := s.users[id]
	if !ok {
		return application.User{}, application.ErrNotFound
	}
	return user, nil
}

func (s *userStoreStub) UpdateUser(ctx context.Context, user application.User) error {
	s.users[user.ID] = user
	return nil
}

type requestStoreStub struct {
	created []approval.Request
}

func (s *requestStoreStub) CreateRequest(ctx context.Context, request approval.Request) error {
	s.created = append(s.created, request)
	return nil
}

func (s *requestStoreStub) GetRequest(ctx context.Context, id string) (approval.Request, error) {
	return approval.Request{}, application.ErrNotFound
}

func (s *requestStoreStub) UpdateRequestIfStatus(ctx context.Context, request approval.Request, expected approval.Status) error {
	return nil
}

func (s *requestStoreStub) ListRequests(ctx context.Context, filter application.RequestFilter) ([]approval.Request, int, error) {
	return nil, 0, nil
}

type categoryStoreStub struct{}

func (categoryStoreStub) ListCategories(ctx context.Context) ([]application.Category, error) {
	return []application.Category{{ID: CategoryDomisili, Name: "Surat Keterangan Domisili", Active: true}}, nil
}

func (categoryStoreStub) GetCategory(ctx context.Context, id string) (application.Category, error) {
	return application.Category{ID: id, Name: "Surat Keterangan Domisili", Active: true}, nil
}

type noRoles struct{}

func (noRoles) RolesFor(ctx context.Context, userID string) ([]access.RoleAssignment, error) {
	return nil, nil
}

func TestServiceFactoryNewApprovalService(t *testing.T) {
	factory := NewServiceFactory(WithIDGenerator(NewIDGenerator("req")))
	resident := NewUserFixture()
	requests := &requestStoreStub{}

	svc := factory.NewApprovalService(ApprovalServiceDeps{
		Requests:   requests,
		Categories: categoryStoreStub{},
		Users:      &userStoreStub{users: map[string]application.User{resident.ID: resident.Application()}},
		Roles:      noRoles{},
	})

	request, err := svc.Submit(context.Background(), application.SubmitParams{
		ApplicantID: resident.ID,
		CategoryID:  CategoryDomisili,
		Reason:      "Keperluan pindah domisili ke luar kota",
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	if request.ID != "req-0001" {
		t.Fatalf("expected generated ID req-0001, got %q", request.ID)
	}
	if !request.CreatedAt.Equal(factory.Clock.Now()) {
		t.Fatalf("expected timestamp %v, got %v", factory.Clock.Now(), request.CreatedAt)
	}
	if len(requests.created) != 1 || requests.created[0].RTID != SeedRTID {
		t.Fatalf("repository received unexpected requests: %+v", requests.created)
	}
}

func TestServiceFactoryNewProfileService(t *testing.T) {
	clock := NewClock(time.Date(2024, time.August, 17, 8, 0, 0, 0, time.UTC))
	factory := NewServiceFactory(WithClock(clock))
	resident := NewUserFixture(AtStep(access.StepCompleteKTP))
	users := &userStoreStub{users: map[string]application.User{resident.ID: resident.Application()}}

	svc := factory.NewProfileService(ProfileServiceDeps{Users: users})

	clock.Advance(time.Hour)
	user, err := svc.CompleteKTP(context.Background(), resident.Principal(), application.CompleteKTPParams{
		NIK:      "3174012345678901",
		FullName: "Siti  Rahma",
	})
	if err != nil {
		t.Fatalf("CompleteKTP returned error: %v", err)
	}
	if !user.KTPCompleted || user.FullName != "Siti Rahma" {
		t.Fatalf("unexpected user after KTP step: %+v", user)
	}
	if !users.users[resident.ID].UpdatedAt.Equal(clock.Now()) {
		t.Fatalf("expected UpdatedAt from the factory clock, got %v", users.users[resident.ID].UpdatedAt)
	}
	if got := user.Identity(nil).NextStep(); got != access.StepCompleteProfile {
		t.Fatalf("expected next step complete_profile, got %s", got)
	}
}

func TestUserFixtureSteps(t *testing.T) {
	tests := []struct {
		step access.Step
	}{
		{step: access.StepVerifyEmail},
		{step: access.StepCompleteKTP},
		{step: access.StepCompleteProfile},
		{step: access.StepNone},
	}

	for _, tt := range tests {
		t.Run(tt.step.String(), func(t *testing.T) {
			identity := NewUserFixture(AtStep(tt.step)).Identity()
			if got := identity.NextStep(); got != tt.step {
				t.Fatalf("expected next step %s, got %s", tt.step, got)
			}
		})
	}
}

func TestRequestFixtureDecisions(t *testing.T) {
	resident := NewUserFixture()

	completed := NewRequest(resident, DecidedBy(RTApproves("rt-head"), RWApproves("rw-head")))
	if !completed.Downloadable() {
		t.Fatalf("expected completed request to be downloadable: %+v", completed)
	}

	rejected := NewRequest(resident, DecidedBy(Rejects(approval.TierRT, "rt-head", "Data tidak lengkap")))
	if rejected.Status != approval.StatusRejected || rejected.RejectedAt != approval.TierRT {
		t.Fatalf("unexpected rejected request: %+v", rejected)
	}
}
