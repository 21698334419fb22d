package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"testing"
	"time"

	"github.com/example/neighborhood-portal/internal/access"
	"github.com/example/neighborhood-portal/internal/approval"
	"github.com/example/neighborhood-portal/internal/persistence"
)

// approvalRepoStub implements ApprovalRepository with a compare-and-set update.
type approvalRepoStub struct {
	requests  map[string]approval.Request
	updateErr error
	filters   []RequestFilter
}

func newApprovalRepoStub() *approvalRepoStub {
	return &approvalRepoStub{requests: make(map[string]approval.Request)}
}

func (a *approvalRepoStub) CreateRequest(ctx context.Context, request approval.Request) error {
	if _, exists := a.requests[request.ID]; exists {
		return persistence.ErrDuplicate
	}
	a.requests[request.ID] = request
	return nil
}

func (a *approvalRepoStub) GetRequest(ctx context.Context, id string) (approval.Request, error) {
	request, ok := a.requests[id]
	if !ok {
		return approval.Request{}, persistence.ErrNotFound
	}
	return request, nil
}

func (a *approvalRepoStub) UpdateRequestIfStatus(ctx context.Context, request approval.Request, expected approval.Status) error {
	if a.updateErr != nil {
		return a.updateErr
	}
	current, ok := a.requests[request.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	if current.Status != expected {
		return persistence.ErrConflict
	}
	a.requests[request.ID] = request
	return nil
}

func (a *approvalRepoStub) ListRequests(ctx context.Context, filter RequestFilter) ([]approval.Request, int, error) {
	a.filters = append(a.filters, filter)
	var matched []approval.Request
	for _, request := range a.requests {
		if filter.ApplicantID != "" && request.ApplicantID != filter.ApplicantID {
			continue
		}
		if len(filter.RTIDs) > 0 && !slices.Contains(filter.RTIDs, request.RTID) {
			continue
		}
		if len(filter.RWIDs) > 0 && !slices.Contains(filter.RWIDs, request.RWID) {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, request.Status) {
			continue
		}
		matched = append(matched, request)
	}
	sort.Slice(matched, func(i, j int) bool {
		if filter.Ascending {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}

type categoryRepoStub struct {
	categories []Category
}

func (c *categoryRepoStub) ListCategories(ctx context.Context) ([]Category, error) {
	var active []Category
	for _, category := range c.categories {
		if category.Active {
			active = append(active, category)
		}
	}
	return active, nil
}

func (c *categoryRepoStub) GetCategory(ctx context.Context, id string) (Category, error) {
	for _, category := range c.categories {
		if category.ID == id {
			return category, nil
		}
	}
	return Category{}, persistence.ErrNotFound
}

type roleSourceStub map[string][]access.RoleAssignment

func (r roleSourceStub) RolesFor(ctx context.Context, userID string) ([]access.RoleAssignment, error) {
	return r[userID], nil
}

type observerStub struct {
	outcomes []string
}

func (o *observerStub) ObserveDecision(tier approval.Tier, action approval.Action, outcome string) {
	o.outcomes = append(o.outcomes, string(tier)+"/"+string(action)+"/"+outcome)
}

type approvalFixture struct {
	now      time.Time
	requests *approvalRepoStub
	observer *observerStub
	svc      *ApprovalService
}

func completeResident(id string, rtID, rwID int64) User {
	return User{
		ID:               id,
		Email:            id + "@example.com",
		EmailVerified:    true,
		KTPCompleted:     true,
		DetailsCompleted: true,
		RTID:             rtID,
		RWID:             rwID,
	}
}

func newApprovalFixture() *approvalFixture {
	f := &approvalFixture{
		now:      time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		requests: newApprovalRepoStub(),
		observer: &observerStub{},
	}
	users := newUserStoreStub(
		completeResident("warga", 1, 1),
		completeResident("tetangga", 1, 1),
		completeResident("ketua-rt1", 1, 1),
		completeResident("ketua-rt2", 2, 1),
		completeResident("ketua-rw1", 1, 1),
		completeResident("ketua-rw2", 3, 2),
		completeResident("admin", 1, 1),
		User{ID: "baru", EmailVerified: true},
	)
	roles := roleSourceStub{
		"ketua-rt1": {{Role: access.RoleKetuaRT, RTID: 1}},
		"ketua-rt2": {{Role: access.RoleKetuaRT, RTID: 2}},
		"ketua-rw1": {{Role: access.RoleKetuaRW, RWID: 1}},
		"ketua-rw2": {{Role: access.RoleKetuaRW, RWID: 2}},
		"admin":     {{Role: access.RoleAdmin}},
		"baru":      {{Role: access.RoleKetuaRT, RTID: 1}},
	}
	categories := &categoryRepoStub{categories: []Category{
		{ID: "domisili", Name: "Surat Keterangan Domisili", Active: true},
		{ID: "arsip", Name: "Arsip", Active: false},
	}}
	seq := 0
	f.svc = NewApprovalService(f.requests, categories, users, roles, f.observer, func() string {
		seq++
		return fmt.Sprintf("req-%03d", seq)
	}, func() time.Time { return f.now })
	return f
}

func (f *approvalFixture) submit(t *testing.T) approval.Request {
	t.Helper()
	request, err := f.svc.Submit(context.Background(), SubmitParams{ApplicantID: "warga", CategoryID: "domisili", Reason: "Untuk melamar pekerjaan"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	f.now = f.now.Add(time.Minute)
	return request
}

func (f *approvalFixture) decide(requestID string, tier approval.Tier, actor string, action approval.Action, notes string) (approval.Request, error) {
	return f.svc.Decide(context.Background(), DecideParams{RequestID: requestID, Tier: tier, ActorID: actor, Action: action, Notes: notes})
}

func TestApprovalService_Submit(t *testing.T) {
	t.Parallel()

	t.Run("files request at the applicant's residence", func(t *testing.T) {
		t.Parallel()

		f := newApprovalFixture()
		request := f.submit(t)
		if request.Status != approval.StatusSubmitted {
			t.Fatalf("expected SUBMITTED, got %s", request.Status)
		}
		if request.RTID != 1 || request.RWID != 1 {
			t.Fatalf("expected RT 1 / RW 1, got %d / %d", request.RTID, request.RWID)
		}
		if request.Reason != "Untuk melamar pekerjaan" {
			t.Fatalf("unexpected reason %q", request.Reason)
		}
		if _, ok := f.requests.requests[request.ID]; !ok {
			t.Fatalf("expected request to be stored")
		}
	})

	t.Run("validates input", func(t *testing.T) {
		t.Parallel()

		f := newApprovalFixture()
		_, err := f.svc.Submit(context.Background(), SubmitParams{ApplicantID: "warga", Reason: " pendek "})
		expectFieldError(t, err, "reason")
		expectFieldError(t, err, "categoryId")

		_, err = f.svc.Submit(context.Background(), SubmitParams{ApplicantID: "warga", CategoryID: "arsip", Reason: "Untuk melamar pekerjaan"})
		expectFieldError(t, err, "categoryId")

		_, err = f.svc.Submit(context.Background(), SubmitParams{ApplicantID: "warga", CategoryID: "tidak-ada", Reason: "Untuk melamar pekerjaan"})
		expectFieldError(t, err, "categoryId")
	})

	t.Run("requires a registered residence", func(t *testing.T) {
		t.Parallel()

		f := newApprovalFixture()
		_, err := f.svc.Submit(context.Background(), SubmitParams{ApplicantID: "baru", CategoryID: "domisili", Reason: "Untuk melamar pekerjaan"})
		expectFieldError(t, err, "applicantId")
	})
}

func TestApprovalService_Decide(t *testing.T) {
	t.Parallel()

	t.Run("rt then rw approval completes the request", func(t *testing.T) {
		t.Parallel()

		f := newApprovalFixture()
		request := f.submit(t)

		afterRT, err := f.decide(request.ID, approval.TierRT, "ketua-rt1", approval.ActionApprove, "")
		if err != nil {
			t.Fatalf("RT decision failed: %v", err)
		}
		if afterRT.Status != approval.StatusRTApproved || afterRT.RTDecision == nil || afterRT.RTDecision.ApproverID != "ketua-rt1" {
			t.Fatalf("unexpected request after RT decision %#v", afterRT)
		}

		afterRW, err := f.decide(request.ID, approval.TierRW, "ketua-rw1", approval.ActionApprove, "lengkap")
		if err != nil {
			t.Fatalf("RW decision failed: %v", err)
		}
		if afterRW.Status != approval.StatusCompleted || !afterRW.Downloadable() {
			t.Fatalf("expected downloadable COMPLETED request, got %#v", afterRW)
		}
		if got := f.requests.requests[request.ID].Status; got != approval.StatusCompleted {
			t.Fatalf("expected stored status COMPLETED, got %s", got)
		}
		want := []string{"RT/approve/applied", "RW/approve/applied"}
		if !slices.Equal(f.observer.outcomes, want) {
			t.Fatalf("expected outcomes %v, got %v", want, f.observer.outcomes)
		}
	})

	t.Run("rejection requires notes and records the tier", func(t *testing.T) {
		t.Parallel()

		f := newApprovalFixture()
		request := f.submit(t)

		_, err := f.decide(request.ID, approval.TierRT, "ketua-rt1", approval.ActionReject, "  ")
		expectFieldError(t, err, "notes")

		rejected, err := f.decide(request.ID, approval.TierRT, "ketua-rt1", approval.ActionReject, "Alamat tidak sesuai")
		if err != nil {
			t.Fatalf("reject failed: %v", err)
		}
		if rejected.Status != approval.StatusRejected || rejected.RejectedAt != approval.TierRT {
			t.Fatalf("unexpected rejected request %#v", rejected)
		}
	})

	t.Run("approver outside the location is denied", func(t *testing.T) {
		t.Parallel()

		f := newApprovalFixture()
		request := f.submit(t)

		_, err := f.decide(request.ID, approval.TierRT, "ketua-rt2", approval.ActionApprove, "")
		expectDenied(t, err, access.ReasonWrongLocation)

		_, err = f.decide(request.ID, approval.TierRT, "ketua-rw1", approval.ActionApprove, "")
		expectDenied(t, err, access.ReasonMissingRole)

		_, err = f.decide(request.ID, approval.TierRT, "baru", approval.ActionApprove, "")
		expectDenied(t, err, access.ReasonIncompleteProfile)

		if got := f.requests.requests[request.ID].Status; got != approval.StatusSubmitted {
			t.Fatalf("expected request to stay SUBMITTED, got %s", got)
		}
	})

	t.Run("rw cannot decide before rt", func(t *testing.T) {
		t.Parallel()

		f := newApprovalFixture()
		request := f.submit(t)

		_, err := f.decide(request.ID, approval.TierRW, "ketua-rw1", approval.ActionApprove, "")
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("second decision reports invalid transition before authorization", func(t *testing.T) {
		t.Parallel()

		f := newApprovalFixture()
		request := f.submit(t)
		if _, err := f.decide(request.ID, approval.TierRT, "ketua-rt1", approval.ActionApprove, ""); err != nil {
			t.Fatalf("RT decision failed: %v", err)
		}

		for _, actor := range []string{"ketua-rt1", "ketua-rt2"} {
			_, err := f.decide(request.ID, approval.TierRT, actor, approval.ActionReject, "")
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition for %s, got %v", actor, err)
			}
		}
	})

	t.Run("concurrent decision loses with invalid transition", func(t *testing.T) {
		t.Parallel()

		f := newApprovalFixture()
		request := f.submit(t)
		f.requests.updateErr = persistence.ErrConflict

		_, err := f.decide(request.ID, approval.TierRT, "ketua-rt1", approval.ActionApprove, "")
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if got := f.observer.outcomes[len(f.observer.outcomes)-1]; got != "RT/approve/invalid_transition" {
			t.Fatalf("unexpected outcome %q", got)
		}
	})

	t.Run("validates tier", func(t *testing.T) {
		t.Parallel()

		f := newApprovalFixture()
		_, err := f.decide("req-x", "RK", "ketua-rt1", approval.ActionApprove, "")
		expectFieldError(t, err, "tier")
	})

	t.Run("lowercase tier is normalized", func(t *testing.T) {
		t.Parallel()

		f := newApprovalFixture()
		request := f.submit(t)
		decided, err := f.decide(request.ID, "rt", "ketua-rt1", approval.ActionApprove, "")
		if err != nil {
			t.Fatalf("expected lowercase tier to be accepted, got %v", err)
		}
		if decided.Status != approval.StatusRTApproved {
			t.Fatalf("expected RT_APPROVED, got %s", decided.Status)
		}
		if got := f.observer.outcomes[len(f.observer.outcomes)-1]; got != "RT/approve/applied" {
			t.Fatalf("unexpected outcome %q", got)
		}
	})

	t.Run("unknown request is an invalid transition", func(t *testing.T) {
		t.Parallel()

		f := newApprovalFixture()
		_, err := f.decide("does-not-exist", approval.TierRT, "ketua-rt1", approval.ActionApprove, "")
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if errors.Is(err, ErrNotFound) {
			t.Fatalf("expected no not-found kind, got %v", err)
		}
	})
}

func TestApprovalService_PendingQueues(t *testing.T) {
	t.Parallel()

	t.Run("rt queue lists submitted requests in scope", func(t *testing.T) {
		t.Parallel()

		f := newApprovalFixture()
		first := f.submit(t)
		second := f.submit(t)
		if _, err := f.decide(first.ID, approval.TierRT, "ketua-rt1", approval.ActionApprove, ""); err != nil {
			t.Fatalf("RT decision failed: %v", err)
		}

		page, err := f.svc.PendingForRT(context.Background(), "ketua-rt1", ListQuery{})
		if err != nil {
			t.Fatalf("PendingForRT failed: %v", err)
		}
		if page.Total != 1 || len(page.Items) != 1 || page.Items[0].ID != second.ID {
			t.Fatalf("expected only the second request, got %#v", page)
		}
		if page.Page != 1 || page.Limit != DefaultPageSize {
			t.Fatalf("expected default paging, got page %d limit %d", page.Page, page.Limit)
		}

		other, err := f.svc.PendingForRT(context.Background(), "ketua-rt2", ListQuery{})
		if err != nil {
			t.Fatalf("PendingForRT failed: %v", err)
		}
		if other.Total != 0 {
			t.Fatalf("expected empty queue for another RT, got %d", other.Total)
		}

		rw, err := f.svc.PendingForRW(context.Background(), "ketua-rw1", ListQuery{})
		if err != nil {
			t.Fatalf("PendingForRW failed: %v", err)
		}
		if rw.Total != 1 || rw.Items[0].ID != first.ID {
			t.Fatalf("expected the RT-approved request in the RW queue, got %#v", rw)
		}
	})

	t.Run("mismatched status filter yields an empty page", func(t *testing.T) {
		t.Parallel()

		f := newApprovalFixture()
		f.submit(t)

		page, err := f.svc.PendingForRT(context.Background(), "ketua-rt1", ListQuery{Status: approval.StatusCompleted})
		if err != nil {
			t.Fatalf("PendingForRT failed: %v", err)
		}
		if page.Total != 0 || len(page.Items) != 0 {
			t.Fatalf("expected empty page, got %#v", page)
		}
		if len(f.requests.filters) != 0 {
			t.Fatalf("expected repository not to be queried")
		}
	})

	t.Run("queues require the tier role", func(t *testing.T) {
		t.Parallel()

		f := newApprovalFixture()
		_, err := f.svc.PendingForRT(context.Background(), "warga", ListQuery{})
		expectDenied(t, err, access.ReasonMissingRole)

		_, err = f.svc.PendingForRW(context.Background(), "ketua-rt1", ListQuery{})
		expectDenied(t, err, access.ReasonMissingRole)

		_, err = f.svc.PendingForRT(context.Background(), "baru", ListQuery{})
		expectDenied(t, err, access.ReasonIncompleteProfile)
	})
}

func TestApprovalService_MyRequestsAndGet(t *testing.T) {
	t.Parallel()

	f := newApprovalFixture()
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, f.submit(t).ID)
	}

	page, err := f.svc.MyRequests(context.Background(), "warga", ListQuery{Page: 2, Limit: 2, SortOrder: SortAscending})
	if err != nil {
		t.Fatalf("MyRequests failed: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 1 || page.Items[0].ID != ids[2] {
		t.Fatalf("unexpected second page %#v", page)
	}

	newest, err := f.svc.MyRequests(context.Background(), "warga", ListQuery{Limit: 1})
	if err != nil {
		t.Fatalf("MyRequests failed: %v", err)
	}
	if newest.Items[0].ID != ids[2] {
		t.Fatalf("expected newest first by default, got %s", newest.Items[0].ID)
	}

	none, err := f.svc.MyRequests(context.Background(), "tetangga", ListQuery{})
	if err != nil {
		t.Fatalf("MyRequests failed: %v", err)
	}
	if none.Total != 0 {
		t.Fatalf("expected no requests for another resident, got %d", none.Total)
	}

	for _, viewer := range []string{"warga", "ketua-rt1", "ketua-rw1", "admin"} {
		if _, err := f.svc.Get(context.Background(), viewer, ids[0]); err != nil {
			t.Fatalf("Get as %s failed: %v", viewer, err)
		}
	}
	_, err = f.svc.Get(context.Background(), "tetangga", ids[0])
	expectDenied(t, err, access.ReasonMissingRole)

	_, err = f.svc.Get(context.Background(), "ketua-rw2", ids[0])
	expectDenied(t, err, access.ReasonWrongLocation)
}

func TestApprovalService_Categories(t *testing.T) {
	t.Parallel()

	f := newApprovalFixture()
	categories, err := f.svc.Categories(context.Background())
	if err != nil {
		t.Fatalf("Categories failed: %v", err)
	}
	if len(categories) != 1 || categories[0].ID != "domisili" {
		t.Fatalf("expected only active categories, got %#v", categories)
	}
}

func TestParseListQuery(t *testing.T) {
	t.Parallel()

	query, err := ParseListQuery("", "", "", "")
	if err != nil {
		t.Fatalf("ParseListQuery failed: %v", err)
	}
	if query != (ListQuery{Page: 1, Limit: DefaultPageSize, SortOrder: SortDescending}) {
		t.Fatalf("unexpected defaults %#v", query)
	}

	query, err = ParseListQuery("3", "25", "rt_approved", "ASC")
	if err != nil {
		t.Fatalf("ParseListQuery failed: %v", err)
	}
	if query.Page != 3 || query.Limit != 25 || query.Status != approval.StatusRTApproved || query.SortOrder != SortAscending {
		t.Fatalf("unexpected query %#v", query)
	}

	_, err = ParseListQuery("0", "101", "DONE", "sideways")
	for _, field := range []string{"page", "limit", "status", "sortOrder"} {
		expectFieldError(t, err, field)
	}
}
