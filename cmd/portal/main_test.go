package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/example/neighborhood-portal/internal/access"
	"github.com/example/neighborhood-portal/internal/application"
	"github.com/example/neighborhood-portal/internal/approval"
	"github.com/example/neighborhood-portal/internal/config"
	"github.com/example/neighborhood-portal/internal/persistence/sqlite/migration"
	"github.com/example/neighborhood-portal/internal/portalclient"
	"github.com/example/neighborhood-portal/internal/session"
	"github.com/example/neighborhood-portal/internal/testfixtures"
)

// syncBuffer lets the server log concurrently while the test reads codes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// codeFor returns the last verification code logged for email.
func (b *syncBuffer) codeFor(t *testing.T, email string) string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	code := ""
	scanner := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for scanner.Scan() {
		var entry struct {
			Msg   string `json:"msg"`
			Email string `json:"email"`
			Code  string `json:"code"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry.Msg == "verification code issued" && entry.Email == email {
			code = entry.Code
		}
	}
	if code == "" {
		t.Fatalf("no verification code logged for %s", email)
	}
	return code
}

type portalFixture struct {
	app  *app
	logs *syncBuffer
	url  string
}

func newPortalFixture(t *testing.T) *portalFixture {
	t.Helper()

	logs := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Config{
		JWTSecret:           testfixtures.TestJWTSecret,
		JWTIssuer:           "portal-test",
		AccessTokenTTL:      15 * time.Minute,
		RefreshTokenTTL:     time.Hour,
		VerificationCodeTTL: 15 * time.Minute,
		RoleCacheTTL:        time.Minute,
		LoginRatePerMinute:  600,
		LoginBurst:          100,
	}

	portal, err := newApp(context.Background(), cfg, migration.TempFileTestSQLiteConfig(t.TempDir()), logger)
	if err != nil {
		t.Fatalf("newApp returned error: %v", err)
	}
	t.Cleanup(func() { _ = portal.storage.Close() })

	server := httptest.NewServer(portal.handler)
	t.Cleanup(server.Close)
	return &portalFixture{app: portal, logs: logs, url: server.URL}
}

// onboard registers, verifies, and completes both profile steps for email,
// returning a signed-in client.
func (f *portalFixture) onboard(t *testing.T, email, nik string) (*portalclient.Client, application.User) {
	t.Helper()
	ctx := context.Background()

	client, err := portalclient.New(f.url, session.NewStore(), nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := client.Register(ctx, email, "rahasia-warga-123"); err != nil {
		t.Fatalf("Register(%s) returned error: %v", email, err)
	}
	if _, err := client.VerifyEmail(ctx, email, f.logs.codeFor(t, email)); err != nil {
		t.Fatalf("VerifyEmail(%s) returned error: %v", email, err)
	}
	if _, err := client.CompleteKTP(ctx, nik, "Warga "+nik[12:]); err != nil {
		t.Fatalf("CompleteKTP(%s) returned error: %v", email, err)
	}
	user, err := client.CompleteDetails(ctx, testfixtures.SeedRTID, "Jl. Melati No. 7", "081234567890")
	if err != nil {
		t.Fatalf("CompleteDetails(%s) returned error: %v", email, err)
	}
	return client, user
}

func (f *portalFixture) grant(t *testing.T, user application.User, role access.RoleAssignment) {
	t.Helper()
	if err := f.app.storage.CreateRole(context.Background(), testfixtures.RoleRow("role-"+user.ID, user.ID, role)); err != nil {
		t.Fatalf("failed to grant %s: %v", role.Role, err)
	}
}

func TestPortalApprovalFlow(t *testing.T) {
	f := newPortalFixture(t)
	ctx := context.Background()

	warga, _ := f.onboard(t, "warga@example.com", "3174000000000001")
	rtClient, rtUser := f.onboard(t, "ketua.rt@example.com", "3174000000000002")
	rwClient, rwUser := f.onboard(t, "ketua.rw@example.com", "3174000000000003")
	f.grant(t, rtUser, testfixtures.KetuaRT(testfixtures.SeedRTID, testfixtures.SeedRWID))
	f.grant(t, rwUser, testfixtures.KetuaRW(testfixtures.SeedRWID))

	submitted, err := warga.Submit(ctx, testfixtures.CategoryDomisili, "Keperluan pindah domisili ke Bandung")
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if submitted.Status != approval.StatusSubmitted {
		t.Fatalf("expected SUBMITTED, got %s", submitted.Status)
	}

	if _, err := rwClient.Decide(ctx, submitted.ID, approval.TierRW, approval.ActionApprove, ""); !errors.Is(err, application.ErrInvalidTransition) {
		t.Fatalf("expected RW decision before RT to be an invalid transition, got %v", err)
	}

	queue, err := rtClient.PendingRT(ctx, application.ListQuery{})
	if err != nil {
		t.Fatalf("PendingRT returned error: %v", err)
	}
	if queue.Total != 1 || queue.Items[0].ID != submitted.ID {
		t.Fatalf("unexpected RT queue: %+v", queue)
	}

	if _, err := rtClient.Decide(ctx, submitted.ID, approval.TierRT, approval.ActionApprove, ""); err != nil {
		t.Fatalf("RT Decide returned error: %v", err)
	}
	if _, err := rtClient.Decide(ctx, submitted.ID, approval.TierRT, approval.ActionApprove, ""); !errors.Is(err, application.ErrInvalidTransition) {
		t.Fatalf("expected second RT decision to be an invalid transition, got %v", err)
	}

	completed, err := rwClient.Decide(ctx, submitted.ID, approval.TierRW, approval.ActionApprove, "")
	if err != nil {
		t.Fatalf("RW Decide returned error: %v", err)
	}
	if completed.Status != approval.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", completed.Status)
	}

	fetched, err := warga.Get(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !fetched.Downloadable() || fetched.RTDecision.ApproverID != rtUser.ID {
		t.Fatalf("unexpected final request: %+v", fetched)
	}

	mine, err := warga.MyRequests(ctx, application.ListQuery{Status: approval.StatusCompleted})
	if err != nil {
		t.Fatalf("MyRequests returned error: %v", err)
	}
	if mine.Total != 1 {
		t.Fatalf("expected one completed request, got %+v", mine)
	}
}

func TestPortalOnboardingGate(t *testing.T) {
	f := newPortalFixture(t)
	ctx := context.Background()

	client, err := portalclient.New(f.url, session.NewStore(), nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := client.Register(ctx, "baru@example.com", "rahasia-warga-123"); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if _, err := client.VerifyEmail(ctx, "baru@example.com", f.logs.codeFor(t, "baru@example.com")); err != nil {
		t.Fatalf("VerifyEmail returned error: %v", err)
	}

	evaluation, err := client.Evaluate(ctx, access.PathDashboard)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if evaluation.Decision.Allow || evaluation.Decision.RedirectTo != access.PathCompleteKTP {
		t.Fatalf("expected redirect to the KTP step, got %+v", evaluation.Decision)
	}

	if _, err := client.Submit(ctx, testfixtures.CategoryDomisili, "Keperluan pindah domisili ke Bandung"); err == nil {
		t.Fatal("expected submission without a residence to fail")
	}

	if err := client.Logout(ctx); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}
	if _, err := client.Me(ctx); !errors.Is(err, application.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired after logout, got %v", err)
	}
}

func TestBootstrapAdmin(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(&syncBuffer{}, nil))
	lurah := h.SeedUser(testfixtures.NewUserFixture(testfixtures.WithUserEmail("lurah@example.com")))

	if err := bootstrapAdmin(ctx, h.Storage, "missing@example.com", logger); err != nil {
		t.Fatalf("unknown email should be skipped, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := bootstrapAdmin(ctx, h.Storage, "lurah@example.com", logger); err != nil {
			t.Fatalf("bootstrapAdmin returned error: %v", err)
		}
	}

	roles, err := h.Storage.ListRolesForUser(ctx, lurah.ID)
	if err != nil {
		t.Fatalf("ListRolesForUser returned error: %v", err)
	}
	if len(roles) != 1 || roles[0].Role != string(access.RoleAdmin) {
		t.Fatalf("expected exactly one ADMIN role, got %+v", roles)
	}
}

func TestApprovalAdapterRoundTrip(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	resident := h.SeedUser(testfixtures.NewUserFixture())
	rtHead := h.SeedUser(testfixtures.NewUserFixture(testfixtures.WithUserID("rt-head"), testfixtures.WithUserEmail("ketua.rt@example.com")))
	rwHead := h.SeedUser(testfixtures.NewUserFixture(testfixtures.WithUserID("rw-head"), testfixtures.WithUserEmail("ketua.rw@example.com")))
	repo := newApprovalRepositoryAdapter(h.Storage)

	request := testfixtures.NewRequest(resident)
	if err := repo.CreateRequest(ctx, request); err != nil {
		t.Fatalf("CreateRequest returned error: %v", err)
	}

	rejected := testfixtures.NewRequest(resident,
		testfixtures.WithRequestID(request.ID),
		testfixtures.DecidedBy(testfixtures.RTApproves(rtHead.ID), testfixtures.Rejects(approval.TierRW, rwHead.ID, "Berkas tidak lengkap")),
	)
	if err := repo.UpdateRequestIfStatus(ctx, rejected, approval.StatusSubmitted); err != nil {
		t.Fatalf("UpdateRequestIfStatus returned error: %v", err)
	}

	stored, err := repo.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("GetRequest returned error: %v", err)
	}
	if stored.Status != approval.StatusRejected || stored.RejectedAt != approval.TierRW {
		t.Fatalf("unexpected stored status: %+v", stored)
	}
	if stored.RTDecision == nil || stored.RTDecision.Action != approval.ActionApprove || stored.RTDecision.Notes != "" {
		t.Fatalf("unexpected RT decision: %+v", stored.RTDecision)
	}
	if stored.RWDecision == nil || stored.RWDecision.ApproverID != rwHead.ID || stored.RWDecision.Notes != "Berkas tidak lengkap" {
		t.Fatalf("unexpected RW decision: %+v", stored.RWDecision)
	}

	page, total, err := repo.ListRequests(ctx, application.RequestFilter{
		RWIDs:    []int64{testfixtures.SeedRWID},
		Statuses: []approval.Status{approval.StatusRejected},
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("ListRequests returned error: %v", err)
	}
	if total != 1 || len(page) != 1 {
		t.Fatalf("expected one rejected request, got %d (%d items)", total, len(page))
	}
}
