package approval

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var decidedAt = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func submitted() Request {
	return Request{ID: "req-1", ApplicantID: "citizen", RTID: 5, RWID: 2, Reason: "Keperluan domisili", Status: StatusSubmitted}
}

func approve(approver string) Decision {
	return Decision{ApproverID: approver, Action: ActionApprove, DecidedAt: decidedAt}
}

func reject(approver, notes string) Decision {
	return Decision{ApproverID: approver, Action: ActionReject, Notes: notes, DecidedAt: decidedAt}
}

func TestApply_RoundTrips(t *testing.T) {
	t.Parallel()

	t.Run("rt then rw approval completes", func(t *testing.T) {
		t.Parallel()

		afterRT, err := Apply(submitted(), TierRT, approve("ketua-rt"))
		if err != nil {
			t.Fatalf("RT approve failed: %v", err)
		}
		if afterRT.Status != StatusRTApproved {
			t.Fatalf("expected RT_APPROVED, got %s", afterRT.Status)
		}
		if afterRT.Downloadable() {
			t.Fatalf("request must not be downloadable before RW approval")
		}

		done, err := Apply(afterRT, TierRW, approve("ketua-rw"))
		if err != nil {
			t.Fatalf("RW approve failed: %v", err)
		}
		if done.Status != StatusCompleted {
			t.Fatalf("expected COMPLETED, got %s", done.Status)
		}
		if done.RTDecision == nil || done.RWDecision == nil {
			t.Fatalf("expected both decisions recorded, got %+v", done)
		}
		if !done.Downloadable() {
			t.Fatalf("completed request should be downloadable")
		}
		if !done.UpdatedAt.Equal(decidedAt) {
			t.Fatalf("expected UpdatedAt to follow decision time")
		}
	})

	t.Run("rt rejection is terminal", func(t *testing.T) {
		t.Parallel()

		rejected, err := Apply(submitted(), TierRT, reject("ketua-rt", "x"))
		if err != nil {
			t.Fatalf("RT reject failed: %v", err)
		}
		if rejected.Status != StatusRejected || rejected.RejectedAt != TierRT {
			t.Fatalf("expected REJECTED at RT, got %s at %q", rejected.Status, rejected.RejectedAt)
		}
		if rejected.RWDecision != nil {
			t.Fatalf("expected no RW decision")
		}
		if _, err := Apply(rejected, TierRW, approve("ketua-rw")); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected RW decision after rejection to fail, got %v", err)
		}
	})

	t.Run("rw rejection records tier", func(t *testing.T) {
		t.Parallel()

		afterRT, _ := Apply(submitted(), TierRT, approve("ketua-rt"))
		rejected, err := Apply(afterRT, TierRW, reject("ketua-rw", "Data tidak lengkap"))
		if err != nil {
			t.Fatalf("RW reject failed: %v", err)
		}
		if rejected.RejectedAt != TierRW || rejected.RWDecision.Notes != "Data tidak lengkap" {
			t.Fatalf("unexpected rejection %+v", rejected)
		}
		if rejected.Downloadable() {
			t.Fatalf("rejected request must not be downloadable")
		}
	})
}

func TestApply_Preconditions(t *testing.T) {
	t.Parallel()

	t.Run("second decision on the same tier fails and leaves request unchanged", func(t *testing.T) {
		t.Parallel()

		first, err := Apply(submitted(), TierRT, approve("ketua-rt"))
		if err != nil {
			t.Fatalf("first decision failed: %v", err)
		}
		second, err := Apply(first, TierRT, reject("other", "late"))
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if second.Status != first.Status || second.RTDecision != first.RTDecision {
			t.Fatalf("expected request fields to stay as after first decision")
		}
	})

	t.Run("rw cannot decide before rt", func(t *testing.T) {
		t.Parallel()

		for _, d := range []Decision{approve("ketua-rw"), reject("ketua-rw", "no"), reject("ketua-rw", "")} {
			if _, err := Apply(submitted(), TierRW, d); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition for %s, got %v", d.Action, err)
			}
		}
	})

	t.Run("reject without notes fails on both tiers", func(t *testing.T) {
		t.Parallel()

		for _, notes := range []string{"", "   ", "\n\t"} {
			if _, err := Apply(submitted(), TierRT, reject("ketua-rt", notes)); !errors.Is(err, ErrNotesRequired) {
				t.Fatalf("RT: expected ErrNotesRequired for %q, got %v", notes, err)
			}
			afterRT, _ := Apply(submitted(), TierRT, approve("ketua-rt"))
			if _, err := Apply(afterRT, TierRW, reject("ketua-rw", notes)); !errors.Is(err, ErrNotesRequired) {
				t.Fatalf("RW: expected ErrNotesRequired for %q, got %v", notes, err)
			}
		}
	})

	t.Run("draft may be decided by rt", func(t *testing.T) {
		t.Parallel()

		draft := submitted()
		draft.Status = StatusDraft
		next, err := Apply(draft, TierRT, approve("ketua-rt"))
		if err != nil || next.Status != StatusRTApproved {
			t.Fatalf("expected draft to advance, got %s %v", next.Status, err)
		}
	})

	t.Run("terminal states reject every decision", func(t *testing.T) {
		t.Parallel()

		for _, status := range []Status{StatusCompleted, StatusRejected, StatusRWApproved} {
			req := submitted()
			req.Status = status
			for _, tier := range []Tier{TierRT, TierRW} {
				if _, err := Apply(req, tier, approve("x")); !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected %s/%s to fail, got %v", status, tier, err)
				}
			}
		}
	})

	t.Run("unknown action", func(t *testing.T) {
		t.Parallel()

		if _, err := Apply(submitted(), TierRT, Decision{Action: "escalate"}); !errors.Is(err, ErrUnknownAction) {
			t.Fatalf("expected ErrUnknownAction, got %v", err)
		}
	})
}

func TestNormalizeReason(t *testing.T) {
	t.Parallel()

	if _, err := NormalizeReason("too short"); !errors.Is(err, ErrReasonLength) {
		t.Fatalf("expected 9 characters to be rejected, got %v", err)
	}
	if got, err := NormalizeReason("  exactly10!  "); err != nil || got != "exactly10!" {
		t.Fatalf("expected trimmed 10 characters to pass, got %q %v", got, err)
	}
	if _, err := NormalizeReason(strings.Repeat("a", MaxReasonLength)); err != nil {
		t.Fatalf("expected max length to pass, got %v", err)
	}
	if _, err := NormalizeReason(strings.Repeat("a", MaxReasonLength+1)); !errors.Is(err, ErrReasonLength) {
		t.Fatalf("expected overlong reason to fail, got %v", err)
	}
	if _, err := NormalizeReason(strings.Repeat("é", MinReasonLength)); err != nil {
		t.Fatalf("expected multibyte characters to count once, got %v", err)
	}
}

func TestWireParsing(t *testing.T) {
	t.Parallel()

	if a, err := ParseWireAction("A"); err != nil || a != ActionApprove {
		t.Fatalf("expected A to approve, got %s %v", a, err)
	}
	if a, err := ParseWireAction("R"); err != nil || a != ActionReject {
		t.Fatalf("expected R to reject, got %s %v", a, err)
	}
	if _, err := ParseWireAction("approve"); err == nil {
		t.Fatalf("expected long form to be rejected on the wire")
	}
	if ActionReject.WireCode() != "R" || ActionApprove.WireCode() != "A" {
		t.Fatalf("unexpected wire codes")
	}
	for _, s := range Statuses {
		if parsed, err := ParseStatus(string(s)); err != nil || parsed != s {
			t.Fatalf("expected %s to parse", s)
		}
	}
	if _, err := ParseStatus("PENDING"); err == nil {
		t.Fatalf("expected unknown status to fail")
	}
	if tier, err := ParseTier("rw"); err != nil || tier != TierRW {
		t.Fatalf("expected rw to parse, got %s %v", tier, err)
	}
}
