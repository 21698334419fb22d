// Package http exposes the neighborhood portal API over chi.
//
// Public endpoints:
//   - POST /auth/register, /auth/login, /auth/verify-email, /auth/resend-verification
//     (rate limited per client IP), POST /auth/refresh, POST /auth/logout.
//   - GET /healthz, GET /metrics.
//
// Endpoints behind a bearer access token:
//   - POST /auth/logout-all, GET /auth/me.
//   - POST /profile/ktp, POST /profile/details: the onboarding steps.
//   - GET /user-roles/my-roles, GET /access/evaluate?path=: role listing and the
//     combined onboarding gate and role decision for a route.
//   - POST /admin/user-roles: role grants by administrators.
//   - GET /categories, POST /surat-pengantar, GET /surat-pengantar/{id},
//     POST /surat-pengantar/{id}/rt-approval and /rw-approval with {"action":"A"|"R"},
//     GET /surat-pengantar/rt/pending, /rw/pending and /my-requests with
//     page, limit, status and sortOrder query parameters.
//
// Failures share one envelope: {"error_code","message","reason"?,"errors"?}.
// Request and response DTOs live in dto.go.
package http
