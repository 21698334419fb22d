package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/example/neighborhood-portal/internal/access"
	"github.com/example/neighborhood-portal/internal/persistence"
)

// ProfileRepository captures the user reads and writes of the onboarding steps.
type ProfileRepository interface {
	GetUser(ctx context.Context, id string) (User, error)
	UpdateUser(ctx context.Context, user User) error
}

// ProfileService walks a resident through the KTP and residence steps and
// resolves the identity facts the onboarding gate evaluates.
type ProfileService struct {
	users     ProfileRepository
	directory NeighborhoodDirectory
	now       func() time.Time
	logger    *slog.Logger
}

// NewProfileService constructs a ProfileService with the provided dependencies.
func NewProfileService(users ProfileRepository, directory NeighborhoodDirectory, now func() time.Time) *ProfileService {
	return NewProfileServiceWithLogger(users, directory, now, nil)
}

// NewProfileServiceWithLogger constructs a ProfileService with a specified logger.
func NewProfileServiceWithLogger(users ProfileRepository, directory NeighborhoodDirectory, now func() time.Time, logger *slog.Logger) *ProfileService {
	if now == nil {
		now = time.Now
	}
	return &ProfileService{
		users:     users,
		directory: directory,
		now:       now,
		logger:    defaultLogger(logger),
	}
}

func (s *ProfileService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ProfileService", operation, attrs...)
}

// Me returns the caller's account.
func (s *ProfileService) Me(ctx context.Context, principal Principal) (User, error) {
	if strings.TrimSpace(principal.UserID) == "" {
		return User{}, denied(access.ReasonNotAuthenticated)
	}
	user, err := s.users.GetUser(ctx, principal.UserID)
	if err != nil {
		return User{}, mapRepoError(err)
	}
	return user, nil
}

// ResolveIdentity returns the onboarding facts for userID without roles.
func (s *ProfileService) ResolveIdentity(ctx context.Context, userID string) (*access.Identity, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return user.Identity(nil), nil
}

// CompleteKTP records the resident's NIK and legal name. The email must be
// verified first.
func (s *ProfileService) CompleteKTP(ctx context.Context, principal Principal, params CompleteKTPParams) (user User, err error) {
	logger := s.loggerWith(ctx, "CompleteKTP", "user_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "ktp step failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "ktp step completed")
	}()

	user, err = s.Me(ctx, principal)
	if err != nil {
		return
	}
	if !user.EmailVerified {
		err = denied(access.ReasonIncompleteProfile)
		return
	}

	nik := strings.TrimSpace(params.NIK)
	fullName := strings.Join(strings.Fields(params.FullName), " ")
	vErr := &ValidationError{}
	vErr.merge(validateNIK(nik))
	switch n := utf8.RuneCountInString(fullName); {
	case n == 0:
		vErr.add("fullName", "is required")
	case n > 100:
		vErr.add("fullName", "must be at most 100 characters")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	user.NIK = nik
	user.FullName = fullName
	user.KTPCompleted = true
	user.UpdatedAt = s.now()
	if err = s.users.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			err = fieldError("nik", "is already registered")
			return
		}
		err = mapRepoError(err)
	}
	return
}

// CompleteDetails records the resident's RT, address, and phone. The RW is
// derived from the RT. The KTP step must be done first.
func (s *ProfileService) CompleteDetails(ctx context.Context, principal Principal, params CompleteDetailsParams) (user User, err error) {
	logger := s.loggerWith(ctx, "CompleteDetails", "user_id", principal.UserID, "rt_id", params.RTID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "details step failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "details step completed", "rw_id", user.RWID)
	}()

	user, err = s.Me(ctx, principal)
	if err != nil {
		return
	}
	if !user.EmailVerified || !user.KTPCompleted {
		err = denied(access.ReasonIncompleteProfile)
		return
	}

	address := strings.TrimSpace(params.Address)
	phone := strings.TrimSpace(params.Phone)
	vErr := &ValidationError{}
	if params.RTID <= 0 {
		vErr.add("rtId", "is required")
	}
	switch n := utf8.RuneCountInString(address); {
	case n < 5:
		vErr.add("address", "must be at least 5 characters")
	case n > 255:
		vErr.add("address", "must be at most 255 characters")
	}
	vErr.merge(validatePhone(phone))
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var rt Neighborhood
	rt, err = s.directory.GetRT(ctx, params.RTID)
	if err != nil {
		if errors.Is(mapRepoError(err), ErrNotFound) {
			err = fieldError("rtId", "does not exist")
			return
		}
		return
	}

	user.RTID = rt.RTID
	user.RWID = rt.RWID
	user.Address = address
	user.Phone = phone
	user.DetailsCompleted = true
	user.UpdatedAt = s.now()
	if err = s.users.UpdateUser(ctx, user); err != nil {
		err = mapRepoError(err)
	}
	return
}

func validateNIK(nik string) *ValidationError {
	if utf8.RuneCountInString(nik) != 16 {
		return fieldError("nik", "must be exactly 16 digits")
	}
	for _, r := range nik {
		if !unicode.IsDigit(r) || r > unicode.MaxASCII {
			return fieldError("nik", "must be exactly 16 digits")
		}
	}
	return nil
}

func validatePhone(phone string) *ValidationError {
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 8 || len(digits) > 15 {
		return fieldError("phone", fmt.Sprintf("must have between %d and %d digits", 8, 15))
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return fieldError("phone", "may contain only digits and a leading +")
		}
	}
	return nil
}
