package service

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/etekin/library-backend/internal/errs"
	"github.com/etekin/library-backend/internal/model"
	"github.com/etekin/library-backend/internal/repository"
	"github.com/etekin/library-backend/pkg/auth"
)

const tokenTTL = 24 * time.Hour

type Membership struct {
	repo repository.Repository
	rec  Reconciler
	log  *zap.Logger

	now func() time.Time
}

func NewMembership(repo repository.Repository, rec Reconciler, log *zap.Logger) *Membership {
	return &Membership{
		repo: repo,
		rec:  rec,
		log:  log.Named("membership"),
		now:  time.Now,
	}
}

// Login verifies credentials, freshens lifecycle state, and issues a JWT.
// Invalid username and invalid password are indistinguishable to the caller.
func (s *Membership) Login(ctx context.Context, req model.LoginRequest) (model.LoginResponse, error) {
	user, err := s.repo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.LoginResponse{}, errors.Wrap(errs.ErrUnauthorized, "invalid credentials")
		}
		return model.LoginResponse{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return model.LoginResponse{}, errors.Wrap(errs.ErrUnauthorized, "invalid credentials")
	}

	// Staff logins attribute fines created by this sweep to the actor.
	identity := auth.Identity{UserID: user.ID, Username: user.Username, Role: string(user.Role)}
	if err := s.rec.Reconcile(auth.SetAuthContext(ctx, identity), model.ToDate(s.now())); err != nil {
		return model.LoginResponse{}, err
	}

	expirationTime := s.now().Add(tokenTTL)
	claims := &auth.Claims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
		},
	}
	claims.Profile.UserID = user.ID
	claims.Profile.Username = user.Username
	claims.Profile.Role = string(user.Role)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(auth.JWTKey)
	if err != nil {
		return model.LoginResponse{}, errors.Wrap(err, "sign token")
	}

	return model.LoginResponse{
		Success:     true,
		UserID:      user.ID,
		Name:        user.Name,
		Type:        user.Role,
		AccessToken: tokenString,
		ExpiresIn:   int(expirationTime.Unix()),
	}, nil
}

// Session resolves the authenticated identity back to a user profile,
// freshening lifecycle state on the way.
func (s *Membership) Session(ctx context.Context) (model.SessionResponse, error) {
	identity, err := auth.FromContext(ctx)
	if err != nil {
		return model.SessionResponse{LoggedIn: false}, nil
	}
	if err := s.rec.Reconcile(ctx, model.ToDate(s.now())); err != nil {
		return model.SessionResponse{}, err
	}
	user, err := s.repo.GetUserByID(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.SessionResponse{LoggedIn: false}, nil
		}
		return model.SessionResponse{}, err
	}
	return model.SessionResponse{
		LoggedIn: true,
		UserID:   user.ID,
		Name:     user.Name,
		Type:     user.Role,
		Username: user.Username,
	}, nil
}

func (s *Membership) AddMember(ctx context.Context, req model.AddMemberRequest) (model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, errors.Wrap(err, "hash password")
	}
	created, err := s.repo.CreateStudent(ctx, model.User{
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		Username:     req.Username,
		PasswordHash: string(hash),
	})
	if err != nil {
		if errors.Is(err, errs.ErrConflict) {
			return model.User{}, errors.Wrap(errs.ErrConflict, "username already exists")
		}
		return model.User{}, err
	}
	return created, nil
}

func (s *Membership) ListMembers(ctx context.Context) ([]model.MemberRow, error) {
	return s.repo.ListMembers(ctx)
}

func (s *Membership) SearchMembers(ctx context.Context, query string) ([]model.MemberRow, error) {
	if query == "" {
		return s.repo.ListMembers(ctx)
	}
	return s.repo.SearchMembers(ctx, query)
}

// DeleteMember refuses while the student holds open borrows or unpaid fines.
func (s *Membership) DeleteMember(ctx context.Context, studentID int) error {
	if _, err := s.repo.GetUserByRole(ctx, studentID, model.RoleStudent); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errors.Wrap(errs.ErrNotFound, "member")
		}
		return err
	}

	open, err := s.repo.CountOpenBorrowsByStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if open > 0 {
		return errors.Wrap(errs.ErrConflict, "cannot delete member with active borrows")
	}

	unpaid, err := s.repo.CountUnpaidFinesByStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if unpaid > 0 {
		return errors.Wrap(errs.ErrConflict, "cannot delete member with unpaid fines")
	}

	return s.repo.DeleteStudent(ctx, studentID)
}

func (s *Membership) Profile(ctx context.Context) (model.User, error) {
	identity, err := auth.FromContext(ctx)
	if err != nil {
		return model.User{}, errors.Wrap(errs.ErrUnauthorized, err.Error())
	}
	return s.repo.GetUserByID(ctx, identity.UserID)
}

// UpdateProfile changes email, phone, and optionally the password; a
// password change requires the current password.
func (s *Membership) UpdateProfile(ctx context.Context, req model.UpdateProfileRequest) (model.User, error) {
	identity, err := auth.FromContext(ctx)
	if err != nil {
		return model.User{}, errors.Wrap(errs.ErrUnauthorized, err.Error())
	}
	user, err := s.repo.GetUserByID(ctx, identity.UserID)
	if err != nil {
		return model.User{}, err
	}

	var newHash string
	if req.Password != "" {
		if req.CurrentPassword == "" {
			return model.User{}, errors.Wrap(errs.ErrInvalidInput, "current password is required to change password")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
			return model.User{}, errors.Wrap(errs.ErrUnauthorized, "current password is incorrect")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return model.User{}, errors.Wrap(err, "hash password")
		}
		newHash = string(hash)
	}

	if req.Email == "" && req.Phone == "" && newHash == "" {
		return user, nil
	}
	if err := s.repo.UpdateUserContact(ctx, user.ID, req.Email, req.Phone, newHash); err != nil {
		return model.User{}, err
	}
	return s.repo.GetUserByID(ctx, user.ID)
}
