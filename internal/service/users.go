package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nwatch/neighborwatch/internal/core"
	"github.com/nwatch/neighborwatch/internal/data"
	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
	"github.com/nwatch/neighborwatch/internal/domain/model"
	apperrors "github.com/nwatch/neighborwatch/internal/errors"
)

// UserServiceOptions groups dependencies for UserService.
type UserServiceOptions struct {
	Repo core.UserRepository
	// OnChange runs after a user's record is created or modified so cached
	// authorization state for that uid can be dropped. Optional.
	OnChange func(uid string)
	Logger   *slog.Logger
}

// UserService manages authorization records: self-registration and the
// admin approval and role operations.
type UserService struct {
	repo     core.UserRepository
	onChange func(uid string)
	logger   *slog.Logger
}

// NewUserService constructs a new UserService.
func NewUserService(opts UserServiceOptions) *UserService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{
		repo:     opts.Repo,
		onChange: opts.OnChange,
		logger:   logger.With("component", "user_service"),
	}
}

// Register creates the record for a signed-in principal. Residents are
// approved immediately; police accounts wait for an administrator.
// Administrator accounts cannot be self-registered.
func (s *UserService) Register(
	ctx context.Context,
	principal domainauth.Principal,
	requested domainauth.Role,
) (*model.User, error) {
	if principal.UID == "" {
		return nil, apperrors.Forbidden("sign in before registering")
	}
	if requested == "" {
		requested = domainauth.RoleResident
	}
	switch requested {
	case domainauth.RoleResident, domainauth.RolePolice:
	case domainauth.RoleAdmin:
		return nil, apperrors.Forbidden("administrator accounts cannot be self-registered")
	default:
		return nil, apperrors.ValidationField("requested_role", "role must be resident or police")
	}

	user, err := s.create(ctx, &model.CreateUserRequest{
		UID:      principal.UID,
		Email:    principal.Email,
		Role:     requested,
		Approved: !requested.RequiresApproval(),
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user registered",
		"uid", user.UID, "role", user.Role, "approved", user.Approved)
	s.changed(user.UID)
	return user, nil
}

// Create inserts a record on behalf of an operator, bypassing self-registration rules.
func (s *UserService) Create(ctx context.Context, req *model.CreateUserRequest) (*model.User, error) {
	user, err := s.create(ctx, req)
	if err != nil {
		return nil, err
	}
	s.changed(user.UID)
	return user, nil
}

func (s *UserService) create(ctx context.Context, req *model.CreateUserRequest) (*model.User, error) {
	if req == nil {
		return nil, apperrors.Validation("request body is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	user, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, s.mapErr(err, "create user")
	}
	return user, nil
}

// Get returns the record for uid.
func (s *UserService) Get(ctx context.Context, uid string) (*model.User, error) {
	user, err := s.repo.GetByUID(ctx, uid)
	if err != nil {
		return nil, s.mapErr(err, "get user")
	}
	return user, nil
}

// List returns a page of records.
func (s *UserService) List(ctx context.Context, opts model.UsersListOptions) ([]*model.User, error) {
	users, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, s.mapErr(err, "list users")
	}
	return users, nil
}

// SetApproval approves or revokes a user.
func (s *UserService) SetApproval(ctx context.Context, uid string, approved bool) (*model.User, error) {
	user, err := s.repo.SetApproval(ctx, uid, approved)
	if err != nil {
		return nil, s.mapErr(err, "set approval")
	}
	s.logger.InfoContext(ctx, "user approval changed", "uid", uid, "approved", approved)
	s.changed(uid)
	return user, nil
}

// SetRole changes a user's role.
func (s *UserService) SetRole(ctx context.Context, uid string, role domainauth.Role) (*model.User, error) {
	if !role.Valid() {
		return nil, apperrors.ValidationField("role", "role must be one of resident, police, admin")
	}
	user, err := s.repo.SetRole(ctx, uid, role)
	if err != nil {
		return nil, s.mapErr(err, "set role")
	}
	s.logger.InfoContext(ctx, "user role changed", "uid", uid, "role", role)
	s.changed(uid)
	return user, nil
}

func (s *UserService) changed(uid string) {
	if s.onChange != nil {
		s.onChange(uid)
	}
}

func (s *UserService) mapErr(err error, op string) error {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, data.ErrUserNotFound):
		return apperrors.Wrap(err, apperrors.ErrCodeNotFound, "user not found")
	case errors.Is(err, data.ErrUserExists):
		return apperrors.Wrap(err, apperrors.ErrCodeConflict, "user is already registered")
	}
	if mapped := apperrors.MapDBError(err); mapped != err {
		return mapped
	}
	return apperrors.Wrapf(err, apperrors.ErrCodeInternal, "%s failed", op)
}
