package services

import (
	"context"
	"time"

	"github.com/flockchat/users-api/internal/store"
	"github.com/flockchat/users-api/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (types.User, error)
	GetByNickname(ctx context.Context, nickname string) (types.User, error)
	List(ctx context.Context, filter store.ListFilter) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateProfile(ctx context.Context, id int64, nickname, passwordHash *string, now int64) error
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo UserRepository
	now  func() int64
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{
		repo: repo,
		now:  func() int64 { return time.Now().Unix() },
	}
}

// Register creates an account with the given nickname and password. New
// accounts start offline; the first authenticated request promotes them.
func (s *UserService) Register(ctx context.Context, nickname, password string) (types.User, error) {
	now := s.now()
	user := types.User{
		Nickname:     nickname,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActiveAt: now,
	}
	if err := user.SetPassword(password); err != nil {
		return types.User{}, err
	}
	return s.repo.Create(ctx, user)
}

func (s *UserService) GetByID(ctx context.Context, id int64) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByNickname(ctx context.Context, nickname string) (types.User, error) {
	return s.repo.GetByNickname(ctx, nickname)
}

func (s *UserService) List(ctx context.Context, filter store.ListFilter) ([]types.User, error) {
	return s.repo.List(ctx, filter)
}

// UpdateProfile applies patch to the given user. An empty patch is a
// no-op and does not advance updated_at.
func (s *UserService) UpdateProfile(ctx context.Context, id int64, patch types.UserPatch) error {
	if patch.Empty() {
		return nil
	}

	var passwordHash *string
	if patch.Password != nil {
		hash, err := types.HashPassword(*patch.Password)
		if err != nil {
			return err
		}
		passwordHash = &hash
	}
	return s.repo.UpdateProfile(ctx, id, patch.Nickname, passwordHash, s.now())
}
