package service

import (
	"context"
	"errors"

	apperrors "github.com/aditya/towbid/internal/errors"
	"github.com/aditya/towbid/internal/models"
	"github.com/aditya/towbid/internal/repository"
)

type UserService interface {
	CreateUser(ctx context.Context, req *models.CreateUserRequest) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type userService struct {
	userRepo repository.UserRepository
}

func NewUserService(userRepo repository.UserRepository) UserService {
	return &userService{userRepo: userRepo}
}

func (s *userService) CreateUser(ctx context.Context, req *models.CreateUserRequest) (*models.User, error) {
	existing, err := s.userRepo.GetByPhone(ctx, req.Phone)
	if err != nil {
		return nil, apperrors.Internal("failed to check phone", err)
	}
	if existing != nil {
		return nil, apperrors.Validation("user with this phone already exists")
	}

	user := &models.User{
		Phone:  req.Phone,
		Name:   req.Name,
		Role:   req.Role,
		Rating: 5.0,
	}
	if req.Email != "" {
		user.Email = &req.Email
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.Validation("user with this phone already exists")
		}
		return nil, apperrors.Internal("failed to create user", err)
	}
	return user, nil
}

func (s *userService) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.Internal("failed to load user", err)
	}
	if user == nil {
		return nil, apperrors.NotFound("user")
	}
	return user, nil
}
