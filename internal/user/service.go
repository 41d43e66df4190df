// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/apollo/internal/model"
	"github.com/hitoshi/apollo/internal/repository"
)

// Service はユーザー管理のサービス層。
// 貸出ID・予約ID集合は貸出サービスだけが更新するため、ここでは登録と参照のみを提供する。
type Service struct {
	userRepo repository.UserRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{
		userRepo: userRepo,
	}
}

// Register はユーザーを登録する。貸出・予約は空の状態で作成する。
func (s *Service) Register(ctx context.Context, name string) (*model.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.NewNameRequiredError()
	}

	user := &model.User{
		ID:             uuid.NewString(),
		Name:           name,
		LoanIDs:        []string{},
		ReservationIDs: []string{},
		CreatedAt:      time.Now(),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, model.NewStorageError("Couldn't create user", err)
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
	)
	return user, nil
}

// Get は指定IDのユーザーを返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, model.NewStorageError("Couldn't get user", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}
