/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package users

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tomoncle/userhub/apperrors"
	"github.com/tomoncle/userhub/database"
	"github.com/tomoncle/userhub/repository"
	"github.com/tomoncle/userhub/utils"
)

// Service is the set of operations behind the users routes. Errors are
// *apperrors.Error values ready to be rendered.
type Service interface {
	// List returns every user ordered by id.
	List(ctx context.Context) ([]*User, error)

	// Get returns the user with the given id.
	Get(ctx context.Context, id int64) (*User, error)

	// Create inserts a user. A taken email is a conflict.
	Create(ctx context.Context, req CreateRequest) (*User, error)

	// Update applies the present fields of req to the user with the given id.
	Update(ctx context.Context, id int64, req UpdateRequest) (*User, error)

	// Delete removes the user with the given id.
	Delete(ctx context.Context, id int64) error
}

type serviceImpl struct {
	repo   repository.Repository[User]
	logger *logrus.Logger
	now    func() time.Time
}

// NewService returns a Service storing users through repo.
func NewService(repo repository.Repository[User]) Service {
	return &serviceImpl{
		repo:   repo,
		logger: utils.NewLogger("users"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *serviceImpl) List(ctx context.Context) ([]*User, error) {
	list, err := s.repo.GetAll(ctx, "id ASC")
	if err != nil {
		return nil, apperrors.Internal("failed to list users", err)
	}
	return list, nil
}

func (s *serviceImpl) Get(ctx context.Context, id int64) (*User, error) {
	user, err := s.repo.GetOne(ctx, id)
	if err != nil {
		return nil, s.mapError(err, id)
	}
	return user, nil
}

func (s *serviceImpl) Create(ctx context.Context, req CreateRequest) (*User, error) {
	now := s.now()
	user := &User{
		Name:      req.Name,
		Email:     req.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, s.mapError(err, 0)
	}
	s.logger.WithField("user_id", user.ID).Debug("user created")
	return user, nil
}

func (s *serviceImpl) Update(ctx context.Context, id int64, req UpdateRequest) (*User, error) {
	user, err := s.repo.GetOne(ctx, id)
	if err != nil {
		return nil, s.mapError(err, id)
	}

	columns := []string{"updated_at"}
	if req.Name != nil {
		user.Name = *req.Name
		columns = append(columns, "name")
	}
	if req.Email != nil {
		user.Email = *req.Email
		columns = append(columns, "email")
	}
	user.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, user, columns...); err != nil {
		return nil, s.mapError(err, id)
	}
	return user, nil
}

func (s *serviceImpl) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.mapError(err, id)
	}
	s.logger.WithField("user_id", id).Debug("user deleted")
	return nil
}

func (s *serviceImpl) mapError(err error, id int64) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound("user not found").With("user_id", id)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Unavailable("database timeout", err)
	}
	if ok, kind := database.IsSqlError(err); ok {
		switch kind {
		case database.NoRowsErr:
			return apperrors.NotFound("user not found").With("user_id", id)
		case database.DuplicateKeyErr:
			return apperrors.Conflict("email already exists", err)
		case database.NotNullViolationErr:
			return apperrors.Validation("name and email are required")
		}
	}
	return apperrors.Internal("user storage failed", err)
}
