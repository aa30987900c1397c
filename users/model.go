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

// Package users implements the /api/users resource.
package users

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/tomoncle/userhub/database"
)

// User is a row of the users table.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	Name      string    `bun:"name,nullzero,notnull" json:"name"`
	Email     string    `bun:"email,nullzero,notnull,unique" json:"email"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
}

// CreateRequest is the body of POST /api/users.
type CreateRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UpdateRequest is the body of PUT /api/users/:id. Absent fields keep their
// stored value.
type UpdateRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// Model registers the users table with schema sync.
func Model() database.SQLModel {
	return database.NewModelAdapter((*User)(nil), 10)
}
