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

package userhub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tomoncle/userhub/config"
	"github.com/tomoncle/userhub/database"
	"github.com/tomoncle/userhub/server"
	"github.com/tomoncle/userhub/users"
	"github.com/tomoncle/userhub/utils"
)

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second
)

// Models lists every table the service owns, in creation order.
func Models() database.ModelRegistry {
	return database.NewModelRegistry(users.Model())
}

// App is a running server. It exists only once the schema is in sync and the
// listener is bound.
type App struct {
	logger   *logrus.Logger
	manager  database.AbstractDatabaseManager
	listener net.Listener
	srv      *http.Server
	done     chan error
}

// Start connects to the database, brings the schema in sync, applies seed
// files, and only then binds the listener and starts serving. On any error
// everything opened so far is closed again and no listener is left behind.
func Start(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	mode, err := cfg.SyncMode()
	if err != nil {
		return nil, err
	}

	factory := database.NewDatabaseFactory(nil)
	manager, err := factory.CreateFromConfig(cfg.DatabaseConfig(), Models())
	if err != nil {
		return nil, fmt.Errorf("failed to create database manager: %w", err)
	}
	start := time.Now()
	if err := factory.ConnectAndSync(ctx, mode); err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{"sync_mode": mode, "duration": utils.Since(start)}).Info("db is ready")

	if err := factory.Seed(ctx); err != nil {
		return nil, err
	}

	app := server.New(manager, server.Options{
		QueryTimeout: cfg.Database.ConnectionConfig.QueryTimeout,
		Logger:       logger,
	})

	listener, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("failed to listen on port %s: %w", cfg.Port, err)
	}
	logger.Infof("Server running on port %s", cfg.Port)

	a := &App{
		logger:   logger,
		manager:  manager,
		listener: listener,
		srv: &http.Server{
			Handler:      app.Handler(),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		},
		done: make(chan error, 1),
	}
	go a.serve()
	return a, nil
}

func (a *App) serve() {
	err := a.srv.Serve(a.listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	a.done <- err
	close(a.done)
}

// Addr is the address the listener is bound to.
func (a *App) Addr() net.Addr {
	return a.listener.Addr()
}

// Wait blocks until the server stops and returns the serve error, if any.
func (a *App) Wait() error {
	return <-a.done
}

// Shutdown stops accepting requests, waits for in-flight ones within ctx and
// then closes the database.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down server")
	var errs []error
	if err := a.srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown server: %w", err))
	}
	if err := a.manager.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}
	return errors.Join(errs...)
}
