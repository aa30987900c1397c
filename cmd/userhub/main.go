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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomoncle/userhub"
	"github.com/tomoncle/userhub/config"
	"github.com/tomoncle/userhub/utils"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := utils.NewLogger("main")

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Error("Failed to load config")
		os.Exit(1)
	}
	utils.ConfigureLogFormat(cfg.LogFormat)
	utils.ConfigureLogLevel(cfg.LogLevel)

	app, err := userhub.Start(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to start server")
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("Graceful shutdown failed")
			os.Exit(1)
		}
	case err := <-waitAsync(app):
		if err != nil {
			logger.WithError(err).Error("Server stopped")
			os.Exit(1)
		}
	}
	logger.Info("Server stopped")
}

func waitAsync(app *userhub.App) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- app.Wait() }()
	return ch
}
