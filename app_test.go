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
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/userhub/config"
	"github.com/tomoncle/userhub/database"
)

func testConfig(t *testing.T, appEnv string, mode database.SyncMode) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Port = "0"
	cfg.AppEnv = appEnv
	cfg.Database.ConnectionConfig.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	cfg.Database.DataMigrateConfig.SyncMode = mode
	cfg.Database.DataMigrateConfig.Environment = appEnv
	return cfg
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := Start(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})
	return app
}

func TestStart_ServesAfterSync(t *testing.T) {
	app := startApp(t, testConfig(t, database.EnvTest, ""))
	base := "http://" + app.Addr().String()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"status":"ok"}`, string(body))

	// the very first users request finds the table
	resp, err = http.Get(base + "/api/users")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]\n", string(body))
}

func TestStart_BindsConfiguredPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := testConfig(t, database.EnvTest, database.SyncRecreate)
	cfg.Port = fmt.Sprint(port)
	app := startApp(t, cfg)

	assert.Equal(t, port, app.Addr().(*net.TCPAddr).Port)
}

func TestStart_RecreateRefusedInProduction(t *testing.T) {
	cfg := testConfig(t, database.EnvProduction, database.SyncRecreate)

	app, err := Start(context.Background(), cfg, quietLogger())

	require.Error(t, err)
	assert.Nil(t, app)
	assert.ErrorIs(t, err, database.ErrDestructiveSyncRefused)
}

func TestStart_InvalidSyncMode(t *testing.T) {
	cfg := testConfig(t, database.EnvDevelopment, "rebuild")

	_, err := Start(context.Background(), cfg, quietLogger())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema sync mode")
}

func TestStart_PortInUse(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer l.Close()

	cfg := testConfig(t, database.EnvTest, database.SyncRecreate)
	cfg.Port = fmt.Sprint(l.Addr().(*net.TCPAddr).Port)

	_, err = Start(context.Background(), cfg, quietLogger())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen on port")
}

func TestShutdown_StopsServing(t *testing.T) {
	app, err := Start(context.Background(), testConfig(t, database.EnvTest, ""), quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Shutdown(ctx))
	assert.NoError(t, app.Wait())

	_, err = http.Get("http://" + app.Addr().String() + "/health")
	assert.Error(t, err)
}

func messages(hook *logtest.Hook) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		out = append(out, e.Message)
	}
	return out
}

func TestStart_LogsThroughGivenLogger(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	app, err := Start(context.Background(), testConfig(t, database.EnvTest, ""), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})

	resp, err := http.Get("http://" + app.Addr().String() + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Message == "Request" && e.Data["status_code"] == http.StatusNotFound {
				return e.Data["error"] != nil
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, messages(hook), "db is ready")
}

func TestStart_ReadyLoggedBeforeSeeding(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "common"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "common", "001_broken.sql"), []byte("INSERT INTO missing_table VALUES (1);"), 0o600))

	cfg := testConfig(t, database.EnvTest, database.SyncRecreate)
	cfg.Database.DataInitConfig.Filepath = root
	cfg.Database.DataInitConfig.Environment = database.EnvTest
	logger, hook := logtest.NewNullLogger()

	app, err := Start(context.Background(), cfg, logger)

	require.Error(t, err)
	assert.Nil(t, app)
	assert.Contains(t, err.Error(), "failed to seed database")
	assert.Equal(t, []string{"db is ready"}, messages(hook))
}
