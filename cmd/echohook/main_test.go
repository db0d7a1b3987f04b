package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rsclarke/echohook/internal/capture"
	"github.com/rsclarke/echohook/internal/config"
	"github.com/rsclarke/echohook/internal/kv"
	"github.com/rsclarke/echohook/internal/models"
	"github.com/rsclarke/echohook/internal/ratelimit"
	"github.com/rsclarke/echohook/internal/server"
	"github.com/rsclarke/echohook/internal/store"
	"github.com/rsclarke/echohook/internal/tokens"
	"github.com/rsclarke/echohook/internal/types"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ECHOHOOK_BACKEND", "sqlite")
	t.Setenv("ECHOHOOK_LISTEN", ":7000")

	cmd := &cobra.Command{Use: "test"}
	addStoreFlags(cmd)
	cmd.Flags().String("listen", "", "")
	cmd.Flags().Bool("rate-limit", false, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--backend", "memory", "--rate-limit"}))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, config.BackendMemory, cfg.Backend)
	assert.Equal(t, ":7000", cfg.Listen)
	assert.True(t, cfg.RateLimit)
}

func TestLoadConfig_RejectsInvalid(t *testing.T) {
	t.Chdir(t.TempDir())

	cmd := &cobra.Command{Use: "test"}
	addStoreFlags(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{"--backend", "cassandra"}))

	_, err := loadConfig(cmd)
	assert.Error(t, err)
}

func TestOpenStore_SQLiteSharesCertStorage(t *testing.T) {
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "echohook.db")

	st, err := openStore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	_, ok := st.(*kv.SQLite)
	require.True(t, ok)

	storage, err := certStorage(st)
	require.NoError(t, err)
	assert.NotNil(t, storage)
}

func TestOpenStore_Memory(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendMemory

	st, err := openStore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	storage, err := certStorage(st)
	require.NoError(t, err)
	assert.Nil(t, storage)

	_, ok := rateCounter(st).(*ratelimit.Memory)
	assert.True(t, ok)
}

func TestClientCommands(t *testing.T) {
	st := kv.NewMemory()
	repo := store.New(st, zap.NewNop())
	api := &server.APIServer{
		Repo:     repo,
		Tokens:   tokens.NewManager(st, zap.NewNop(), 10),
		Capture:  capture.New(repo, zap.NewNop(), capture.DefaultMaxBody),
		AdminKey: "admin-secret",
		Backend:  config.BackendMemory,
		Logger:   zap.NewNop(),
	}
	ts := httptest.NewServer(api.Handler())
	defer ts.Close()

	out := execute(t, "token", "create", "--api-url", ts.URL, "--admin-key", "admin-secret", "--name", "ci", "--json")
	var tok models.TokenCreation
	require.NoError(t, json.Unmarshal([]byte(out), &tok))
	require.Len(t, tok.Token, 64)
	assert.Equal(t, "ci", tok.Name)

	out = execute(t, "bin", "create", "--api-url", ts.URL, "--api-key", tok.Token, "--name", "orders", "--json")
	var bin types.BinResponse
	require.NoError(t, json.Unmarshal([]byte(out), &bin))
	assert.Equal(t, "orders", bin.Name)
	assert.Equal(t, ts.URL+"/webhook/"+bin.ID, bin.CaptureURL)

	out = execute(t, "send", bin.ID, "--api-url", ts.URL, "-d", `{"order":1}`)
	assert.Contains(t, out, capture.SuccessMessage)

	out = execute(t, "requests", bin.ID, "--api-url", ts.URL, "--api-key", tok.Token, "--json")
	var reqs []models.CapturedRequest
	require.NoError(t, json.Unmarshal([]byte(out), &reqs))
	require.Len(t, reqs, 1)
	assert.Equal(t, `{"order":1}`, reqs[0].Body)
	assert.Equal(t, "POST", reqs[0].Method)

	out = execute(t, "token", "list", "--api-url", ts.URL, "--api-key", tok.Token)
	assert.Contains(t, out, "ci")
	assert.NotContains(t, out, tok.Token)

	out = execute(t, "bin", "delete", bin.ID, "--api-url", ts.URL, "--api-key", tok.Token)
	assert.Contains(t, out, "deleted")

	_, err := repo.GetBin(context.Background(), bin.ID)
	assert.ErrorIs(t, err, store.ErrBinNotFound)
}

func TestRepairCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	out := execute(t, "repair", "--backend", "memory", "--json")

	var report struct {
		Tokens tokens.RepairReport   `json:"tokens"`
		Bins   store.ReconcileReport `json:"bins"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Zero(t, report.Tokens.TokensChecked)
	assert.Zero(t, report.Bins.BinsChecked)
}
