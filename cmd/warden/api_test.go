package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chatwarden/warden/kvstore"
	"github.com/chatwarden/warden/ledger"
	"github.com/chatwarden/warden/punish"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMutes struct {
	pending []punish.Restriction
}

func (m *fakeMutes) Cancel(ctx context.Context, scope, subject string) (bool, error) {
	return false, nil
}

func (m *fakeMutes) Pending(scope string) []punish.Restriction {
	var out []punish.Restriction
	for _, r := range m.pending {
		if scope == "" || r.Scope == scope {
			out = append(out, r)
		}
	}
	return out
}

func testServer(t *testing.T, adminToken string) *Server {
	led := ledger.NewLedger(ledger.NewKVRecordStore(kvstore.NewMemStore()), ledger.DefaultEscalationPolicy(), nil, slog.Default())
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Server{
		logger: slog.Default(),
		ledger: led,
		mutes: &fakeMutes{pending: []punish.Restriction{
			{ID: "r1", Scope: "guild1", Subject: "user1", RoleID: "role1", AppliedAt: now, ExpiresAt: now.Add(time.Hour)},
			{ID: "r2", Scope: "guild2", Subject: "user2", RoleID: "role2", AppliedAt: now, ExpiresAt: now.Add(time.Hour)},
		}},
	}
	s.setupAPI(":0", adminToken)
	return s
}

func doRequest(s *Server, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	assert := assert.New(t)
	s := testServer(t, "secret")

	rec := doRequest(s, "/_health", "")
	assert.Equal(http.StatusOK, rec.Code)
	var status GenericStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal("ok", status.Status)
	assert.Equal("warden", status.Daemon)
}

func TestSubjectWarningsEndpoint(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testServer(t, "")

	subj := ledger.Subject{Scope: "guild1", ID: "user1"}
	_, err := s.ledger.Issue(ctx, subj, "mod1", "spamming", 1)
	require.NoError(t, err)
	_, err = s.ledger.Issue(ctx, subj, "mod1", "rude", 2)
	require.NoError(t, err)
	_, err = s.ledger.Remove(ctx, "user1", ledger.ID(1))
	require.NoError(t, err)

	rec := doRequest(s, "/api/v1/warnings/user1", "")
	assert.Equal(http.StatusOK, rec.Code)
	var out SubjectWarnings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal("user1", out.Subject)
	assert.Equal(1, out.Active)
	assert.Len(out.Records, 2)
	assert.False(out.Records[0].Active)
	assert.Equal("rude", out.Records[1].Reason)

	rec = doRequest(s, "/api/v1/warnings/nobody", "")
	assert.Equal(http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(0, out.Active)
	assert.Empty(out.Records)
}

func TestStatsEndpoint(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testServer(t, "")

	_, err := s.ledger.Issue(ctx, ledger.Subject{Scope: "guild1", ID: "user1"}, "mod1", "spamming", 1)
	require.NoError(t, err)
	_, err = s.ledger.Issue(ctx, ledger.Subject{Scope: "guild1", ID: "user2"}, "mod1", "spamming", 1)
	require.NoError(t, err)

	rec := doRequest(s, "/api/v1/stats", "")
	assert.Equal(http.StatusOK, rec.Code)
	var out StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(2, out.Warnings.Subjects)
	assert.Equal(2, out.Warnings.Total)
	assert.Equal(2, out.Warnings.Active)
	assert.Equal(2, out.MutesPending)

	rec = doRequest(s, "/api/v1/stats?guild=guild2", "")
	assert.Equal(http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(1, out.MutesPending)
	assert.Equal("user2", out.Mutes[0].Subject)
}

func TestAdminTokenRequired(t *testing.T) {
	assert := assert.New(t)
	s := testServer(t, "secret")

	rec := doRequest(s, "/api/v1/stats", "")
	assert.Equal(http.StatusBadRequest, rec.Code)

	rec = doRequest(s, "/api/v1/stats", "wrong")
	assert.Equal(http.StatusUnauthorized, rec.Code)
	var status GenericStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal("error", status.Status)

	rec = doRequest(s, "/api/v1/stats", "secret")
	assert.Equal(http.StatusOK, rec.Code)

	rec = doRequest(s, "/api/v1/nope", "secret")
	assert.Equal(http.StatusNotFound, rec.Code)
}
