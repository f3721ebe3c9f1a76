package nativehost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peva0411/focusgate/internal/domain"
	"github.com/peva0411/focusgate/internal/server"
)

// fakeDaemon records calls and returns canned answers.
type fakeDaemon struct {
	sites      []domain.BlockedSite
	addedIDs   []string
	removed    []string
	pausedMins []int
	resumed    int
	endedTabs  []int
	recorded   []string
	failWith   error
}

func (f *fakeDaemon) Version(ctx context.Context) (string, error) {
	return "9.9.9", f.failWith
}

func (f *fakeDaemon) AddSite(ctx context.Context, pattern string) (string, error) {
	if f.failWith != nil {
		return "", f.failWith
	}
	id := "site-" + pattern
	f.addedIDs = append(f.addedIDs, id)
	return id, nil
}

func (f *fakeDaemon) RemoveSite(ctx context.Context, siteID string) error {
	f.removed = append(f.removed, siteID)
	return f.failWith
}

func (f *fakeDaemon) Sites(ctx context.Context) ([]domain.BlockedSite, error) {
	return f.sites, f.failWith
}

func (f *fakeDaemon) Pause(ctx context.Context, minutes int) (string, error) {
	if f.failWith != nil {
		return "", f.failWith
	}
	f.pausedMins = append(f.pausedMins, minutes)
	return "2024-01-01T10:15:00Z", nil
}

func (f *fakeDaemon) Resume(ctx context.Context) error {
	f.resumed++
	return f.failWith
}

func (f *fakeDaemon) ScheduleStatus(ctx context.Context) (domain.ScheduleStatus, error) {
	return domain.ScheduleStatus{IsActive: true}, f.failWith
}

func (f *fakeDaemon) CheckBudget(ctx context.Context, siteID string) (server.BudgetCheckResult, error) {
	return server.BudgetCheckResult{CanAccess: true, GlobalRemaining: 12.5, Total: 30}, f.failWith
}

func (f *fakeDaemon) StartSession(ctx context.Context, siteID, url string, tabID int) (server.SessionResult, error) {
	if f.failWith != nil {
		return server.SessionResult{}, f.failWith
	}
	return server.SessionResult{Redirected: true, TargetURL: url}, nil
}

func (f *fakeDaemon) EndSession(ctx context.Context, tabID int) error {
	f.endedTabs = append(f.endedTabs, tabID)
	return f.failWith
}

func (f *fakeDaemon) BudgetConfig(ctx context.Context) (server.BudgetConfigResult, error) {
	return server.BudgetConfigResult{TotalMinutes: 30, ResetTime: "00:00"}, f.failWith
}

func (f *fakeDaemon) SetBudgetConfig(ctx context.Context, totalMinutes int, resetTime string) error {
	return f.failWith
}

func (f *fakeDaemon) RecordBlock(ctx context.Context, siteID string) error {
	f.recorded = append(f.recorded, siteID)
	return f.failWith
}

func (f *fakeDaemon) Stats(ctx context.Context, days int) (map[string]map[string]int, error) {
	return map[string]map[string]int{"2024-01-01": {"fb": 2}}, f.failWith
}

// exchange frames one request through a host and decodes the one response.
func exchange(t *testing.T, daemon Daemon, method string, params any) Response {
	t.Helper()

	req := map[string]any{"id": 1, "method": method}
	if params != nil {
		req["params"] = params
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	var in, out bytes.Buffer
	require.NoError(t, WriteMessage(&in, body))

	h := &Host{daemon: daemon, stdin: &in, stdout: &out}
	require.NoError(t, h.Run(context.Background()))

	respBytes, err := ReadMessage(&out)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(respBytes, &resp))
	return resp
}

func TestHost_Version(t *testing.T) {
	resp := exchange(t, &fakeDaemon{}, "version", nil)
	require.True(t, resp.Ok)
	assert.Equal(t, "9.9.9", resp.Result)
}

func TestHost_SiteAdd(t *testing.T) {
	daemon := &fakeDaemon{}
	resp := exchange(t, daemon, "site.add", siteParams{Pattern: "reddit.com"})
	require.True(t, resp.Ok)
	assert.Equal(t, []string{"site-reddit.com"}, daemon.addedIDs)
}

func TestHost_SiteAddRequiresPattern(t *testing.T) {
	resp := exchange(t, &fakeDaemon{}, "site.add", siteParams{})
	require.False(t, resp.Ok)
	assert.Contains(t, resp.Error, "pattern is required")
}

func TestHost_SiteRemove(t *testing.T) {
	daemon := &fakeDaemon{}
	resp := exchange(t, daemon, "site.remove", siteIDParams{SiteID: "fb"})
	require.True(t, resp.Ok)
	assert.Equal(t, []string{"fb"}, daemon.removed)
}

func TestHost_PauseAndResume(t *testing.T) {
	daemon := &fakeDaemon{}

	resp := exchange(t, daemon, "schedule.pause", pauseParams{Minutes: 15})
	require.True(t, resp.Ok)
	assert.Equal(t, []int{15}, daemon.pausedMins)

	resp = exchange(t, daemon, "schedule.resume", nil)
	require.True(t, resp.Ok)
	assert.Equal(t, 1, daemon.resumed)
}

func TestHost_BudgetCheck(t *testing.T) {
	resp := exchange(t, &fakeDaemon{}, "budget.check", siteIDParams{SiteID: "fb"})
	require.True(t, resp.Ok)
	res := resp.Result.(map[string]any)
	assert.Equal(t, true, res["canAccess"])
	assert.EqualValues(t, 12.5, res["globalRemaining"])
}

func TestHost_SessionLifecycle(t *testing.T) {
	daemon := &fakeDaemon{}

	resp := exchange(t, daemon, "budget.startSession",
		sessionParams{SiteID: "fb", URL: "https://facebook.com", TabID: 3})
	require.True(t, resp.Ok)

	resp = exchange(t, daemon, "budget.endSession", tabParams{TabID: 3})
	require.True(t, resp.Ok)
	assert.Equal(t, []int{3}, daemon.endedTabs)
}

func TestHost_StatsDefaultWindow(t *testing.T) {
	resp := exchange(t, &fakeDaemon{}, "stats.get", nil)
	require.True(t, resp.Ok)
}

func TestHost_DaemonErrorsSurface(t *testing.T) {
	daemon := &fakeDaemon{failWith: errors.New("daemon unreachable")}
	resp := exchange(t, daemon, "site.list", nil)
	require.False(t, resp.Ok)
	assert.Contains(t, resp.Error, "daemon unreachable")
}

func TestHost_UnknownMethod(t *testing.T) {
	resp := exchange(t, &fakeDaemon{}, "no.such", nil)
	require.False(t, resp.Ok)
	assert.Contains(t, resp.Error, "unknown method")
}

func TestHost_MalformedJSONGetsErrorResponse(t *testing.T) {
	var in, out bytes.Buffer
	require.NoError(t, WriteMessage(&in, []byte(`{not json`)))

	h := &Host{daemon: &fakeDaemon{}, stdin: &in, stdout: &out}
	require.NoError(t, h.Run(context.Background()))

	respBytes, err := ReadMessage(&out)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(respBytes, &resp))
	assert.False(t, resp.Ok)
	assert.Equal(t, 0, resp.ID)
}

func TestHost_MultipleMessagesThenEOF(t *testing.T) {
	var in, out bytes.Buffer
	for i := 0; i < 3; i++ {
		body, _ := json.Marshal(map[string]any{"id": i, "method": "version"})
		require.NoError(t, WriteMessage(&in, body))
	}

	h := &Host{daemon: &fakeDaemon{}, stdin: &in, stdout: &out}
	require.NoError(t, h.Run(context.Background()))

	for i := 0; i < 3; i++ {
		respBytes, err := ReadMessage(&out)
		require.NoError(t, err)
		var resp Response
		require.NoError(t, json.Unmarshal(respBytes, &resp))
		assert.Equal(t, i, resp.ID)
	}
}
