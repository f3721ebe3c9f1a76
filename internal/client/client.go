// Package client is a typed JSON-RPC 2.0 client for the daemon's loopback
// endpoint. Both the CLI and the native messaging host dial the daemon
// through it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/peva0411/focusgate/internal/domain"
	"github.com/peva0411/focusgate/internal/server"
)

// RPCError is a JSON-RPC error returned by the daemon.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client talks JSON-RPC over HTTP to a running daemon.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	nextID   atomic.Int64
}

// New creates a client for the daemon at addr (host:port on loopback),
// authenticating with the given bearer token.
func New(addr, token string) *Client {
	return &Client{
		endpoint: "http://" + addr + "/rpc",
		token:    token,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Call invokes one method and decodes the result into out (which may be nil
// for methods whose result the caller ignores).
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	body := map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  method,
	}
	if params != nil {
		body["params"] = params
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("malformed daemon response: %w", err)
	}
	if env.Error != nil {
		return env.Error
	}
	if out != nil && len(env.Result) > 0 {
		return json.Unmarshal(env.Result, out)
	}
	return nil
}

// Version returns the daemon's reported version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var res server.VersionResult
	if err := c.Call(ctx, "system.getVersion", nil, &res); err != nil {
		return "", err
	}
	return res.Version, nil
}

// AddSite registers a new blocked site pattern and returns its id.
func (c *Client) AddSite(ctx context.Context, pattern string) (string, error) {
	var res server.SiteResult
	if err := c.Call(ctx, "site.add", server.SiteParam{Pattern: pattern}, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

// RemoveSite deletes a blocked site by id.
func (c *Client) RemoveSite(ctx context.Context, siteID string) error {
	return c.Call(ctx, "site.remove", server.SiteIDParam{SiteID: siteID}, nil)
}

// Sites lists all blocked sites.
func (c *Client) Sites(ctx context.Context) ([]domain.BlockedSite, error) {
	var res server.SiteListResult
	if err := c.Call(ctx, "site.list", nil, &res); err != nil {
		return nil, err
	}
	return res.Sites, nil
}

// Pause suspends blocking; minutes -1 pauses until the next daily reset.
func (c *Client) Pause(ctx context.Context, minutes int) (string, error) {
	var res server.PauseResult
	if err := c.Call(ctx, "schedule.pause", server.PauseParams{Minutes: minutes}, &res); err != nil {
		return "", err
	}
	return res.Until, nil
}

// Resume clears an active pause.
func (c *Client) Resume(ctx context.Context) error {
	return c.Call(ctx, "schedule.resume", nil, nil)
}

// ScheduleStatus reports the current pause and schedule-activity state.
func (c *Client) ScheduleStatus(ctx context.Context) (domain.ScheduleStatus, error) {
	var res domain.ScheduleStatus
	err := c.Call(ctx, "schedule.getStatus", nil, &res)
	return res, err
}

// Schedules lists all schedules and the active schedule id.
func (c *Client) Schedules(ctx context.Context) ([]domain.Schedule, string, error) {
	var res server.ScheduleListResult
	if err := c.Call(ctx, "schedule.list", nil, &res); err != nil {
		return nil, "", err
	}
	return res.Schedules, res.ActiveID, nil
}

// SaveSchedule creates or updates a schedule and returns the stored copy.
func (c *Client) SaveSchedule(ctx context.Context, s domain.Schedule) (domain.Schedule, error) {
	var res domain.Schedule
	err := c.Call(ctx, "schedule.save", s, &res)
	return res, err
}

// DeleteSchedule removes a schedule by id.
func (c *Client) DeleteSchedule(ctx context.Context, id string) error {
	return c.Call(ctx, "schedule.delete", server.ScheduleIDParam{ScheduleID: id}, nil)
}

// SelectSchedule makes the given schedule the active one.
func (c *Client) SelectSchedule(ctx context.Context, id string) error {
	return c.Call(ctx, "schedule.select", server.ScheduleIDParam{ScheduleID: id}, nil)
}

// SetEnabled flips the global blocking switch.
func (c *Client) SetEnabled(ctx context.Context, enabled bool) error {
	return c.Call(ctx, "system.setEnabled", server.EnabledParam{Enabled: enabled}, nil)
}

// BudgetHistory returns archived daily budget records, oldest first.
func (c *Client) BudgetHistory(ctx context.Context) ([]domain.DailyBudget, error) {
	var res server.HistoryResult
	if err := c.Call(ctx, "budget.history", nil, &res); err != nil {
		return nil, err
	}
	return res.Days, nil
}

// Reconcile forces an immediate evaluation and rule synchronization pass.
func (c *Client) Reconcile(ctx context.Context) error {
	return c.Call(ctx, "engine.reconcile", nil, nil)
}

// CheckBudget reports whether the site may be visited and how much budget
// remains.
func (c *Client) CheckBudget(ctx context.Context, siteID string) (server.BudgetCheckResult, error) {
	var res server.BudgetCheckResult
	err := c.Call(ctx, "budget.check", server.SiteIDParam{SiteID: siteID}, &res)
	return res, err
}

// StartSession begins a budgeted visit for the given tab.
func (c *Client) StartSession(ctx context.Context, siteID, url string, tabID int) (server.SessionResult, error) {
	var res server.SessionResult
	err := c.Call(ctx, "budget.startSession",
		server.SessionParams{SiteID: siteID, URL: url, TabID: tabID}, &res)
	return res, err
}

// EndSession ends the budgeted visit for the given tab.
func (c *Client) EndSession(ctx context.Context, tabID int) error {
	return c.Call(ctx, "budget.endSession", server.TabParam{TabID: tabID}, nil)
}

// BudgetConfig fetches the daily budget settings.
func (c *Client) BudgetConfig(ctx context.Context) (server.BudgetConfigResult, error) {
	var res server.BudgetConfigResult
	err := c.Call(ctx, "budget.getConfig", nil, &res)
	return res, err
}

// SetBudgetConfig updates the daily budget settings.
func (c *Client) SetBudgetConfig(ctx context.Context, totalMinutes int, resetTime string) error {
	return c.Call(ctx, "budget.setConfig",
		server.BudgetConfigResult{TotalMinutes: totalMinutes, ResetTime: resetTime}, nil)
}

// RecordBlock counts one blocked navigation for the site.
func (c *Client) RecordBlock(ctx context.Context, siteID string) error {
	return c.Call(ctx, "stats.recordBlock", server.SiteIDParam{SiteID: siteID}, nil)
}

// Stats returns blocked-navigation counts for the last N days.
func (c *Client) Stats(ctx context.Context, days int) (map[string]map[string]int, error) {
	var res server.StatsResult
	if err := c.Call(ctx, "stats.get", server.StatsParams{Days: days}, &res); err != nil {
		return nil, err
	}
	return res.Blocks, nil
}
