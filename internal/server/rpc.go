// Package server exposes the engine's message operations as an
// authenticated JSON-RPC 2.0 endpoint on loopback. The popup, options and
// interstitial surfaces (via the native host) are its clients.
package server

import (
	"context"
	"errors"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"

	"github.com/peva0411/focusgate/internal/budget"
	"github.com/peva0411/focusgate/internal/domain"
	"github.com/peva0411/focusgate/internal/engine"
)

// Custom JSON-RPC error codes for engine operations.
const (
	codeBudgetExhausted = jrpc2.Code(-32001)
	codeNotFound        = jrpc2.Code(-32002)
	codeInvalidParams   = jrpc2.Code(-32602)
)

// RPCConfig holds configuration for the JSON-RPC endpoint.
type RPCConfig struct {
	Secret  string // Auth token (required - empty means RPC disabled)
	Version string // Daemon version
}

// RPCServer manages the JSON-RPC 2.0 bridge and method handlers.
type RPCServer struct {
	bridge  jhttp.Bridge
	secret  string
	version string
	coord   *engine.Coordinator
}

// SiteParam is the input for site.add.
type SiteParam struct {
	Pattern string `json:"pattern"`
}

// SiteResult is the response for site.add.
type SiteResult struct {
	ID string `json:"id"`
}

// SiteIDParam is a common input with just a site id.
type SiteIDParam struct {
	SiteID string `json:"siteId"`
}

// SiteListResult is the response for site.list.
type SiteListResult struct {
	Sites []domain.BlockedSite `json:"sites"`
}

// PauseParams is the input for schedule.pause. Minutes -1 means "until the
// next daily-reset crossing".
type PauseParams struct {
	Minutes int `json:"minutes"`
}

// PauseResult is the response for schedule.pause.
type PauseResult struct {
	Until string `json:"until"` // RFC 3339
}

// BudgetCheckResult is the response for budget.check.
type BudgetCheckResult struct {
	CanAccess       bool    `json:"canAccess"`
	GlobalRemaining float64 `json:"globalRemaining"`
	Total           float64 `json:"total"`
}

// SessionParams is the input for budget.startSession.
type SessionParams struct {
	SiteID string `json:"siteId"`
	URL    string `json:"url"`
	TabID  int    `json:"tabId"`
}

// SessionResult is the response for budget.startSession.
type SessionResult struct {
	Redirected bool   `json:"redirected"`
	TargetURL  string `json:"targetUrl"`
}

// TabParam is the input for budget.endSession.
type TabParam struct {
	TabID int `json:"tabId"`
}

// BudgetConfigResult is the response for budget.getConfig / budget.setConfig.
type BudgetConfigResult struct {
	TotalMinutes int    `json:"totalMinutes"`
	ResetTime    string `json:"resetTime"`
}

// ScheduleListResult is the response for schedule.list.
type ScheduleListResult struct {
	Schedules []domain.Schedule `json:"schedules"`
	ActiveID  string            `json:"activeId"`
}

// ScheduleIDParam is the input for schedule.delete / schedule.select.
type ScheduleIDParam struct {
	ScheduleID string `json:"scheduleId"`
}

// EnabledParam is the input for system.setEnabled.
type EnabledParam struct {
	Enabled bool `json:"enabled"`
}

// HistoryResult is the response for budget.history.
type HistoryResult struct {
	Days []domain.DailyBudget `json:"days"`
}

// StatsParams is the input for stats.get.
type StatsParams struct {
	Days int `json:"days,omitempty"`
}

// StatsResult is the response for stats.get: date -> site id -> count.
type StatsResult struct {
	Blocks map[string]map[string]int `json:"blocks"`
}

// VersionResult is the response for system.getVersion.
type VersionResult struct {
	Version string `json:"version"`
}

// EmptyResult is a placeholder for methods that return no data.
type EmptyResult struct{}

// NewRPCServer creates an RPCServer with method handlers and HTTP bridge.
func NewRPCServer(cfg *RPCConfig, coord *engine.Coordinator) *RPCServer {
	rs := &RPCServer{
		secret:  cfg.Secret,
		version: cfg.Version,
		coord:   coord,
	}

	methods := handler.Map{
		"system.getVersion":   handler.New(rs.systemGetVersion),
		"site.add":            handler.New(rs.siteAdd),
		"site.remove":         handler.New(rs.siteRemove),
		"site.list":           handler.New(rs.siteList),
		"schedule.pause":      handler.New(rs.schedulePause),
		"schedule.resume":     handler.New(rs.scheduleResume),
		"schedule.getStatus":  handler.New(rs.scheduleGetStatus),
		"schedule.list":       handler.New(rs.scheduleList),
		"schedule.save":       handler.New(rs.scheduleSave),
		"schedule.delete":     handler.New(rs.scheduleDelete),
		"schedule.select":     handler.New(rs.scheduleSelect),
		"system.setEnabled":   handler.New(rs.systemSetEnabled),
		"budget.history":      handler.New(rs.budgetHistory),
		"budget.check":        handler.New(rs.budgetCheck),
		"budget.startSession": handler.New(rs.budgetStartSession),
		"budget.endSession":   handler.New(rs.budgetEndSession),
		"budget.getConfig":    handler.New(rs.budgetGetConfig),
		"budget.setConfig":    handler.New(rs.budgetSetConfig),
		"stats.recordBlock":   handler.New(rs.statsRecordBlock),
		"stats.get":           handler.New(rs.statsGet),
		"engine.reconcile":    handler.New(rs.engineReconcile),
	}

	rs.bridge = jhttp.NewBridge(methods, nil)
	return rs
}

// Close shuts down the jrpc2 bridge, releasing internal goroutines.
func (rs *RPCServer) Close() {
	rs.bridge.Close()
}

func (rs *RPCServer) systemGetVersion(_ context.Context) (*VersionResult, error) {
	return &VersionResult{Version: rs.version}, nil
}

func (rs *RPCServer) siteAdd(ctx context.Context, p *SiteParam) (*SiteResult, error) {
	if p.Pattern == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: pattern"}
	}
	site, err := rs.coord.AddSite(ctx, p.Pattern)
	if err != nil {
		return nil, err
	}
	return &SiteResult{ID: site.ID}, nil
}

func (rs *RPCServer) siteRemove(ctx context.Context, p *SiteIDParam) (*EmptyResult, error) {
	if err := rs.coord.RemoveSite(ctx, p.SiteID); err != nil {
		return nil, mapEngineError(err)
	}
	return &EmptyResult{}, nil
}

func (rs *RPCServer) siteList(ctx context.Context) (*SiteListResult, error) {
	sites, err := rs.coord.Sites(ctx)
	if err != nil {
		return nil, err
	}
	return &SiteListResult{Sites: sites}, nil
}

func (rs *RPCServer) schedulePause(ctx context.Context, p *PauseParams) (*PauseResult, error) {
	until, err := rs.coord.Pause(ctx, p.Minutes)
	if err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			return nil, err
		}
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
	}
	return &PauseResult{Until: until.Format("2006-01-02T15:04:05Z07:00")}, nil
}

func (rs *RPCServer) scheduleResume(ctx context.Context) (*EmptyResult, error) {
	if err := rs.coord.Resume(ctx); err != nil {
		return nil, err
	}
	return &EmptyResult{}, nil
}

func (rs *RPCServer) scheduleGetStatus(ctx context.Context) (*domain.ScheduleStatus, error) {
	st, err := rs.coord.ScheduleStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (rs *RPCServer) scheduleList(ctx context.Context) (*ScheduleListResult, error) {
	schedules, activeID, err := rs.coord.Schedules(ctx)
	if err != nil {
		return nil, err
	}
	return &ScheduleListResult{Schedules: schedules, ActiveID: activeID}, nil
}

func (rs *RPCServer) scheduleSave(ctx context.Context, p *domain.Schedule) (*domain.Schedule, error) {
	saved, err := rs.coord.SaveSchedule(ctx, *p)
	if err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			return nil, err
		}
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
	}
	return &saved, nil
}

func (rs *RPCServer) scheduleDelete(ctx context.Context, p *ScheduleIDParam) (*EmptyResult, error) {
	if err := rs.coord.DeleteSchedule(ctx, p.ScheduleID); err != nil {
		return nil, mapEngineError(err)
	}
	return &EmptyResult{}, nil
}

func (rs *RPCServer) scheduleSelect(ctx context.Context, p *ScheduleIDParam) (*EmptyResult, error) {
	if err := rs.coord.SelectSchedule(ctx, p.ScheduleID); err != nil {
		return nil, mapEngineError(err)
	}
	return &EmptyResult{}, nil
}

func (rs *RPCServer) systemSetEnabled(ctx context.Context, p *EnabledParam) (*EmptyResult, error) {
	if err := rs.coord.SetEnabled(ctx, p.Enabled); err != nil {
		return nil, err
	}
	return &EmptyResult{}, nil
}

func (rs *RPCServer) budgetHistory(ctx context.Context) (*HistoryResult, error) {
	days, err := rs.coord.BudgetHistory(ctx)
	if err != nil {
		return nil, err
	}
	return &HistoryResult{Days: days}, nil
}

func (rs *RPCServer) budgetCheck(ctx context.Context, p *SiteIDParam) (*BudgetCheckResult, error) {
	st, can, err := rs.coord.CheckBudget(ctx, p.SiteID)
	if err != nil {
		return nil, err
	}
	return &BudgetCheckResult{
		CanAccess:       can,
		GlobalRemaining: st.Remaining,
		Total:           st.Total,
	}, nil
}

func (rs *RPCServer) budgetStartSession(ctx context.Context, p *SessionParams) (*SessionResult, error) {
	if p.SiteID == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: siteId"}
	}
	target, err := rs.coord.StartBudgetSession(ctx, p.SiteID, p.URL, p.TabID)
	if err != nil {
		return nil, mapEngineError(err)
	}
	return &SessionResult{Redirected: true, TargetURL: target}, nil
}

func (rs *RPCServer) budgetEndSession(ctx context.Context, p *TabParam) (*EmptyResult, error) {
	if err := rs.coord.EndBudgetSession(ctx, p.TabID); err != nil {
		return nil, err
	}
	return &EmptyResult{}, nil
}

func (rs *RPCServer) budgetGetConfig(ctx context.Context) (*BudgetConfigResult, error) {
	cfg, err := rs.coord.BudgetConfig(ctx)
	if err != nil {
		return nil, err
	}
	return &BudgetConfigResult{TotalMinutes: cfg.TotalMinutes, ResetTime: cfg.ResetTime}, nil
}

func (rs *RPCServer) budgetSetConfig(ctx context.Context, p *BudgetConfigResult) (*BudgetConfigResult, error) {
	cfg := domain.BudgetConfig{TotalMinutes: p.TotalMinutes, ResetTime: p.ResetTime}
	if err := rs.coord.SetBudgetConfig(ctx, cfg); err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			return nil, err
		}
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
	}
	return &BudgetConfigResult{TotalMinutes: cfg.TotalMinutes, ResetTime: cfg.ResetTime}, nil
}

func (rs *RPCServer) statsRecordBlock(ctx context.Context, p *SiteIDParam) (*EmptyResult, error) {
	if err := rs.coord.RecordBlock(ctx, p.SiteID); err != nil {
		return nil, err
	}
	return &EmptyResult{}, nil
}

func (rs *RPCServer) statsGet(ctx context.Context, p *StatsParams) (*StatsResult, error) {
	days := p.Days
	if days <= 0 {
		days = 7
	}
	blocks, err := rs.coord.BlockStats(ctx, days)
	if err != nil {
		return nil, err
	}
	return &StatsResult{Blocks: blocks}, nil
}

func (rs *RPCServer) engineReconcile(ctx context.Context) (*EmptyResult, error) {
	if err := rs.coord.ForceReconcile(ctx); err != nil {
		return nil, err
	}
	return &EmptyResult{}, nil
}

// mapEngineError converts engine sentinels to structured JSON-RPC errors so
// clients can branch on the code instead of matching message text.
func mapEngineError(err error) error {
	switch {
	case errors.Is(err, budget.ErrBudgetExhausted):
		return &jrpc2.Error{Code: codeBudgetExhausted, Message: "budget exhausted"}
	case errors.Is(err, engine.ErrNoSuchSite):
		return &jrpc2.Error{Code: codeNotFound, Message: "site not found"}
	case errors.Is(err, engine.ErrNoSuchSchedule):
		return &jrpc2.Error{Code: codeNotFound, Message: "schedule not found"}
	default:
		return err
	}
}
