package nativehost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/peva0411/focusgate/internal/domain"
	"github.com/peva0411/focusgate/internal/server"
)

// Daemon is the subset of the daemon client used by the host. *client.Client
// satisfies it; tests substitute a fake.
type Daemon interface {
	Version(ctx context.Context) (string, error)
	AddSite(ctx context.Context, pattern string) (string, error)
	RemoveSite(ctx context.Context, siteID string) error
	Sites(ctx context.Context) ([]domain.BlockedSite, error)
	Pause(ctx context.Context, minutes int) (string, error)
	Resume(ctx context.Context) error
	ScheduleStatus(ctx context.Context) (domain.ScheduleStatus, error)
	CheckBudget(ctx context.Context, siteID string) (server.BudgetCheckResult, error)
	StartSession(ctx context.Context, siteID, url string, tabID int) (server.SessionResult, error)
	EndSession(ctx context.Context, tabID int) error
	BudgetConfig(ctx context.Context) (server.BudgetConfigResult, error)
	SetBudgetConfig(ctx context.Context, totalMinutes int, resetTime string) error
	RecordBlock(ctx context.Context, siteID string) error
	Stats(ctx context.Context, days int) (map[string]map[string]int, error)
}

// siteParams carries a site pattern from the extension.
type siteParams struct {
	Pattern string `json:"pattern"`
}

// siteIDParams carries a site id from the extension.
type siteIDParams struct {
	SiteID string `json:"siteId"`
}

// pauseParams carries a pause duration from the extension.
type pauseParams struct {
	Minutes int `json:"minutes"`
}

// sessionParams carries a budget-session start from the extension.
type sessionParams struct {
	SiteID string `json:"siteId"`
	URL    string `json:"url"`
	TabID  int    `json:"tabId"`
}

// tabParams carries a tab id from the extension.
type tabParams struct {
	TabID int `json:"tabId"`
}

// budgetConfigParams carries budget settings from the extension.
type budgetConfigParams struct {
	TotalMinutes int    `json:"totalMinutes"`
	ResetTime    string `json:"resetTime"`
}

// statsParams carries a stats window from the extension.
type statsParams struct {
	Days int `json:"days,omitempty"`
}

// Host bridges the browser extension to the daemon. The browser spawns one
// host process per extension connection and speaks the framed protocol on
// the process's stdio.
type Host struct {
	daemon Daemon
	stdin  io.Reader
	stdout io.Writer
}

// NewHost creates a host bound to os.Stdin and os.Stdout.
func NewHost(daemon Daemon) *Host {
	return &Host{
		daemon: daemon,
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
}

// Run processes messages until stdin closes (the browser ending the
// connection) or an unrecoverable transport error occurs.
func (h *Host) Run(ctx context.Context) error {
	for {
		err := h.processOneMessage(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (h *Host) processOneMessage(ctx context.Context) error {
	data, err := ReadMessage(h.stdin)
	if err != nil {
		return err
	}

	req, err := ParseRequest(data)
	if err != nil {
		// No usable ID, so the extension sees correlation id 0.
		resp := MakeErrorResponse(0, fmt.Errorf("invalid request: %w", err))
		return WriteMessage(h.stdout, resp)
	}

	resp := h.handleRequest(ctx, req)
	return WriteMessage(h.stdout, resp)
}

// handleRequest dispatches one request to the daemon and encodes the reply.
func (h *Host) handleRequest(ctx context.Context, req *Request) []byte {
	var result any
	var err error

	switch req.Method {
	case "version":
		result, err = h.daemon.Version(ctx)

	case "site.add":
		var params siteParams
		if err = json.Unmarshal(req.Params, &params); err != nil {
			return MakeErrorResponse(req.ID, fmt.Errorf("invalid site.add params: %w", err))
		}
		if params.Pattern == "" {
			return MakeErrorResponse(req.ID, errors.New("pattern is required"))
		}
		var id string
		id, err = h.daemon.AddSite(ctx, params.Pattern)
		if err == nil {
			result = map[string]string{"id": id}
		}

	case "site.remove":
		var params siteIDParams
		if err = json.Unmarshal(req.Params, &params); err != nil {
			return MakeErrorResponse(req.ID, fmt.Errorf("invalid site.remove params: %w", err))
		}
		if params.SiteID == "" {
			return MakeErrorResponse(req.ID, errors.New("siteId is required"))
		}
		err = h.daemon.RemoveSite(ctx, params.SiteID)

	case "site.list":
		result, err = h.daemon.Sites(ctx)

	case "schedule.pause":
		var params pauseParams
		if err = json.Unmarshal(req.Params, &params); err != nil {
			return MakeErrorResponse(req.ID, fmt.Errorf("invalid schedule.pause params: %w", err))
		}
		var until string
		until, err = h.daemon.Pause(ctx, params.Minutes)
		if err == nil {
			result = map[string]string{"until": until}
		}

	case "schedule.resume":
		err = h.daemon.Resume(ctx)

	case "schedule.getStatus":
		result, err = h.daemon.ScheduleStatus(ctx)

	case "budget.check":
		var params siteIDParams
		if err = json.Unmarshal(req.Params, &params); err != nil {
			return MakeErrorResponse(req.ID, fmt.Errorf("invalid budget.check params: %w", err))
		}
		result, err = h.daemon.CheckBudget(ctx, params.SiteID)

	case "budget.startSession":
		var params sessionParams
		if err = json.Unmarshal(req.Params, &params); err != nil {
			return MakeErrorResponse(req.ID, fmt.Errorf("invalid budget.startSession params: %w", err))
		}
		if params.SiteID == "" {
			return MakeErrorResponse(req.ID, errors.New("siteId is required"))
		}
		result, err = h.daemon.StartSession(ctx, params.SiteID, params.URL, params.TabID)

	case "budget.endSession":
		var params tabParams
		if err = json.Unmarshal(req.Params, &params); err != nil {
			return MakeErrorResponse(req.ID, fmt.Errorf("invalid budget.endSession params: %w", err))
		}
		err = h.daemon.EndSession(ctx, params.TabID)

	case "budget.getConfig":
		result, err = h.daemon.BudgetConfig(ctx)

	case "budget.setConfig":
		var params budgetConfigParams
		if err = json.Unmarshal(req.Params, &params); err != nil {
			return MakeErrorResponse(req.ID, fmt.Errorf("invalid budget.setConfig params: %w", err))
		}
		err = h.daemon.SetBudgetConfig(ctx, params.TotalMinutes, params.ResetTime)

	case "stats.recordBlock":
		var params siteIDParams
		if err = json.Unmarshal(req.Params, &params); err != nil {
			return MakeErrorResponse(req.ID, fmt.Errorf("invalid stats.recordBlock params: %w", err))
		}
		err = h.daemon.RecordBlock(ctx, params.SiteID)

	case "stats.get":
		var params statsParams
		if len(req.Params) > 0 {
			if err = json.Unmarshal(req.Params, &params); err != nil {
				return MakeErrorResponse(req.ID, fmt.Errorf("invalid stats.get params: %w", err))
			}
		}
		result, err = h.daemon.Stats(ctx, params.Days)

	default:
		return MakeErrorResponse(req.ID, fmt.Errorf("unknown method: %s", req.Method))
	}

	if err != nil {
		return MakeErrorResponse(req.ID, err)
	}
	return MakeSuccessResponse(req.ID, result)
}
