package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/leadnexconnect/campaign-engine/internal/domain"
	"github.com/leadnexconnect/campaign-engine/internal/repository"
	"github.com/leadnexconnect/campaign-engine/internal/service"
	"github.com/leadnexconnect/campaign-engine/internal/transport"
	"go.uber.org/zap"
)

const (
	testCampaignID       = "0b5e6c1a-3f2d-4e8b-9a7c-1d2e3f4a5b6c"
	noTemplateCampaignID = "1c6f7d2b-4a3e-4f9c-8b8d-2e3f4a5b6c7d"
	runningCampaignID    = "2d7a8e3c-5b4f-4a0d-9c9e-3f4a5b6c7d8e"
	busyCampaignID       = "3e8b9f4d-6c5a-4b1e-8d0f-4a5b6c7d8e9f"
	missingCampaignID    = "4f9c0a5e-7d6b-4c2f-9e1a-5b6c7d8e9f0a"
	sentRowID            = "5a0d1b6f-8e7c-4d3a-8f2b-6c7d8e9f0a1b"
	failingRowID         = "6b1e2c7a-9f8d-4e4b-9a3c-7d8e9f0a1b2c"
	missingRowID         = "7c2f3d8b-0a9e-4f5c-8b4d-8e9f0a1b2c3d"
)

func TestCampaignRoutes_StartCampaign(t *testing.T) {
	t.Parallel()

	svc := &stubCampaignService{
		startFn: func(ctx context.Context, id string) (*service.ScheduleResult, error) {
			switch id {
			case testCampaignID:
				return &service.ScheduleResult{CampaignID: testCampaignID, ScheduledCount: 6, LeadCount: 2}, nil
			case noTemplateCampaignID:
				return nil, fmt.Errorf("start campaign %s: %w", id, domain.ErrConfiguration)
			case runningCampaignID:
				return nil, fmt.Errorf("%w: campaign running is not draft", domain.ErrConflict)
			case busyCampaignID:
				return nil, fmt.Errorf("%w: campaign busy", domain.ErrLeaseHeld)
			default:
				return nil, domain.ErrNotFound
			}
		},
	}
	app := newCampaignTestApp(t, svc, &stubEmailSender{})

	resp, body := performRequest(t, app, http.MethodPost, "/v1/campaigns/"+testCampaignID+"/start", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["scheduledCount"] != float64(6) || parsed["campaignId"] != testCampaignID {
		t.Fatalf("body = %v", parsed)
	}

	tests := []struct {
		id   string
		want int
	}{
		{noTemplateCampaignID, fiber.StatusUnprocessableEntity},
		{runningCampaignID, fiber.StatusConflict},
		{busyCampaignID, fiber.StatusConflict},
		{missingCampaignID, fiber.StatusNotFound},
	}
	for _, tt := range tests {
		resp, body := performRequest(t, app, http.MethodPost, "/v1/campaigns/"+tt.id+"/start", "")
		if resp.StatusCode != tt.want {
			t.Fatalf("start %s status = %d, want %d, body=%s", tt.id, resp.StatusCode, tt.want, string(body))
		}
		var errBody map[string]any
		if err := json.Unmarshal(body, &errBody); err != nil || errBody["error"] == "" {
			t.Fatalf("start %s error body = %s", tt.id, string(body))
		}
	}
}

func TestCampaignRoutes_PauseResumeRetry(t *testing.T) {
	t.Parallel()

	svc := &stubCampaignService{
		pauseFn:  func(ctx context.Context, id string) (int, error) { return 4, nil },
		resumeFn: func(ctx context.Context, id string) (int, error) { return 3, nil },
		retryFn: func(ctx context.Context, id string) (int, error) {
			return 0, fmt.Errorf("%w: campaign %s is paused", domain.ErrCampaignNotRunning, id)
		},
	}
	app := newCampaignTestApp(t, svc, &stubEmailSender{})

	resp, body := performRequest(t, app, http.MethodPost, "/v1/campaigns/"+testCampaignID+"/pause", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("pause status = %d, body=%s", resp.StatusCode, string(body))
	}
	var paused map[string]any
	_ = json.Unmarshal(body, &paused)
	if paused["cancelledCount"] != float64(4) || paused["status"] != "paused" {
		t.Fatalf("pause body = %v", paused)
	}

	resp, body = performRequest(t, app, http.MethodPost, "/v1/campaigns/"+testCampaignID+"/resume", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("resume status = %d, body=%s", resp.StatusCode, string(body))
	}
	var resumed map[string]any
	_ = json.Unmarshal(body, &resumed)
	if resumed["resumedCount"] != float64(3) {
		t.Fatalf("resume body = %v", resumed)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/campaigns/"+testCampaignID+"/retry-failed", "")
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("retry status = %d, want 409", resp.StatusCode)
	}
}

func TestCampaignRoutes_EmailStats(t *testing.T) {
	t.Parallel()

	svc := &stubCampaignService{
		statsFn: func(ctx context.Context, id string) (*domain.ScheduledEmailStats, error) {
			return &domain.ScheduledEmailStats{Total: 5, Pending: 1, Sent: 2, Failed: 1, Skipped: 1}, nil
		},
	}
	app := newCampaignTestApp(t, svc, &stubEmailSender{})

	resp, body := performRequest(t, app, http.MethodGet, "/v1/campaigns/"+testCampaignID+"/email-stats", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, body=%s", resp.StatusCode, string(body))
	}
	var stats domain.ScheduledEmailStats
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if stats.Total != 5 || stats.Sent != 2 || stats.Cancelled != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCampaignRoutes_ListScheduledEmails(t *testing.T) {
	t.Parallel()

	var got repository.ListParams
	svc := &stubCampaignService{
		listFn: func(ctx context.Context, params repository.ListParams) ([]domain.ScheduledEmail, int64, error) {
			got = params
			return []domain.ScheduledEmail{{
				ID:           "row-1",
				CampaignID:   params.CampaignID,
				LeadID:       "lead-1",
				WorkflowStep: 2,
				ScheduledFor: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
				Status:       domain.ScheduledEmailFailed,
				RetryCount:   2,
			}}, 7, nil
		},
	}
	app := newCampaignTestApp(t, svc, &stubEmailSender{})

	resp, body := performRequest(t, app, http.MethodGet, "/v1/campaigns/"+testCampaignID+"/scheduled-emails?status=failed&page=2&pageSize=1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, body=%s", resp.StatusCode, string(body))
	}
	if got.CampaignID != testCampaignID || got.Page != 2 || got.PageSize != 1 {
		t.Fatalf("params = %+v", got)
	}
	if got.Status == nil || *got.Status != domain.ScheduledEmailFailed {
		t.Fatalf("status filter = %v, want failed", got.Status)
	}

	var parsed listScheduledEmailsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Meta.Total != 7 || len(parsed.Data) != 1 || parsed.Data[0].RetryCount != 2 {
		t.Fatalf("body = %+v", parsed)
	}

	for _, query := range []string{"?status=bogus", "?page=0", "?pageSize=101"} {
		resp, _ := performRequest(t, app, http.MethodGet, "/v1/campaigns/"+testCampaignID+"/scheduled-emails"+query, "")
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("query %s status = %d, want 400", query, resp.StatusCode)
		}
	}
}

func TestCampaignRoutes_SendScheduledEmail(t *testing.T) {
	t.Parallel()

	sender := &stubEmailSender{
		sendOneFn: func(ctx context.Context, id string) (*service.SendResult, error) {
			switch id {
			case sentRowID:
				return &service.SendResult{ScheduledEmailID: id, Disposition: service.DispositionSent, EmailID: "email-1"}, nil
			case failingRowID:
				return &service.SendResult{ScheduledEmailID: id, Disposition: service.DispositionFailed, Reason: "boom"}, errors.New("boom")
			default:
				return nil, fmt.Errorf("load scheduled email %s: %w", id, domain.ErrNotFound)
			}
		},
	}
	app := newCampaignTestApp(t, &stubCampaignService{}, sender)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/scheduled-emails/"+sentRowID+"/send", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, body=%s", resp.StatusCode, string(body))
	}

	resp, body = performRequest(t, app, http.MethodPost, "/v1/scheduled-emails/"+failingRowID+"/send", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("failed send status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var parsed map[string]any
	_ = json.Unmarshal(body, &parsed)
	if parsed["disposition"] != "failed" {
		t.Fatalf("disposition = %v, want failed", parsed["disposition"])
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/scheduled-emails/"+missingRowID+"/send", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", resp.StatusCode)
	}
}

func TestCampaignRoutes_RejectMalformedIDs(t *testing.T) {
	t.Parallel()

	svc := &stubCampaignService{
		startFn: func(ctx context.Context, id string) (*service.ScheduleResult, error) {
			t.Errorf("StartCampaign(%q) reached the service", id)
			return nil, nil
		},
		pauseFn: func(ctx context.Context, id string) (int, error) {
			t.Errorf("PauseCampaign(%q) reached the service", id)
			return 0, nil
		},
		statsFn: func(ctx context.Context, id string) (*domain.ScheduledEmailStats, error) {
			t.Errorf("GetCampaignEmailStats(%q) reached the service", id)
			return nil, nil
		},
		listFn: func(ctx context.Context, params repository.ListParams) ([]domain.ScheduledEmail, int64, error) {
			t.Errorf("ListScheduledEmails(%q) reached the service", params.CampaignID)
			return nil, 0, nil
		},
	}
	sender := &stubEmailSender{
		sendOneFn: func(ctx context.Context, id string) (*service.SendResult, error) {
			t.Errorf("SendScheduledEmail(%q) reached the sender", id)
			return nil, nil
		},
	}
	app := newCampaignTestApp(t, svc, sender)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/campaigns/not-a-uuid/start"},
		{http.MethodPost, "/v1/campaigns/123/pause"},
		{http.MethodGet, "/v1/campaigns/c1/email-stats"},
		{http.MethodGet, "/v1/campaigns/0b5e6c1a-3f2d-4e8b/scheduled-emails"},
		{http.MethodPost, "/v1/scheduled-emails/row-1/send"},
	}
	for _, tt := range tests {
		resp, body := performRequest(t, app, tt.method, tt.path, "")
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("%s %s status = %d, want 400, body=%s", tt.method, tt.path, resp.StatusCode, string(body))
		}
	}
}

func TestCampaignRoutes_NormalizesIDs(t *testing.T) {
	t.Parallel()

	var got string
	svc := &stubCampaignService{
		statsFn: func(ctx context.Context, id string) (*domain.ScheduledEmailStats, error) {
			got = id
			return &domain.ScheduledEmailStats{}, nil
		},
	}
	app := newCampaignTestApp(t, svc, &stubEmailSender{})

	resp, body := performRequest(t, app, http.MethodGet, "/v1/campaigns/0B5E6C1A-3F2D-4E8B-9A7C-1D2E3F4A5B6C/email-stats", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, body=%s", resp.StatusCode, string(body))
	}
	if got != testCampaignID {
		t.Fatalf("service id = %q, want %q", got, testCampaignID)
	}
}

func TestCampaignRoutes_RunSender(t *testing.T) {
	t.Parallel()

	sender := &stubEmailSender{
		sendDueFn: func(ctx context.Context) (service.SendDueResult, error) {
			return service.SendDueResult{SentCount: 3, FailedCount: 1, OwnersProcessed: 2}, nil
		},
	}
	app := newCampaignTestApp(t, &stubCampaignService{}, sender)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/sender/run", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, body=%s", resp.StatusCode, string(body))
	}
	var parsed service.SendDueResult
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.SentCount != 3 || parsed.FailedCount != 1 {
		t.Fatalf("result = %+v", parsed)
	}
}

func TestNewCampaignHandlerRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewCampaignHandler(nil, &stubEmailSender{}); err == nil {
		t.Fatal("NewCampaignHandler(nil service) error = nil")
	}
	if _, err := NewCampaignHandler(&stubCampaignService{}, nil); err == nil {
		t.Fatal("NewCampaignHandler(nil sender) error = nil")
	}
}

type stubCampaignService struct {
	startFn  func(ctx context.Context, id string) (*service.ScheduleResult, error)
	pauseFn  func(ctx context.Context, id string) (int, error)
	resumeFn func(ctx context.Context, id string) (int, error)
	retryFn  func(ctx context.Context, id string) (int, error)
	statsFn  func(ctx context.Context, id string) (*domain.ScheduledEmailStats, error)
	listFn   func(ctx context.Context, params repository.ListParams) ([]domain.ScheduledEmail, int64, error)
}

func (s *stubCampaignService) StartCampaign(ctx context.Context, id string) (*service.ScheduleResult, error) {
	if s.startFn == nil {
		return nil, errors.New("not implemented")
	}
	return s.startFn(ctx, id)
}

func (s *stubCampaignService) PauseCampaign(ctx context.Context, id string) (int, error) {
	if s.pauseFn == nil {
		return 0, errors.New("not implemented")
	}
	return s.pauseFn(ctx, id)
}

func (s *stubCampaignService) ResumeCampaign(ctx context.Context, id string) (int, error) {
	if s.resumeFn == nil {
		return 0, errors.New("not implemented")
	}
	return s.resumeFn(ctx, id)
}

func (s *stubCampaignService) RetryFailed(ctx context.Context, id string) (int, error) {
	if s.retryFn == nil {
		return 0, errors.New("not implemented")
	}
	return s.retryFn(ctx, id)
}

func (s *stubCampaignService) GetCampaignEmailStats(ctx context.Context, id string) (*domain.ScheduledEmailStats, error) {
	if s.statsFn == nil {
		return nil, errors.New("not implemented")
	}
	return s.statsFn(ctx, id)
}

func (s *stubCampaignService) ListScheduledEmails(ctx context.Context, params repository.ListParams) ([]domain.ScheduledEmail, int64, error) {
	if s.listFn == nil {
		return nil, 0, errors.New("not implemented")
	}
	return s.listFn(ctx, params)
}

type stubEmailSender struct {
	sendDueFn func(ctx context.Context) (service.SendDueResult, error)
	sendOneFn func(ctx context.Context, id string) (*service.SendResult, error)
}

func (s *stubEmailSender) SendDueEmails(ctx context.Context) (service.SendDueResult, error) {
	if s.sendDueFn == nil {
		return service.SendDueResult{}, errors.New("not implemented")
	}
	return s.sendDueFn(ctx)
}

func (s *stubEmailSender) SendScheduledEmail(ctx context.Context, id string) (*service.SendResult, error) {
	if s.sendOneFn == nil {
		return nil, errors.New("not implemented")
	}
	return s.sendOneFn(ctx, id)
}

func newCampaignTestApp(t *testing.T, svc CampaignService, sender EmailSender) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterCampaignRoutes(app, svc, sender); err != nil {
		t.Fatalf("RegisterCampaignRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}
