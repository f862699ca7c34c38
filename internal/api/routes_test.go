package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"github.com/hsapsbch-blip/betapdoc/adapters"
	"github.com/hsapsbch-blip/betapdoc/adapters/llm"
	"github.com/hsapsbch-blip/betapdoc/adapters/stt"
	"github.com/hsapsbch-blip/betapdoc/adapters/tts"
	"github.com/hsapsbch-blip/betapdoc/domain/entities"
	"github.com/hsapsbch-blip/betapdoc/internal/auth"
	"github.com/hsapsbch-blip/betapdoc/internal/transcription"
	"github.com/hsapsbch-blip/betapdoc/internal/websocket"
	"github.com/hsapsbch-blip/betapdoc/usecase"
)

type routesFixture struct {
	echo     *echo.Echo
	issuer   *auth.Issuer
	attempts *adapters.MemoryPracticeRepository
}

func setupRoutes(t *testing.T) *routesFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	issuer, err := auth.NewIssuer("test-secret", time.Hour, "meo-con")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	attempts := adapters.NewMemoryPracticeRepository()
	manager := transcription.NewManager(stt.NewMockTranscriber(logger), transcription.Config{}, logger)
	service := usecase.NewPracticeService(llm.NewMockTutor(), tts.NewMockTTS(), manager, attempts, logger)
	hub := websocket.NewHub(service, websocket.HubConfig{}, logger)

	e := echo.New()
	InitRoutes(e, hub, issuer, service, logger)
	return &routesFixture{echo: e, issuer: issuer, attempts: attempts}
}

func (f *routesFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := setupRoutes(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["reader_connected"] != false {
		t.Errorf("unexpected health body %v", body)
	}
}

func TestReaderAuth(t *testing.T) {
	f := setupRoutes(t)

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantError string
	}{
		{"valid code", `{"access_code": "meo-con"}`, http.StatusOK, ""},
		{"wrong code", `{"access_code": "cho-con"}`, http.StatusUnauthorized, "authentication_failed"},
		{"missing code", `{}`, http.StatusBadRequest, "missing_fields"},
		{"invalid json", `{"access_code": `, http.StatusBadRequest, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/reader/auth", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := f.do(req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}

			if tt.wantError != "" {
				var resp ErrorResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if resp.Error != tt.wantError {
					t.Errorf("expected error %s, got %s", tt.wantError, resp.Error)
				}
				return
			}

			var resp ReaderAuthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.ReaderID != auth.ReaderIDFor("meo-con") {
				t.Errorf("unexpected reader id %s", resp.ReaderID)
			}
			if _, err := f.issuer.ValidateToken(resp.Token); err != nil {
				t.Errorf("issued token does not validate: %v", err)
			}
		})
	}
}

func TestListAttempts(t *testing.T) {
	f := setupRoutes(t)
	ctx := context.Background()

	readerID := auth.ReaderIDFor("meo-con")
	for _, text := range []string{"Mèo con.", "Bé đi học.", "Trời mưa."} {
		attempt := entities.NewPracticeAttempt(readerID, text)
		attempt.Complete(text, "Giỏi lắm!")
		if err := f.attempts.Create(ctx, attempt); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	other := entities.NewPracticeAttempt("someone-else", "Cá bơi.")
	other.Complete("Cá bơi.", "Giỏi lắm!")
	if err := f.attempts.Create(ctx, other); err != nil {
		t.Fatalf("Create: %v", err)
	}

	token, _, err := f.issuer.GenerateReaderToken(readerID)
	if err != nil {
		t.Fatalf("GenerateReaderToken: %v", err)
	}

	tests := []struct {
		name      string
		query     string
		auth      string
		wantCode  int
		wantCount int
	}{
		{"all attempts", "", "Bearer " + token, http.StatusOK, 3},
		{"limited", "?limit=2", "Bearer " + token, http.StatusOK, 2},
		{"token in query", "?token=" + token, "", http.StatusOK, 3},
		{"bad limit", "?limit=zero", "Bearer " + token, http.StatusBadRequest, 0},
		{"missing token", "", "", http.StatusUnauthorized, 0},
		{"invalid token", "", "Bearer not-a-jwt", http.StatusUnauthorized, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/attempts"+tt.query, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := f.do(req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}

			var resp AttemptsResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Count != tt.wantCount || len(resp.Attempts) != tt.wantCount {
				t.Errorf("expected %d attempts, got %d", tt.wantCount, resp.Count)
			}
			for _, a := range resp.Attempts {
				if a.ReaderID != readerID {
					t.Errorf("attempt of another reader leaked: %s", a.ReaderID)
				}
			}
		})
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	f := setupRoutes(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}
