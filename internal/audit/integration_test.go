//go:build integration

package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditnotary/internal/anchor"
	"github.com/jmerrifield20/auditnotary/internal/archive"
	"github.com/jmerrifield20/auditnotary/internal/audit/handler"
	"github.com/jmerrifield20/auditnotary/internal/audit/repository"
	"github.com/jmerrifield20/auditnotary/internal/audit/service"
	"github.com/jmerrifield20/auditnotary/internal/journal"
	"github.com/jmerrifield20/auditnotary/internal/notary"
)

type capturingUploader struct{ payload []byte }

func (u *capturingUploader) Upload(_ context.Context, payload []byte) (*archive.Receipt, error) {
	u.payload = payload
	return &archive.Receipt{ID: "itest-1", URL: "https://gateway.example/itest-1", Cost: decimal.Zero}, nil
}

func (u *capturingUploader) Backend() string { return "capture" }

type okAnchorer struct{}

func (okAnchorer) Anchor(context.Context, []byte) (*anchor.Anchor, error) {
	return &anchor.Anchor{TransactionID: "itx", Signature: "itx", Fee: decimal.Zero}, nil
}

func setupIntegration(t *testing.T) (*httptest.Server, *pgxpool.Pool, *capturingUploader) {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	if err := db.Ping(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}

	// Clean audits table for deterministic tests
	db.Exec(ctx, "DELETE FROM audits") //nolint:errcheck

	logger := zap.NewNop()
	repo := repository.NewAuditRepository(db)
	jrnl := journal.NewPostgres(db, logger)
	up := &capturingUploader{}

	orch := notary.NewOrchestrator(repo, up, okAnchorer{}, "", logger)
	orch.SetJournal(jrnl)
	svc := service.NewAuditService(repo, orch, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	v1 := router.Group("/api/v1")
	handler.NewAuditHandler(svc, logger).Register(v1)
	handler.NewJournalHandler(jrnl, logger).Register(v1)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		db.Close()
	})
	return srv, db, up
}

func send(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out) //nolint:errcheck
	return resp, out
}

func TestIntegration_completeAndReverify(t *testing.T) {
	srv, _, up := setupIntegration(t)
	base := srv.URL + "/api/v1"

	resp, body := send(t, http.MethodPost, base+"/audits", map[string]any{
		"title":    "Integration kitchen",
		"type_key": "restaurant",
		"state": map[string]any{
			"checklist": []any{
				map[string]any{"id": "1.1", "status": "pass", "score": 0.1},
				map[string]any{"id": "1.2", "status": "fail", "note": "<b>&</b>"},
			},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %v", resp.StatusCode, body)
	}
	id := body["audit"].(map[string]any)["id"].(string)

	resp, body = send(t, http.MethodPost, base+"/audits/"+id+"/complete", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %v", resp.StatusCode, body)
	}
	if body["tier"] != "full" {
		t.Errorf("tier: got %v", body["tier"])
	}
	hash := body["audit"].(map[string]any)["integrity_hash"].(string)

	// Reading state back from JSONB must reproduce the same hash.
	resp, body = send(t, http.MethodGet, base+"/audits/"+id+"/verification", nil)
	if resp.StatusCode != http.StatusOK || body["matches"] != true {
		t.Fatalf("verification: %d %v", resp.StatusCode, body)
	}

	// Third-party check against the exact published bytes.
	loc := "itest-1"
	if _, ok, err := notary.VerifyPayload(up.payload, &loc, hash); err != nil || !ok {
		t.Errorf("published payload does not reproduce the hash: %v", err)
	}

	resp, _ = send(t, http.MethodPost, base+"/audits/"+id+"/complete", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second completion: expected 409, got %d", resp.StatusCode)
	}

	resp, body = send(t, http.MethodGet, base+"/journal/verify", nil)
	if resp.StatusCode != http.StatusOK || body["valid"] != true {
		t.Errorf("journal verify: %d %v", resp.StatusCode, body)
	}
}
