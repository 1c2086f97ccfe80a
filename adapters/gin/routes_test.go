package adgin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/open-rails/adkit"
	"github.com/open-rails/adkit/inventory"
	"github.com/open-rails/adkit/present"
	adkittest "github.com/open-rails/adkit/testing"
)

var testSecret = []byte("test-secret")

func newTestRouter(t *testing.T) (*gin.Engine, *adkit.Kit, *adkittest.StubLoader) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	loader := adkittest.NewStubLoader()
	kit, err := adkit.New(adkit.Options{
		Loader:    loader,
		Presenter: adkittest.NewStubPresenter(present.Outcome{Kind: present.Shown}),
		Clock:     adkittest.NewManualClock(time.Unix(0, 0)),
		Sampler:   adkittest.NewScriptedSampler(0.99),
	})
	if err != nil {
		t.Fatalf("assemble kit: %v", err)
	}
	t.Cleanup(kit.Close)

	r := gin.New()
	Mount(r, kit, Config{AdminSecret: testSecret})
	return r, kit, loader
}

func adminToken(t *testing.T, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": role})
	s, err := tok.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func doJSON(r *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestEntitlementGET(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/entitlement", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "free" {
		t.Fatalf("status = %q, want free", resp.Status)
	}
}

func TestGrantRequiresAdminToken(t *testing.T) {
	r, kit, _ := newTestRouter(t)
	body := map[string]interface{}{"hours": 24}

	if w := doJSON(r, http.MethodPost, "/entitlement/grant", "", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", w.Code)
	}
	if w := doJSON(r, http.MethodPost, "/entitlement/grant", adminToken(t, "user"), body); w.Code != http.StatusForbidden {
		t.Fatalf("wrong role: status = %d, want 403", w.Code)
	}
	if w := doJSON(r, http.MethodPost, "/entitlement/grant", adminToken(t, "admin"), body); w.Code != http.StatusOK {
		t.Fatalf("admin: status = %d, want 200", w.Code)
	}
	if !kit.Entitlements.IsPremium() {
		t.Fatal("grant did not apply")
	}
}

func TestGrantRejectsNonPositiveHours(t *testing.T) {
	r, kit, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/entitlement/grant", adminToken(t, "admin"), map[string]interface{}{"hours": -2})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if kit.Entitlements.IsPremium() {
		t.Fatal("invalid grant mutated state")
	}
}

func TestPlanChange(t *testing.T) {
	r, kit, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/entitlement/plan", adminToken(t, "admin"), map[string]string{"status": "monthly_premium"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !kit.Entitlements.IsPremium() {
		t.Fatal("plan did not apply")
	}

	w = doJSON(r, http.MethodPost, "/entitlement/plan", adminToken(t, "admin"), map[string]string{"status": "temporary_premium"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("temporary via plan: status = %d, want 400", w.Code)
	}
}

func TestNavigateEndpoint(t *testing.T) {
	r, kit, loader := newTestRouter(t)
	kit.Inventory.Load(inventory.SlotInterstitial)
	loader.Succeed(inventory.SlotInterstitial)

	var triggered int
	for i := 0; i < 5; i++ {
		w := doJSON(r, http.MethodPost, "/events/navigate", "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var resp struct {
			Triggered bool `json:"triggered"`
		}
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Triggered {
			triggered++
		}
	}
	if triggered != 1 {
		t.Fatalf("triggered = %d, want 1 in five navigations", triggered)
	}
}

func TestScreenExitRequiresScreen(t *testing.T) {
	r, _, _ := newTestRouter(t)
	if w := doJSON(r, http.MethodPost, "/events/screen-exit", "", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestRewardedNotReadyConflict(t *testing.T) {
	r, _, loader := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/ads/rewarded", "", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if n := loader.LoadCount(inventory.SlotRewarded); n != 1 {
		t.Fatalf("rewarded loads = %d, want 1 (kicked by the request)", n)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	r, kit, loader := newTestRouter(t)
	kit.Inventory.Load(inventory.SlotBanner)
	loader.Succeed(inventory.SlotBanner)

	w := doJSON(r, http.MethodGet, "/ads/readiness", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["banner"] != "ready" || resp["interstitial"] != "unloaded" {
		t.Fatalf("readiness = %v", resp)
	}
}
