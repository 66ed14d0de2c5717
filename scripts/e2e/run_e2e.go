// Package main runs end-to-end smoke scenarios against a running API.
//
// Scenarios cover:
//   - Health and metrics endpoints
//   - Inbound call admission for the configured clinic number
//   - Inbound call to an unbound number
//   - Tool dispatch authentication and the providers lookup
//   - Admin binding read with an operator token
//
// Usage:
//
//	API_BASE_URL=... ADMIN_JWT_SECRET=... VOICE_WEBHOOK_SECRET=... CLINIC_NUMBER=... ORG_ID=... go run scripts/e2e/run_e2e.go [scenario-name]
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const callerPhone = "+15005550002"

var (
	apiBase       string
	adminToken    string
	webhookSecret string
	clinicNumber  string
	orgID         string
	client        = &http.Client{Timeout: 20 * time.Second}
)

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
	name   string
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...interface{}) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

func generateJWT(secret string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   "e2e",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func do(req *http.Request) (int, string, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), nil
}

func postForm(path string, form url.Values) (int, string, error) {
	req, _ := http.NewRequest(http.MethodPost, apiBase+path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(req)
}

func postTool(name string, payload map[string]any, secret string) (int, map[string]any, error) {
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, apiBase+"/tools/"+name, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Voice-Webhook-Secret", secret)
	}
	status, raw, err := do(req)
	if err != nil {
		return 0, nil, err
	}
	var decoded map[string]any
	_ = json.Unmarshal([]byte(raw), &decoded)
	return status, decoded, nil
}

func scenarioHealth(t *T) {
	req, _ := http.NewRequest(http.MethodGet, apiBase+"/health", nil)
	status, body, err := do(req)
	if err != nil {
		t.fatalf("health request: %v", err)
		return
	}
	t.check("health returns 200", status == http.StatusOK)
	t.check("health reports ok", strings.Contains(body, `"status":"ok"`))

	req, _ = http.NewRequest(http.MethodGet, apiBase+"/metrics", nil)
	status, body, err = do(req)
	if err != nil {
		t.fatalf("metrics request: %v", err)
		return
	}
	t.check("metrics returns 200", status == http.StatusOK)
	t.check("metrics exposes go runtime", strings.Contains(body, "go_goroutines"))
}

func scenarioInboundBound(t *T) {
	status, body, err := postForm("/voice/inbound", url.Values{
		"CallSid": {fmt.Sprintf("e2e-%d", time.Now().UnixNano())},
		"From":    {callerPhone},
		"To":      {clinicNumber},
	})
	if err != nil {
		t.fatalf("inbound request: %v", err)
		return
	}
	t.check("inbound returns 200", status == http.StatusOK)
	t.check("inbound returns a TeXML document", strings.Contains(body, "<Response>"))
	t.check("inbound bridges or falls back", strings.Contains(body, "<Dial") || strings.Contains(body, "<Record") || strings.Contains(body, "<Say"))
}

func scenarioInboundUnbound(t *T) {
	status, body, err := postForm("/voice/inbound", url.Values{
		"CallSid": {fmt.Sprintf("e2e-%d", time.Now().UnixNano())},
		"From":    {callerPhone},
		"To":      {"+15005550999"},
	})
	if err != nil {
		t.fatalf("inbound request: %v", err)
		return
	}
	t.check("unbound returns 200", status == http.StatusOK)
	t.check("unbound hangs up", strings.Contains(body, "<Hangup"))
	t.check("unbound never dials", !strings.Contains(body, "<Dial"))
}

func scenarioToolAuth(t *T) {
	status, body, err := postTool("getProviders", map[string]any{"phoneNumberId": clinicNumber}, "wrong-secret")
	if err != nil {
		t.fatalf("tool request: %v", err)
		return
	}
	t.check("bad secret returns 401", status == http.StatusUnauthorized)
	_, hasMessage := body["message"]
	t.check("401 still carries a message", hasMessage)
}

func scenarioToolProviders(t *T) {
	status, body, err := postTool("getProviders", map[string]any{
		"callId":        fmt.Sprintf("e2e-%d", time.Now().UnixNano()),
		"phoneNumberId": clinicNumber,
		"callerNumber":  callerPhone,
		"parameters":    map[string]any{},
	}, webhookSecret)
	if err != nil {
		t.fatalf("tool request: %v", err)
		return
	}
	t.check("tool returns 200", status == http.StatusOK)
	result, _ := body["result"].(map[string]any)
	if result == nil {
		t.fatalf("missing result in %v", body)
		return
	}
	message, _ := result["message"].(string)
	t.check("result always has a spoken message", strings.TrimSpace(message) != "")
	fmt.Printf("    INFO: success=%v message=%q\n", result["success"], message)
}

func scenarioAdminBinding(t *T) {
	if orgID == "" {
		fmt.Println("    SKIP: ORG_ID not set")
		return
	}
	req, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/admin/clinics/%s/binding", apiBase, orgID), nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	status, body, err := do(req)
	if err != nil {
		t.fatalf("binding request: %v", err)
		return
	}
	t.check("binding returns 200", status == http.StatusOK)
	t.check("binding matches org", strings.Contains(body, orgID))

	req, _ = http.NewRequest(http.MethodGet, fmt.Sprintf("%s/admin/clinics/%s/binding", apiBase, orgID), nil)
	status, _, err = do(req)
	if err != nil {
		t.fatalf("binding request: %v", err)
		return
	}
	t.check("binding without token returns 401", status == http.StatusUnauthorized)
}

func main() {
	apiBase = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	secret := os.Getenv("ADMIN_JWT_SECRET")
	webhookSecret = os.Getenv("VOICE_WEBHOOK_SECRET")
	clinicNumber = os.Getenv("CLINIC_NUMBER")
	orgID = os.Getenv("ORG_ID")
	if apiBase == "" || secret == "" || clinicNumber == "" {
		fmt.Fprintln(os.Stderr, "ERROR: API_BASE_URL, ADMIN_JWT_SECRET and CLINIC_NUMBER required")
		os.Exit(1)
	}
	token, err := generateJWT(secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: sign admin token: %v\n", err)
		os.Exit(1)
	}
	adminToken = token

	scenarios := []scenario{
		{"health", scenarioHealth},
		{"inbound-bound", scenarioInboundBound},
		{"inbound-unbound", scenarioInboundUnbound},
		{"tool-auth", scenarioToolAuth},
		{"tool-providers", scenarioToolProviders},
		{"admin-binding", scenarioAdminBinding},
	}

	// Filter by name if argument provided
	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}

	totalPassed := 0
	totalFailed := 0
	scenarioResults := make([]string, 0)

	for _, s := range scenarios {
		if filter != "" && s.Name != filter {
			continue
		}

		fmt.Printf("\n========================================\n")
		fmt.Printf("SCENARIO: %s\n", s.Name)
		fmt.Printf("========================================\n")

		t := &T{name: s.Name}
		s.Fn(t)

		totalPassed += t.passed
		totalFailed += t.failed

		status := "PASS"
		if t.failed > 0 {
			status = "FAIL"
		}
		scenarioResults = append(scenarioResults, fmt.Sprintf("  %s %s (%d passed, %d failed)", status, s.Name, t.passed, t.failed))
	}

	fmt.Printf("\n========================================\n")
	fmt.Printf("SUMMARY\n")
	fmt.Printf("========================================\n")
	for _, line := range scenarioResults {
		fmt.Println(line)
	}
	fmt.Printf("\nTotal: %d passed, %d failed\n", totalPassed, totalFailed)
	if totalFailed > 0 {
		os.Exit(1)
	}
}
