package upi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestVerifyVPA(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/upi/verify" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		valid := r.URL.Query().Get("vpa") == "ravi@okaxis"
		_ = json.NewEncoder(w).Encode(vpaResponse{Valid: valid, AccountName: "Ravi Kumar"})
	}))
	defer provider.Close()

	client := NewClient(provider.URL, "key", true, 5*time.Second, zap.NewNop())
	valid, name, err := client.VerifyVPA(context.Background(), "ravi@okaxis")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !valid || name != "Ravi Kumar" {
		t.Fatalf("expected valid VPA, got valid=%v name=%q", valid, name)
	}
	valid, _, err = client.VerifyVPA(context.Background(), "ghost@okaxis")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if valid {
		t.Fatalf("unknown VPA must be invalid")
	}
}

func TestVerifyVPAOutage(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer provider.Close()

	client := NewClient(provider.URL, "key", true, 5*time.Second, zap.NewNop())
	_, _, err := client.VerifyVPA(context.Background(), "ravi@okaxis")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected provider-unavailable, got %v", err)
	}
}

func TestDisabledProviderSkipsNetwork(t *testing.T) {
	client := NewClient("http://unreachable.invalid", "", false, time.Second, zap.NewNop())
	valid, _, err := client.VerifyVPA(context.Background(), "ravi@okaxis")
	if err != nil || !valid {
		t.Fatalf("disabled provider must accept: valid=%v err=%v", valid, err)
	}
	if bank, _ := client.LookupIFSC(context.Background(), "HDFC0001234"); bank != "" {
		t.Fatalf("disabled provider must return empty bank")
	}
}

func TestLookupIFSC(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ifsc/HDFC0001234" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(ifscResponse{Bank: "HDFC Bank", Branch: "Koramangala"})
	}))
	defer provider.Close()

	client := NewClient(provider.URL, "key", true, 5*time.Second, zap.NewNop())
	bank, branch := client.LookupIFSC(context.Background(), "HDFC0001234")
	if bank != "HDFC Bank" || branch != "Koramangala" {
		t.Fatalf("unexpected lookup: %q %q", bank, branch)
	}

	// Outage degrades to empty values.
	provider.Close()
	if bank, _ := client.LookupIFSC(context.Background(), "HDFC0001234"); bank != "" {
		t.Fatalf("outage must degrade to empty bank name")
	}
}
