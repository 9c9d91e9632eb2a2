package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSendPostsToGateway(t *testing.T) {
	var got sendRequest
	var auth string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sms/send" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(sendResponse{Success: true, MessageID: "m1"})
	}))
	defer gateway.Close()

	client := NewClient(gateway.URL, "key-123", "CROPFR", true, 5*time.Second, zap.NewNop())
	if err := client.Send(context.Background(), "9876543210", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.To != "+919876543210" {
		t.Fatalf("expected +91 prefix, got %q", got.To)
	}
	if got.SenderID != "CROPFR" || got.Message != "hello" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if auth != "Bearer key-123" {
		t.Fatalf("unexpected auth header %q", auth)
	}
}

func TestSendReportsGatewayRejection(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(sendResponse{Success: false, Message: "invalid number"})
	}))
	defer gateway.Close()

	client := NewClient(gateway.URL, "key", "CROPFR", true, 5*time.Second, zap.NewNop())
	if err := client.Send(context.Background(), "9876543210", "hello"); err == nil {
		t.Fatalf("expected rejection error")
	}
}

func TestDisabledClientLogsOnly(t *testing.T) {
	client := NewClient("http://unreachable.invalid", "", "CROPFR", false, time.Second, zap.NewNop())
	if err := client.Send(context.Background(), "9876543210", "hello"); err != nil {
		t.Fatalf("disabled client must not error: %v", err)
	}
	if err := client.SendOTP(context.Background(), "9876543210", "482716"); err != nil {
		t.Fatalf("disabled otp send must not error: %v", err)
	}
}
