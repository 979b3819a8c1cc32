// Package main runs a booking smoke test against a running API.
//
// It signs its own actor tokens, so it needs the server's JWT secret. The
// flow creates a service and a block as a provider, books the first open
// slot as a customer, accepts it and asks for a checkout session.
//
// Usage:
//
//	go run ./scripts/smoke --api=http://localhost:8080 --secret=$JWT_SECRET
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
	httpmiddleware "github.com/erimias46/babrber-frontend-sub000/internal/http/middleware"
)

var (
	flagAPI    string
	flagSecret string
)

func init() {
	flag.StringVar(&flagAPI, "api", "http://localhost:8080", "API base URL")
	flag.StringVar(&flagSecret, "secret", "", "JWT secret (or JWT_SECRET env)")
}

type caller struct {
	name  string
	token string
}

func newCaller(a actor.Actor) caller {
	tok, err := httpmiddleware.IssueToken(flagSecret, a, time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token for %s: %v\n", a.ID, err)
		os.Exit(1)
	}
	return caller{name: string(a.Role), token: tok}
}

func (c caller) do(method, path string, body any, want int, dst any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, flagAPI+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s as %s: got %d, want %d: %s", method, path, c.name, resp.StatusCode, want, truncate(string(raw), 200))
	}
	if dst != nil {
		return json.Unmarshal(raw, dst)
	}
	return nil
}

type step struct {
	name string
	run  func() error
}

func main() {
	flag.Parse()
	if flagSecret == "" {
		flagSecret = os.Getenv("JWT_SECRET")
	}
	if flagSecret == "" {
		fmt.Fprintln(os.Stderr, "--secret or JWT_SECRET is required")
		os.Exit(2)
	}

	suffix := uuid.NewString()[:8]
	providerID := "smoke-provider-" + suffix
	provider := newCaller(actor.Actor{ID: providerID, Role: actor.RoleProvider})
	customer := newCaller(actor.Actor{ID: "smoke-customer-" + suffix, Role: actor.RoleCustomer})

	day := time.Now().UTC().Add(48 * time.Hour).Truncate(24 * time.Hour)
	blockStart := day.Add(9 * time.Hour)

	var (
		service struct {
			ID string `json:"id"`
		}
		slotList struct {
			Slots []struct {
				Start time.Time `json:"start"`
			} `json:"slots"`
		}
		booking struct {
			ID              string `json:"id"`
			Status          string `json:"status"`
			DepositRequired bool   `json:"deposit_required"`
		}
		session struct {
			URL string `json:"checkout_url"`
		}
	)

	steps := []step{
		{"create service", func() error {
			return provider.do(http.MethodPost, "/providers/"+providerID+"/services",
				map[string]any{"name": "Smoke fade", "price_cents": 3000, "duration_minutes": 30}, http.StatusCreated, &service)
		}},
		{"create block", func() error {
			return provider.do(http.MethodPost, "/providers/"+providerID+"/blocks",
				map[string]any{"start": blockStart, "end": blockStart.Add(3 * time.Hour)}, http.StatusCreated, nil)
		}},
		{"list slots", func() error {
			q := url.Values{}
			q.Set("from", day.Format(time.RFC3339))
			q.Set("to", day.Add(24*time.Hour).Format(time.RFC3339))
			q.Set("serviceId", service.ID)
			if err := customer.do(http.MethodGet, "/providers/"+providerID+"/slots?"+q.Encode(), nil, http.StatusOK, &slotList); err != nil {
				return err
			}
			if len(slotList.Slots) == 0 {
				return fmt.Errorf("no slots offered")
			}
			return nil
		}},
		{"create request", func() error {
			return customer.do(http.MethodPost, "/requests", map[string]any{
				"provider_id":    providerID,
				"service_id":     service.ID,
				"scheduled_time": slotList.Slots[0].Start,
				"location":       map[string]any{"address": "1 Smoke Test Way"},
			}, http.StatusCreated, &booking)
		}},
		{"duplicate request rejected", func() error {
			return customer.do(http.MethodPost, "/requests", map[string]any{
				"provider_id": providerID,
				"service_id":  service.ID,
				"location":    map[string]any{"address": "1 Smoke Test Way"},
			}, http.StatusConflict, nil)
		}},
		{"accept request", func() error {
			if err := provider.do(http.MethodPatch, "/requests/"+booking.ID+"/status", map[string]string{"status": "accepted"}, http.StatusOK, &booking); err != nil {
				return err
			}
			if booking.Status != "accepted" {
				return fmt.Errorf("status = %s", booking.Status)
			}
			return nil
		}},
		{"checkout session", func() error {
			phase := "full"
			if booking.DepositRequired {
				phase = "deposit"
			}
			return customer.do(http.MethodPost, "/payments/checkout-session",
				map[string]string{"booking_id": booking.ID, "phase": phase}, http.StatusOK, &session)
		}},
	}

	failed := 0
	for _, s := range steps {
		start := time.Now()
		if err := s.run(); err != nil {
			failed++
			fmt.Printf("FAIL  %-28s %v\n", s.name, err)
			break
		}
		fmt.Printf("PASS  %-28s %s\n", s.name, time.Since(start).Round(time.Millisecond))
	}
	if failed > 0 {
		os.Exit(1)
	}
	fmt.Printf("\nbooking %s ready for payment: %s\n", booking.ID, session.URL)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
