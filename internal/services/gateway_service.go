package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrGatewayUnavailable wraps transport failures, timeouts and 5xx responses
// from the payment processor. It is NOT a decline: callers must not record a
// payment outcome when they see it.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

const (
	gatewayProductionURL = "https://connect.cardworks.io/v2"
	gatewaySandboxURL    = "https://connect.cardworks-sandbox.io/v2"

	gatewayRequestTimeout = 30 * time.Second
)

// PaymentResult is the definitive outcome of a charge call. Succeeded=false
// means the processor explicitly declined; transport-level problems surface
// as errors instead.
type PaymentResult struct {
	Succeeded        bool
	GatewayPaymentID string
	Last4            string
	ReasonCode       string
	Message          string
}

// PaymentGatewayService is a thin adapter over the card processor's
// customer/card/payment APIs. Every mutating call carries a caller-supplied
// idempotency key; the processor returns the original result for a repeated
// key, so retry-with-same-key is always safe. The client never invents
// retries of its own.
type PaymentGatewayService interface {
	CreateCustomer(ctx context.Context, tenantRef, name, email string) (string, error)
	CreateCardOnFile(ctx context.Context, customerID, cardNonce, idempotencyKey string) (cardID, last4 string, err error)
	Charge(ctx context.Context, customerID, cardID string, amountCents int64, idempotencyKey, referenceID string) (*PaymentResult, error)
}

type gatewayService struct {
	apiKey     string
	locationID string
	baseURL    string
	http       *http.Client
}

// NewPaymentGatewayService builds a gateway client. The sandbox flag selects
// the environment; credentials are validated up front so a misconfigured
// deployment fails before any tenant is processed.
func NewPaymentGatewayService(apiKey, locationID string, sandbox bool) (PaymentGatewayService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("payment gateway API key is required")
	}
	if locationID == "" {
		return nil, fmt.Errorf("payment gateway location ID is required")
	}

	baseURL := gatewayProductionURL
	if sandbox {
		baseURL = gatewaySandboxURL
	}

	return &gatewayService{
		apiKey:     apiKey,
		locationID: locationID,
		baseURL:    baseURL,
		http:       &http.Client{Timeout: gatewayRequestTimeout},
	}, nil
}

type gatewayError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
}

type gatewayResponse struct {
	Customer *struct {
		ID string `json:"id"`
	} `json:"customer"`
	Card *struct {
		ID    string `json:"id"`
		Last4 string `json:"last_4"`
	} `json:"card"`
	Payment *struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		CardDetails struct {
			Card struct {
				Last4 string `json:"last_4"`
			} `json:"card"`
		} `json:"card_details"`
	} `json:"payment"`
	Errors []gatewayError `json:"errors"`
}

func (s *gatewayService) CreateCustomer(ctx context.Context, tenantRef, name, email string) (string, error) {
	body := map[string]interface{}{
		"reference_id": tenantRef,
		"company_name": name,
		"email":        email,
	}
	resp, err := s.post(ctx, "/customers", body, "")
	if err != nil {
		return "", err
	}
	if len(resp.Errors) > 0 {
		return "", fmt.Errorf("create customer rejected: %s", resp.Errors[0].Detail)
	}
	if resp.Customer == nil || resp.Customer.ID == "" {
		return "", fmt.Errorf("gateway returned no customer object")
	}
	return resp.Customer.ID, nil
}

func (s *gatewayService) CreateCardOnFile(ctx context.Context, customerID, cardNonce, idempotencyKey string) (string, string, error) {
	body := map[string]interface{}{
		"card_nonce": cardNonce,
	}
	resp, err := s.post(ctx, "/customers/"+customerID+"/cards", body, idempotencyKey)
	if err != nil {
		return "", "", err
	}
	if len(resp.Errors) > 0 {
		return "", "", fmt.Errorf("card tokenization rejected: %s", resp.Errors[0].Detail)
	}
	if resp.Card == nil || resp.Card.ID == "" {
		return "", "", fmt.Errorf("gateway returned no card object")
	}
	return resp.Card.ID, resp.Card.Last4, nil
}

func (s *gatewayService) Charge(ctx context.Context, customerID, cardID string, amountCents int64, idempotencyKey, referenceID string) (*PaymentResult, error) {
	body := map[string]interface{}{
		"customer_id":  customerID,
		"source_id":    cardID,
		"location_id":  s.locationID,
		"reference_id": referenceID,
		"amount_money": map[string]interface{}{
			"amount":   amountCents,
			"currency": "USD",
		},
	}
	resp, err := s.post(ctx, "/payments", body, idempotencyKey)
	if err != nil {
		return nil, err
	}

	// A structured error list on a 4xx is an explicit decline: terminal for
	// this attempt, safe to record.
	if len(resp.Errors) > 0 {
		return &PaymentResult{
			Succeeded:  false,
			ReasonCode: resp.Errors[0].Code,
			Message:    resp.Errors[0].Detail,
		}, nil
	}
	if resp.Payment == nil || resp.Payment.ID == "" {
		return nil, fmt.Errorf("%w: response carried neither payment nor errors", ErrGatewayUnavailable)
	}
	if resp.Payment.Status == "FAILED" {
		return &PaymentResult{
			Succeeded:  false,
			ReasonCode: "PAYMENT_FAILED",
			Message:    "payment failed",
		}, nil
	}
	return &PaymentResult{
		Succeeded:        true,
		GatewayPaymentID: resp.Payment.ID,
		Last4:            resp.Payment.CardDetails.Card.Last4,
	}, nil
}

func (s *gatewayService) post(ctx context.Context, path string, body interface{}, idempotencyKey string) (*gatewayResponse, error) {
	payload := map[string]interface{}{}
	if m, ok := body.(map[string]interface{}); ok {
		for k, v := range m {
			payload[k] = v
		}
	}
	if idempotencyKey != "" {
		payload["idempotency_key"] = idempotencyKey
	}

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewBuffer(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := s.http.Do(req)
	if err != nil {
		// Network failure or timeout: no way to know whether the processor
		// acted. The deterministic idempotency key makes a later retry safe.
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrGatewayUnavailable, err)
	}

	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: gateway returned %d", ErrGatewayUnavailable, httpResp.StatusCode)
	}

	resp := &gatewayResponse{}
	if err := json.Unmarshal(raw, resp); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrGatewayUnavailable, err)
	}

	if httpResp.StatusCode >= 400 && len(resp.Errors) == 0 {
		return nil, fmt.Errorf("gateway rejected request with status %d", httpResp.StatusCode)
	}
	return resp, nil
}
