package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tripseat/internal/bookings"
	"tripseat/internal/reschedule"
	"tripseat/internal/shared/apperr"
)

// HTTPSubmitter replays operations against the engine's REST API
type HTTPSubmitter struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPSubmitter creates a submitter for the API rooted at baseURL
// (for example http://engine:8080/api/v1)
func NewHTTPSubmitter(baseURL, token string, timeout time.Duration) *HTTPSubmitter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSubmitter{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// envelope mirrors response.StandardApiResponse
type envelope struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Errors     json.RawMessage `json:"errors"`
}

type errorBody struct {
	Code  apperr.Code `json:"code"`
	Seats []int       `json:"seats"`
}

func (h *HTTPSubmitter) Submit(ctx context.Context, op Operation) (Result, error) {
	path, body, err := h.route(op)
	if err != nil {
		return Result{}, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: encoding %s: %v", apperr.ErrValidation, op.Type, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(bookings.IdempotencyHeader, op.ID)
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", apperr.ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading response: %v", apperr.ErrTransient, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Result{}, fmt.Errorf("%w: status %d with unreadable body", apperr.ErrTransient, resp.StatusCode)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var booking bookings.BookingResponse
		if err := json.Unmarshal(env.Data, &booking); err != nil {
			return Result{}, fmt.Errorf("%w: decoding booking: %v", apperr.ErrTransient, err)
		}
		return Result{BookingID: booking.ID, Status: string(booking.Status)}, nil
	}
	return Result{}, h.classify(op, resp.StatusCode, env)
}

// classify turns a failed response back into the error taxonomy
func (h *HTTPSubmitter) classify(op Operation, status int, env envelope) error {
	var eb errorBody
	_ = json.Unmarshal(env.Errors, &eb)

	switch {
	case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: engine returned %d: %s", apperr.ErrTransient, status, env.Message)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		// Keep the operation until the operator signs in again.
		return fmt.Errorf("%w: engine refused credentials (%d)", apperr.ErrTransient, status)
	}

	if eb.Code == apperr.CodeSeatsUnavailable {
		return apperr.NewSeatsUnavailable(op.TripScope, eb.Seats)
	}
	if sentinel := apperr.FromCode(eb.Code); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, env.Message)
	}
	return fmt.Errorf("%w: engine returned %d: %s", apperr.ErrValidation, status, env.Message)
}

// route maps an operation onto its endpoint and body
func (h *HTTPSubmitter) route(op Operation) (string, any, error) {
	if op.Type == OpCreateBooking {
		req := *op.Create
		req.IdempotencyKey = op.ID
		return "/bookings", req, nil
	}
	if op.Type == OpCheckIn && op.BookingID == "" {
		return "/check-in", bookings.CheckInByTicketRequest{TicketRef: op.CheckIn.TicketRef, IdempotencyKey: op.ID}, nil
	}
	if op.BookingID == "" {
		return "", nil, fmt.Errorf("%w: %s has no booking id", apperr.ErrValidation, op.Type)
	}

	base := "/bookings/" + op.BookingID
	switch op.Type {
	case OpCancelBooking:
		body := bookings.CancelBookingRequest{IdempotencyKey: op.ID}
		if op.Cancel != nil {
			body.Reason = op.Cancel.Reason
		}
		return base + "/cancel", body, nil
	case OpCheckIn:
		return base + "/check-in", bookings.TransitionRequest{IdempotencyKey: op.ID}, nil
	case OpMarkNoShow:
		return base + "/no-show", bookings.TransitionRequest{IdempotencyKey: op.ID}, nil
	case OpReschedule:
		return base + "/reschedule", reschedule.RescheduleRequest{
			TripID:         op.Reschedule.TripID,
			Seats:          op.Reschedule.Seats,
			IdempotencyKey: op.ID,
		}, nil
	}
	return "", nil, fmt.Errorf("%w: unknown operation %s", apperr.ErrValidation, op.Type)
}
