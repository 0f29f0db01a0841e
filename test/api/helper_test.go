//go:build integration

package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type apiError struct {
	Code    int                    `json:"code"`
	Reason  string                 `json:"reason"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details"`
}

type apiResponse struct {
	StatusCode int
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Error      *apiError       `json:"error"`
}

func (r apiResponse) decode(t *testing.T, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, out))
}

func (r apiResponse) reason() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Reason
}

func makeRequest(t *testing.T, method, path string, body interface{}, token string) apiResponse {
	t.Helper()
	resp, err := doRequest(method, path, body, token)
	require.NoError(t, err)
	return resp
}

// doRequest is safe to call from goroutines other than the test's own.
func doRequest(method, path string, body interface{}, token string) (apiResponse, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return apiResponse{}, err
		}
	}

	req, err := http.NewRequest(method, baseURL+path, &buf)
	if err != nil {
		return apiResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return apiResponse{}, err
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return apiResponse{}, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	out.StatusCode = resp.StatusCode
	return out, nil
}

type appointmentBody struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	TokenNumber *int   `json:"token_number"`
	SkipCount   int    `json:"skip_count"`
}

type statusBody struct {
	CurrentToken int    `json:"current_token"`
	IsLive       bool   `json:"is_live"`
	Status       string `json:"status"`
	Source       string `json:"source"`
	Wait         *struct {
		MyToken              int  `json:"my_token"`
		TokensAhead          int  `json:"tokens_ahead"`
		EstimatedWaitMinutes int  `json:"estimated_wait_minutes"`
		IsMyTurn             bool `json:"is_my_turn"`
	} `json:"wait"`
}

func walkIn(t *testing.T) appointmentBody {
	t.Helper()
	return walkInFor(t, doctorID.String())
}

func walkInFor(t *testing.T, doctor string) appointmentBody {
	t.Helper()
	resp := makeRequest(t, http.MethodPost, "/api/v1/queue/walk-ins", walkInBody(doctor), staffToken)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "walk-in failed: %+v", resp.Error)

	var a appointmentBody
	resp.decode(t, &a)
	require.NotNil(t, a.TokenNumber)
	return a
}

func walkInBody(doctor string) map[string]interface{} {
	return map[string]interface{}{
		"patient_id":  newID(),
		"hospital_id": hospitalID.String(),
		"doctor_id":   doctor,
	}
}

func action(t *testing.T, name, appointmentID, token string) apiResponse {
	t.Helper()
	return makeRequest(t, http.MethodPost, "/api/v1/queue/actions", map[string]interface{}{
		"action":         name,
		"appointment_id": appointmentID,
	}, token)
}

func queueStatus(t *testing.T, appointmentID string) statusBody {
	t.Helper()
	path := "/api/v1/queue/status?hospital_id=" + hospitalID.String() + "&doctor_id=" + doctorID.String()
	if appointmentID != "" {
		path += "&appointment_id=" + appointmentID
	}
	resp := makeRequest(t, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, "status failed: %+v", resp.Error)

	var s statusBody
	resp.decode(t, &s)
	return s
}
