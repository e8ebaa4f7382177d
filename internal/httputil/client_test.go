package httputil

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
	"github.com/R3E-Network/vetclinic/internal/logging"
)

func TestNewSignedClientRequiresEndpoint(t *testing.T) {
	_, err := NewSignedClient(SignedClientConfig{})
	require.Error(t, err)
}

func TestSignedClientPostSignsBody(t *testing.T) {
	var gotSig, gotTS, gotTrace string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotTS = r.Header.Get(TimestampHeader)
		gotTrace = r.Header.Get(TraceHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewSignedClient(SignedClientConfig{Endpoint: srv.URL, Secret: "s3cret"})
	require.NoError(t, err)
	client.now = func() time.Time { return time.Unix(1700000000, 0) }

	ctx := logging.WithTraceID(context.Background(), "trace-9")
	require.NoError(t, client.Post(ctx, map[string]string{"kind": "appointment_confirmed"}, nil))

	assert.Equal(t, "1700000000", gotTS)
	assert.Equal(t, "trace-9", gotTrace)
	assert.True(t, VerifySignature([]byte("s3cret"), gotTS, gotBody, gotSig))
	assert.False(t, VerifySignature([]byte("other"), gotTS, gotBody, gotSig))
}

func TestSignedClientPostStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, strings.Repeat("x", 10), http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewSignedClient(SignedClientConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	err = client.Post(context.Background(), map[string]string{}, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.True(t, se.Retryable())
}

func TestReadAllWithLimit(t *testing.T) {
	data, truncated, err := ReadAllWithLimit(strings.NewReader("abcdef"), 4)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(data))
	assert.True(t, truncated)
}

func TestWriteErrorMapsServiceError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	WriteError(rec, req, svcerrors.InvalidTransition("cancelled", "confirmed"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INVALID_TRANSITION", body.Error.Code)
	assert.Equal(t, "cancelled", body.Error.Details["from"])
}

func TestWriteErrorHidesInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	WriteError(rec, req, io.ErrUnexpectedEOF)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "unexpected EOF")
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","extra":1}`))
	var dst struct {
		Name string `json:"name"`
	}
	assert.False(t, DecodeJSON(rec, req, &dst))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
