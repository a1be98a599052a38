package httpqa_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fieldscan/internal/answer"
	"fieldscan/internal/answer/httpqa"
	"fieldscan/internal/config"
	"fieldscan/internal/domain"
	"fieldscan/internal/port"
	"fieldscan/mocks"
)

var page = domain.PageRef{DocumentID: "doc-1", PageIndex: 0, Key: "doc-1/0.png"}

func newClient(t *testing.T, handler http.HandlerFunc) (*httpqa.Client, *mocks.MockObjectStorage) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	storage := new(mocks.MockObjectStorage)
	storage.On("Download", mock.Anything, page.Key).Return([]byte("png-bytes"), nil)
	return httpqa.New(&config.AnswerProviderConfig{Endpoint: srv.URL + "/", APIKey: "secret", TimeoutSecs: 5}, storage), storage
}

func TestClient_Answer(t *testing.T) {
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/answer", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body struct {
			Image     string   `json:"image"`
			Questions []string `json:"questions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), body.Image)
		assert.Equal(t, []string{"What is the total?", "What is the invoice number?"}, body.Questions)

		_, _ = w.Write([]byte(`{"answers":[
			{"answer":" 110.00 ","confidence":0.91,"bbox":[700,850,800,870]},
			{"answer":"INV-9","confidence":1.4}
		]}`))
	})

	got, err := client.Answer(context.Background(), port.AnswerRequest{
		Page:      page,
		Questions: []string{"What is the total?", "What is the invoice number?"},
	})

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "110.00", got[0].Answer)
	assert.Equal(t, 0.91, got[0].Confidence)
	assert.Equal(t, domain.NewBBox(700, 850, 800, 870), got[0].BBox)
	assert.Equal(t, "INV-9", got[1].Answer)
	assert.Equal(t, 1.0, got[1].Confidence)
	assert.True(t, got[1].BBox.IsZero())
}

func TestClient_Answer_RateLimited(t *testing.T) {
	client, _ := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "15")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Answer(context.Background(), port.AnswerRequest{Page: page, Questions: []string{"q"}})

	var rlErr *answer.RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, 15*time.Second, rlErr.RetryAfter)
	assert.ErrorIs(t, err, domain.ErrExternalService)
}

func TestClient_Answer_ServerError(t *testing.T) {
	client, _ := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	})

	_, err := client.Answer(context.Background(), port.AnswerRequest{Page: page, Questions: []string{"q"}})

	assert.ErrorIs(t, err, domain.ErrExternalService)
	assert.Contains(t, err.Error(), "500")
}

func TestClient_Answer_CountMismatch(t *testing.T) {
	client, _ := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"answers":[{"answer":"a","confidence":0.5}]}`))
	})

	_, err := client.Answer(context.Background(), port.AnswerRequest{Page: page, Questions: []string{"q1", "q2"}})

	assert.ErrorIs(t, err, domain.ErrAnswerCountMismatch)
}

func TestClient_Answer_NoQuestions(t *testing.T) {
	client, storage := newClient(t, func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatal("no request expected")
	})

	got, err := client.Answer(context.Background(), port.AnswerRequest{Page: page})

	assert.NoError(t, err)
	assert.Nil(t, got)
	storage.AssertNotCalled(t, "Download", mock.Anything, mock.Anything)
}

func TestFactory_RegistersHTTPProvider(t *testing.T) {
	svc, err := answer.New(&config.AnswerProviderConfig{Provider: httpqa.ProviderName, Endpoint: "http://qa"}, answer.Deps{
		Storage: new(mocks.MockObjectStorage),
	})
	assert.NoError(t, err)
	assert.IsType(t, &httpqa.Client{}, svc)

	_, err = answer.New(&config.AnswerProviderConfig{Provider: httpqa.ProviderName}, answer.Deps{})
	assert.Error(t, err)
}
