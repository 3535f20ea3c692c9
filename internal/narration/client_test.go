package narration_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/reel-service/internal/core"
	"github.com/book-expert/reel-service/internal/narration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = core.Credentials{Key: "key-1", Secret: "secret-1"}

type speakCapture struct {
	mu       sync.Mutex
	body     narration.SpeakRequest
	user     string
	password string
	accept   string
}

func newSpeakServer(t *testing.T, status int, body []byte) (*httptest.Server, *speakCapture) {
	t.Helper()

	capture := &speakCapture{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capture.mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&capture.body)
		capture.user, capture.password, _ = r.BasicAuth()
		capture.accept = r.Header.Get("Accept")
		capture.mu.Unlock()

		if r.URL.Path != "/speak" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)

	return server, capture
}

func TestSpeak_Success(t *testing.T) {
	t.Parallel()

	wav := makeWAV(16000, 1, 16, 3200, false)
	server, capture := newSpeakServer(t, http.StatusOK, wav)
	client := narration.NewHTTPClient(server.URL+"/", 5*time.Second)

	audio, err := client.Speak(context.Background(), narration.SpeakRequest{Speech: "hello there", Voice: "zwf"}, testCreds)
	require.NoError(t, err)
	assert.Equal(t, wav, audio)

	capture.mu.Lock()
	defer capture.mu.Unlock()

	assert.Equal(t, "hello there", capture.body.Speech)
	assert.Equal(t, "zwf", capture.body.Voice)
	assert.Equal(t, "key-1", capture.user)
	assert.Equal(t, "secret-1", capture.password)
	assert.Equal(t, "audio/wav", capture.accept)
}

func TestSpeak_OversizeAudioRejected(t *testing.T) {
	t.Parallel()

	wav := makeWAV(16000, 1, 16, 3200, false)
	server, _ := newSpeakServer(t, http.StatusOK, wav)

	client := narration.NewHTTPClient(server.URL, 5*time.Second)
	narration.SetMaxAudioBytes(client, int64(len(wav)-1))

	audio, err := client.Speak(context.Background(), narration.SpeakRequest{Speech: "hello"}, testCreds)
	require.ErrorIs(t, err, core.ErrSynthesisRejected)
	require.ErrorIs(t, err, narration.ErrAudioTooLarge)
	assert.Nil(t, audio)

	narration.SetMaxAudioBytes(client, int64(len(wav)))

	audio, err = client.Speak(context.Background(), narration.SpeakRequest{Speech: "hello"}, testCreds)
	require.NoError(t, err)
	assert.Equal(t, wav, audio)
}

func TestSpeak_Classification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"detail":"bad key"}`, wantErr: core.ErrSynthesisUnavailable},
		{name: "forbidden", status: http.StatusForbidden, wantErr: core.ErrSynthesisUnavailable},
		{name: "timeout", status: http.StatusRequestTimeout, wantErr: core.ErrSynthesisUnavailable},
		{name: "throttled", status: http.StatusTooManyRequests, wantErr: core.ErrSynthesisUnavailable},
		{name: "server error", status: http.StatusBadGateway, body: "upstream", wantErr: core.ErrSynthesisUnavailable},
		{name: "bad request", status: http.StatusBadRequest, body: `{"detail":"too long","error_code":"E_LEN"}`, wantErr: core.ErrSynthesisRejected},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, wantErr: core.ErrSynthesisRejected},
		{name: "empty audio", status: http.StatusOK, wantErr: core.ErrSynthesisUnavailable},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server, _ := newSpeakServer(t, testCase.status, []byte(testCase.body))
			client := narration.NewHTTPClient(server.URL, 5*time.Second)

			_, err := client.Speak(context.Background(), narration.SpeakRequest{Speech: "hi"}, testCreds)
			require.ErrorIs(t, err, testCase.wantErr)
		})
	}
}

func TestSpeak_StructuredErrorBody(t *testing.T) {
	t.Parallel()

	server, _ := newSpeakServer(t, http.StatusBadRequest, []byte(`{"detail":"too long","error_code":"E_LEN"}`))
	client := narration.NewHTTPClient(server.URL, 5*time.Second)

	_, err := client.Speak(context.Background(), narration.SpeakRequest{Speech: "hi"}, testCreds)

	var statusErr *narration.StatusError

	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, "too long", statusErr.Detail)
	assert.Equal(t, "E_LEN", statusErr.Code)
}

func TestSpeak_TransportFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	client := narration.NewHTTPClient(baseURL, time.Second)

	_, err := client.Speak(context.Background(), narration.SpeakRequest{Speech: "hi"}, testCreds)
	require.ErrorIs(t, err, core.ErrSynthesisUnavailable)
}

func TestSpeak_InputValidation(t *testing.T) {
	t.Parallel()

	client := narration.NewHTTPClient("http://127.0.0.1:1", time.Second)

	_, err := client.Speak(context.Background(), narration.SpeakRequest{Speech: "  "}, testCreds)
	require.ErrorIs(t, err, core.ErrSynthesisRejected)
	require.ErrorIs(t, err, narration.ErrSpeechEmpty)

	_, err = client.Speak(context.Background(), narration.SpeakRequest{Speech: "hi"}, core.Credentials{Key: "k"})
	require.ErrorIs(t, err, core.ErrSynthesisUnavailable)
	require.ErrorIs(t, err, narration.ErrMissingCredentials)
}
