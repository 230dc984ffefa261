package vision

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"eventlens/internal/attestation/scoring"
	"eventlens/internal/platform/config"
	dErrors "eventlens/pkg/domain-errors"
	"eventlens/pkg/platform/circuit"
)

type ClientSuite struct {
	suite.Suite
	server  *httptest.Server
	calls   atomic.Int32
	handler func(w http.ResponseWriter, r *http.Request)
	client  *Client
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.calls.Store(0)
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		s.handler(w, r)
	}))
	s.client = New(config.VisionConfig{
		BaseURL:          s.server.URL,
		APIKey:           "test-key",
		Model:            "gemini-test",
		Timeout:          2 * time.Second,
		RetryWait:        time.Millisecond,
		BreakerThreshold: 2,
	})
}

func (s *ClientSuite) TearDownTest() {
	s.server.Close()
}

func reply(text string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]any{"text": text}}},
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (s *ClientSuite) request(refs int) Request {
	req := Request{Image: Image{Data: []byte("img"), MimeType: "image/jpeg"}, EventName: "DevFest", Location: "Hall A"}
	for i := 0; i < refs; i++ {
		req.References = append(req.References, Image{Data: []byte("ref"), MimeType: "image/png"})
	}
	return req
}

func (s *ClientSuite) TestSendsPromptImagesAndKey() {
	var got generateRequest
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/models/gemini-test:generateContent", r.URL.Path)
		s.Equal("test-key", r.Header.Get("x-goog-api-key"))
		body, _ := io.ReadAll(r.Body)
		s.Require().NoError(json.Unmarshal(body, &got))
		reply(`{"confidence": 91, "reason": "stage and crowd", "venue_match": true}`)(w, r)
	}

	a, err := s.client.Assess(s.T().Context(), s.request(5))
	s.Require().NoError(err)

	s.Equal(91, a.Confidence)
	s.Equal("stage and crowd", a.Reason)
	s.Equal(scoring.VenueMatch, a.Venue)

	s.Require().Len(got.Contents, 1)
	parts := got.Contents[0].Parts
	s.Len(parts, 1+1+maxReferenceImages, "prompt, photo and at most three references")
	s.Contains(parts[0].Text, `"DevFest"`)
	s.Contains(parts[0].Text, "venue_match")
	s.Equal(temperature, got.GenerationConfig.Temperature)
}

func (s *ClientSuite) TestVenueVerdictIgnoredWithoutReferences() {
	s.handler = reply(`{"confidence": 75, "reason": "ok", "venue_match": false}`)

	a, err := s.client.Assess(s.T().Context(), s.request(0))
	s.Require().NoError(err)
	s.Equal(scoring.VenueNotChecked, a.Venue)
}

func (s *ClientSuite) TestAcceptsFencedReply() {
	s.handler = reply("```json\n{\"confidence\": 64.6, \"reason\": \"blurry\"}\n```")

	a, err := s.client.Assess(s.T().Context(), s.request(0))
	s.Require().NoError(err)
	s.Equal(65, a.Confidence)
}

func (s *ClientSuite) TestRetriesOnceThenFailsClosed() {
	s.handler = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}

	_, err := s.client.Assess(s.T().Context(), s.request(0))
	s.True(dErrors.HasCode(err, dErrors.CodeVisionUnavailable))
	s.Equal(int32(2), s.calls.Load())
}

func (s *ClientSuite) TestRecoversOnRetry() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		if s.calls.Load() == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		reply(`{"confidence": 88, "reason": "fine"}`)(w, r)
	}

	a, err := s.client.Assess(s.T().Context(), s.request(0))
	s.Require().NoError(err)
	s.Equal(88, a.Confidence)
}

func (s *ClientSuite) TestMalformedRepliesAreUnavailable() {
	for name, text := range map[string]string{
		"prose only":       "I think it is real",
		"missing score":    `{"reason": "x"}`,
		"score over range": `{"confidence": 140, "reason": "x"}`,
		"negative score":   `{"confidence": -1, "reason": "x"}`,
	} {
		s.Run(name, func() {
			s.handler = reply(text)
			_, err := s.client.Assess(s.T().Context(), s.request(0))
			s.True(dErrors.HasCode(err, dErrors.CodeVisionUnavailable))
		})
	}
}

func (s *ClientSuite) TestBreakerShortCircuits() {
	s.handler = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}
	for i := 0; i < 2; i++ {
		_, err := s.client.Assess(s.T().Context(), s.request(0))
		s.Require().Error(err)
	}
	before := s.calls.Load()

	_, err := s.client.Assess(s.T().Context(), s.request(0))
	s.True(dErrors.HasCode(err, dErrors.CodeVisionUnavailable))
	s.Equal(before, s.calls.Load(), "open breaker must not reach the server")
}

func TestParseVerdictDefaultsReason(t *testing.T) {
	v, err := parseVerdict(`{"confidence": 50}`)
	require.NoError(t, err)
	assert.Equal(t, "no reason provided", v.Reason)
}

func TestBreakerOptionOverridesDefault(t *testing.T) {
	b := circuit.New("custom", circuit.WithFailureThreshold(1))
	c := New(config.VisionConfig{BaseURL: "http://127.0.0.1:1", Timeout: 50 * time.Millisecond, RetryWait: time.Millisecond}, WithBreaker(b))

	_, err := c.Assess(t.Context(), Request{Image: Image{Data: []byte("x")}})
	require.Error(t, err)
	assert.True(t, b.IsOpen())
}
