package overpass

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrastat/soil-pipeline/internal/config"
	"github.com/terrastat/soil-pipeline/internal/resilience"
)

func testClient(serverURL string, maxAttempts int) *Client {
	return NewClient(
		config.OverpassConfig{
			BaseURL:           serverURL,
			UserAgent:         "soil-pipeline-test/1.0",
			TimeoutSecs:       5,
			MaxAttempts:       maxAttempts,
			RequestsPerMinute: 6000,
		},
		WithPolicy(resilience.Policy{
			MaxAttempts:      maxAttempts,
			RateLimitBackoff: resilience.LinearBackoff(time.Millisecond),
			TransientBackoff: resilience.ExponentialBackoff(time.Millisecond, 10*time.Millisecond),
		}),
	)
}

const oneRelationBody = `{
	"elements": [
		{"type": "relation", "id": 52411, "tags": {"ISO3166-1": "BE", "name": "België / Belgique / Belgien", "name:en": "Belgium"}}
	]
}`

func TestFetchBoundaries_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		query := r.Form.Get("data")
		assert.Contains(t, query, `relation["admin_level"="2"]["ISO3166-1"="BE"];`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(oneRelationBody))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3)
	territories, err := c.FetchBoundaries(context.Background(), []string{"BE"})
	require.NoError(t, err)
	require.Len(t, territories, 1)
	assert.Equal(t, "BE", territories[0].Code)
	assert.Equal(t, "België / Belgique / Belgien", territories[0].Name)
	assert.Equal(t, int64(52411), territories[0].RelationID)
	assert.NotNil(t, territories[0].Boundary)
}

func TestFetchBoundaries_RetriesAfter429(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(oneRelationBody))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3)
	territories, err := c.FetchBoundaries(context.Background(), []string{"BE"})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, territories, 1)
	assert.Equal(t, "BE", territories[0].Code)
}

func TestFetchBoundaries_ExhaustsRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3)
	_, err := c.FetchBoundaries(context.Background(), []string{"BE"})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestFetchBoundaries_NonTransientStatus_NoRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("parse error"))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3)
	_, err := c.FetchBoundaries(context.Background(), []string{"BE"})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "4xx other than 429 must abort without retry")
}

func TestFetchBoundaries_MalformedBody_NoRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3)
	_, err := c.FetchBoundaries(context.Background(), []string{"BE"})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "malformed body must abort without retry")
}

func TestFetchBoundaries_DeduplicatesByCode(t *testing.T) {
	body := `{
		"elements": [
			{"type": "relation", "id": 1, "tags": {"ISO3166-1": "DE", "name": "Deutschland"}},
			{"type": "relation", "id": 2, "tags": {"ISO3166-1": "DE", "name": "Germany (duplicate)"}},
			{"type": "way", "id": 3},
			{"type": "relation", "id": 4, "tags": {"name": "no code"}}
		]
	}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3)
	territories, err := c.FetchBoundaries(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, territories, 1)
	assert.Equal(t, "Deutschland", territories[0].Name, "first occurrence wins")
	assert.Equal(t, int64(1), territories[0].RelationID)
}

func TestFetchBoundaries_DropsUnmaterializable(t *testing.T) {
	// XX has no reference shape, so the territory is dropped, not fatal.
	body := `{
		"elements": [
			{"type": "relation", "id": 1, "tags": {"ISO3166-1": "XX", "name": "Atlantis"}},
			{"type": "relation", "id": 2, "tags": {"ISO3166-1": "NL", "name": "Nederland"}}
		]
	}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3)
	territories, err := c.FetchBoundaries(context.Background(), []string{"XX", "NL"})
	require.NoError(t, err)
	require.Len(t, territories, 1)
	assert.Equal(t, "NL", territories[0].Code)
}

func TestBuildQuery(t *testing.T) {
	q := BuildQuery([]string{"DE", "FR"})
	assert.True(t, strings.HasPrefix(q, "[out:json][timeout:300];"))
	assert.Contains(t, q, `relation["admin_level"="2"]["ISO3166-1"="DE"];`)
	assert.Contains(t, q, `relation["admin_level"="2"]["ISO3166-1"="FR"];`)
	assert.True(t, strings.HasSuffix(q, "out skel qt;"))
}
