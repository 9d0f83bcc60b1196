package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kingrea/tally/internal/entity"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

const sampleResponse = `[
  {"token": "SUSV", "label": "B-EQUIPMENT", "bbox": [1, 2, 3, 4], "confidence": 0.99},
  {"token": "tank", "label": "B-MEASUREMENT"},
  {"token": "weight", "label": "I-MEASUREMENT"},
  {"token": "the", "label": "O"}
]`

func doc(name string) Document {
	return Document{Name: name, Content: []byte("the SUSV tank weight")}
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithHTTPClient(srv.Client())}, opts...)
	c, err := New(srv.URL+"/api/process_document", opts...)
	require.NoError(t, err)
	return c
}

func TestExtractNormalizesEntities(t *testing.T) {
	var gotName, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		file, header, err := r.FormFile(FileField)
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		gotName, gotBody = header.Filename, string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, sampleResponse)
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv).Extract(context.Background(), doc("narrative.txt"))
	require.NoError(t, err)

	assert.Equal(t, "narrative.txt", gotName)
	assert.Equal(t, "the SUSV tank weight", gotBody)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "narrative.txt", res.Document)
	require.Len(t, res.Entities, 4)
	assert.Equal(t, entity.Entity{Phrase: "SUSV", Type: entity.CategoryEquipment, Confidence: 0.99, BBox: []int{1, 2, 3, 4}}, res.Entities[0])
	assert.Equal(t, entity.CategoryMeasurement, res.Entities[2].Type)
	assert.Equal(t, entity.CategoryOutside, res.Entities[3].Type)
}

func TestExtractRejectsMissingDocumentWithoutRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Extract(context.Background(), Document{})
	assert.ErrorIs(t, err, ErrNoDocument)
	_, err = c.Extract(context.Background(), Document{Name: "empty.txt"})
	assert.ErrorIs(t, err, ErrNoDocument)
	assert.Zero(t, hits.Load())
}

func TestExtractStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error": "ML Model not available"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Extract(context.Background(), doc("a.txt"))
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
	assert.Equal(t, "ML Model not available", statusErr.Message)
	assert.False(t, c.Busy(), "busy flag must clear after a failure")
}

func TestExtractPlainTextErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Extract(context.Background(), doc("a.txt"))
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "exploded", statusErr.Message)
	assert.Contains(t, err.Error(), "500")
}

func TestExtractMalformedResponses(t *testing.T) {
	cases := map[string]string{
		"object":        `{"token": "x", "label": "O"}`,
		"missing label": `[{"token": "x", "label": "O"}, {"token": "y"}]`,
		"wrong type":    `[{"token": 5, "label": "O"}]`,
		"not json":      `<html>`,
		"null":          `null`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, body)
			}))
			defer srv.Close()

			res, err := newTestClient(t, srv).Extract(context.Background(), doc("a.txt"))
			assert.ErrorIs(t, err, ErrMalformedResponse)
			assert.ErrorIs(t, err, entity.ErrMalformedItem)
			assert.Empty(t, res.Entities)
		})
	}
}

func TestExtractEmptyArrayIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv).Extract(context.Background(), doc("a.txt"))
	require.NoError(t, err)
	assert.Empty(t, res.Entities)
}

func TestExtractUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url+"/api/process_document", WithTimeout(time.Second))
	require.NoError(t, err)
	_, err = c.Extract(context.Background(), doc("a.txt"))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestExtractTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newTestClient(t, srv, WithTimeout(50*time.Millisecond)).Extract(context.Background(), doc("a.txt"))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentDifferentDocumentIsBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			close(started)
		}
		<-release
		_, _ = io.WriteString(w, sampleResponse)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	var wg sync.WaitGroup
	results := make([]Result, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = c.Extract(context.Background(), doc("a.txt"))
	}()
	<-started
	assert.True(t, c.Busy())

	_, err := c.Extract(context.Background(), doc("b.txt"))
	assert.ErrorIs(t, err, ErrBusy)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = c.Extract(context.Background(), doc("a.txt"))
	}()
	// Give the second caller time to join the in-flight request.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), hits.Load(), "identical documents should share one request")
	assert.Len(t, results[1].Entities, 4)
	assert.False(t, c.Busy())
}

func TestCacheServesRepeatDocuments(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, sampleResponse)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithCache(time.Minute))
	first, err := c.Extract(context.Background(), doc("a.txt"))
	require.NoError(t, err)
	second, err := c.Extract(context.Background(), doc("a.txt"))
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load())
	assert.True(t, second.Cached)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Entities, second.Entities)

	second.Entities[0].BBox[0] = 99
	third, err := c.Extract(context.Background(), doc("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, 1, third.Entities[0].BBox[0], "cached entities must not alias caller slices")
}

func TestRateLimitCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithRateLimit(0.001, 1))
	_, err := c.Extract(context.Background(), doc("a.txt"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Extract(ctx, doc("b.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestNewRejectsBadEndpoint(t *testing.T) {
	_, err := New("ftp://example.com/upload")
	assert.Error(t, err)
	c, err := New("")
	require.NoError(t, err)
	assert.Equal(t, DefaultEndpoint, c.Endpoint())
}

func TestLoadDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "narrative.txt")
	require.NoError(t, os.WriteFile(path, []byte("text"), 0o644))

	d, err := LoadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "narrative.txt", d.Name)

	_, err = LoadDocument("")
	assert.ErrorIs(t, err, ErrNoDocument)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = LoadDocument(empty)
	assert.ErrorIs(t, err, ErrNoDocument)

	assert.NotEqual(t, doc("a").Sum(), doc("b").Sum())
	assert.Equal(t, doc("a").Sum(), doc("a").Sum())
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Code: 400}
	assert.Equal(t, fmt.Sprintf("extract: service returned 400 %s", http.StatusText(400)), err.Error())
	assert.False(t, errors.Is(err, ErrUnavailable))
}
