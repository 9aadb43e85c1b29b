package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/models"
	"github.com/BTreeMap/DonorPipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestHygraph(t *testing.T, h http.HandlerFunc) *HygraphGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	g, err := NewHygraphGateway(srv.URL, "secret", srv.Client())
	require.NoError(t, err)
	g.baseDelay = time.Millisecond
	return g
}

func TestHygraph_LookupDonor(t *testing.T) {
	g := newTestHygraph(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "42", gjson.GetBytes(body, "variables.telegramId").String())
		assert.Contains(t, gjson.GetBytes(body, "query").String(), "donors(where: { telegramId: $telegramId })")
		io.WriteString(w, `{"data":{"donors":[{"id":"d1","name":"Jane"}]}}`)
	})

	ref, err := g.LookupDonorByUserID(context.Background(), "42")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, models.DonorRef{ID: "d1", Name: "Jane"}, *ref)
}

func TestHygraph_LookupDonorNotFound(t *testing.T) {
	g := newTestHygraph(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":{"donors":[]}}`)
	})
	ref, err := g.LookupDonorByUserID(context.Background(), "42")
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestHygraph_CreateDonorVariables(t *testing.T) {
	var got map[string]any
	g := newTestHygraph(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, strings.Contains(req.Query, "createDonor(data: $data)"))
		got = req.Variables
		io.WriteString(w, `{"data":{"createDonor":{"id":"d9","name":"Jane Doe"}}}`)
	})

	ref, err := g.CreateDonor(context.Background(), models.DonorRecord{
		UserID:           "42",
		Name:             "Jane Doe",
		PhoneNumber:      "9999999999",
		BloodGroup:       "A+",
		LastDonationDate: "2023-05-01",
		Location:         models.Location{Locality: "Kochi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "d9", ref.ID)

	data := got["data"].(map[string]any)
	assert.Equal(t, "42", data["telegramId"])
	assert.Equal(t, "A+", data["bloodGroup"])
	loc := data["location"].(map[string]any)["create"].(map[string]any)
	assert.Equal(t, map[string]any{"locality": "Kochi", "panchayat": "", "district": ""}, loc)
}

func TestHygraph_FindDonors(t *testing.T) {
	g := newTestHygraph(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "O+", gjson.GetBytes(body, "variables.bloodGroup").String())
		assert.Equal(t, "Kochi", gjson.GetBytes(body, "variables.location").String())
		io.WriteString(w, `{"data":{"donors":[
			{"name":"Asha","phoneNumber":"111","location":{"locality":"Kochi","panchayat":"North","district":"Ernakulam"}},
			{"name":"Binu","phoneNumber":"222","location":{"locality":"Kochi","panchayat":"","district":""}}
		]}}`)
	})

	matches, err := g.FindDonors(context.Background(), "O+", "Kochi")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, models.DonorMatch{
		Name:        "Asha",
		PhoneNumber: "111",
		Location:    models.Location{Locality: "Kochi", Panchayat: "North", District: "Ernakulam"},
	}, matches[0])
}

func TestHygraph_GraphQLErrorsAreGatewayErrors(t *testing.T) {
	g := newTestHygraph(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"errors":[{"message":"field location_contains not defined"}]}`)
	})
	_, err := g.FindDonors(context.Background(), "O+", "Kochi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGateway)
	assert.Contains(t, err.Error(), "location_contains")
}

func TestHygraph_QueriesRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	g := newTestHygraph(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"data":{"donors":[]}}`)
	})
	matches, err := g.FindDonors(context.Background(), "O+", "Kochi")
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHygraph_MutationsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	g := newTestHygraph(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := g.CreateDonor(context.Background(), models.DonorRecord{UserID: "1"})
	assert.ErrorIs(t, err, ErrGateway)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHygraph_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	g := newTestHygraph(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := g.LookupDonorByUserID(context.Background(), "1")
	assert.ErrorIs(t, err, ErrGateway)
	assert.Equal(t, int32(1), calls.Load())
}

type slowGateway struct {
	MockGateway
	delay time.Duration
}

func (s *slowGateway) FindDonors(ctx context.Context, bloodGroup, location string) ([]models.DonorMatch, error) {
	select {
	case <-time.After(s.delay):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestWithTimeout(t *testing.T) {
	gw := WithTimeout(&slowGateway{delay: time.Second}, 20*time.Millisecond)
	_, err := gw.FindDonors(context.Background(), "O+", "Kochi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, ErrGateway)
}

func TestWithTimeoutPassesThroughOtherErrors(t *testing.T) {
	mock := NewMockGateway()
	mock.CreateErr = errors.New("boom")
	gw := WithTimeout(mock, time.Second)
	_, err := gw.CreateDonor(context.Background(), models.DonorRecord{UserID: "1"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimeout))

	assert.Same(t, mock, WithTimeout(mock, 0))
}

func TestLocalGateway(t *testing.T) {
	gw, err := New(KindLocal, WithDonorRepo(store.NewInMemoryStore()))
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := gw.LookupDonorByUserID(ctx, "42")
	require.NoError(t, err)
	assert.Nil(t, ref)

	created, err := gw.CreateDonor(ctx, models.DonorRecord{
		UserID: "42", Name: "Jane", BloodGroup: "O+",
		Location: models.ParseLocation("Kochi, North, Ernakulam"),
	})
	require.NoError(t, err)

	ref, err = gw.LookupDonorByUserID(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, created.ID, ref.ID)

	first, err := gw.FindDonors(ctx, "O+", "Kochi")
	require.NoError(t, err)
	second, err := gw.FindDonors(ctx, "O+", "Kochi")
	require.NoError(t, err)
	assert.Len(t, first, 1)
	assert.Equal(t, first, second)
}

func TestNew_Errors(t *testing.T) {
	_, err := New("carrier-pigeon")
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = New(KindLocal)
	assert.Error(t, err)

	_, err = New(KindHygraph)
	assert.Error(t, err)

	_, err = New(KindSupabase, WithSupabase("https://example.supabase.co", ""))
	assert.Error(t, err)
}

func TestWrap(t *testing.T) {
	assert.Nil(t, wrap("op", nil))
	inner := errors.New("x")
	err := wrap("op", inner)
	assert.ErrorIs(t, err, ErrGateway)
	assert.ErrorIs(t, err, inner)
	assert.ErrorIs(t, wrap("outer", err), ErrGateway)
}

func newTestSupabase(t *testing.T, h http.HandlerFunc) *SupabaseGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	g, err := NewSupabaseGateway(srv.URL, "anon-key")
	require.NoError(t, err)
	return g
}

func TestSupabase_LookupDonor(t *testing.T) {
	g := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/donors", r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		q := r.URL.Query()
		assert.Equal(t, "id,name", q.Get("select"))
		assert.Equal(t, "1", q.Get("limit"))
		if q.Get("telegram_id") == "eq.42" {
			io.WriteString(w, `[{"id":"d1","name":"Jane"}]`)
			return
		}
		io.WriteString(w, `[]`)
	})

	ref, err := g.LookupDonorByUserID(context.Background(), "42")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, models.DonorRef{ID: "d1", Name: "Jane"}, *ref)

	ref, err = g.LookupDonorByUserID(context.Background(), "7")
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestSupabase_LookupDonorServerError(t *testing.T) {
	g := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"code":"XX000","message":"boom"}`)
	})

	_, err := g.LookupDonorByUserID(context.Background(), "42")
	assert.ErrorIs(t, err, ErrGateway)
}

func TestSupabase_CreateDonor(t *testing.T) {
	g := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/donors", r.URL.Path)
		assert.Contains(t, r.Header.Get("Prefer"), "return=representation")
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "42", gjson.GetBytes(body, "telegram_id").String())
		assert.Equal(t, "O+", gjson.GetBytes(body, "blood_group").String())
		assert.Equal(t, "Kochi", gjson.GetBytes(body, "district").String())
		assert.False(t, gjson.GetBytes(body, "id").Exists())
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `[{"id":"d9","name":"Jane"}]`)
	})

	ref, err := g.CreateDonor(context.Background(), models.DonorRecord{
		UserID:           "42",
		Name:             "Jane",
		PhoneNumber:      "+919876543210",
		BloodGroup:       "O+",
		LastDonationDate: "2024-01-01",
		Location:         models.Location{Locality: "Edappally", Panchayat: "Kalamassery", District: "Kochi"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.DonorRef{ID: "d9", Name: "Jane"}, ref)
}

func TestSupabase_CreateDonorEmptyResult(t *testing.T) {
	g := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `[]`)
	})

	_, err := g.CreateDonor(context.Background(), models.DonorRecord{UserID: "42", Name: "Jane"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGateway)
	assert.Contains(t, err.Error(), "insert returned no rows")
}

func TestSupabase_FindDonorsFiltersLocation(t *testing.T) {
	g := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "eq.O+", q.Get("blood_group"))
		assert.Equal(t, "name,phone_number,locality,panchayat,district", q.Get("select"))
		io.WriteString(w, `[
			{"name":"Jane","phone_number":"+911","locality":"Edappally","panchayat":"Kalamassery","district":"Ernakulam"},
			{"name":"Ravi","phone_number":"+912","locality":"Palayam","panchayat":"Vanchiyoor","district":"Thiruvananthapuram"},
			{"name":"Anu","phone_number":"+913","locality":"Aluva","panchayat":"Kalamassery","district":"Ernakulam"}
		]`)
	})
	ctx := context.Background()

	matches, err := g.FindDonors(ctx, "O+", "kalamassery")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "Jane", matches[0].Name)
	assert.Equal(t, "Anu", matches[1].Name)
	assert.Equal(t, "Ernakulam", matches[1].Location.District)

	matches, err = g.FindDonors(ctx, "O+", "Edappally, Kalamassery")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "+911", matches[0].PhoneNumber)

	matches, err = g.FindDonors(ctx, "O+", "Kozhikode")
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = g.FindDonors(ctx, "O+", "")
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestSupabase_ContextCancelReturnsEarly(t *testing.T) {
	release := make(chan struct{})
	g := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		io.WriteString(w, `[]`)
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := g.FindDonors(ctx, "O+", "Kochi")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrGateway)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	block := make(chan struct{})
	defer close(block)
	err := withContext(ctx, func() error {
		<-block
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	want := errors.New("x")
	assert.Equal(t, want, withContext(context.Background(), func() error { return want }))
}
