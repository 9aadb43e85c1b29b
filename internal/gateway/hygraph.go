package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/models"
	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Hygraph transport defaults.
const (
	DefaultHygraphRetries   = 3
	DefaultHygraphBaseDelay = 100 * time.Millisecond
	maxHygraphResponseBytes = 4 << 20
)

// graphqlOperation is a parsed GraphQL document. Only queries are retried;
// a mutation may have been applied even when its response was lost.
type graphqlOperation struct {
	name      string
	source    string
	retryable bool
}

func mustParseOperation(name, src string) graphqlOperation {
	doc, err := parser.ParseQuery(&ast.Source{Name: name, Input: src})
	if err != nil {
		panic(fmt.Sprintf("gateway: invalid GraphQL document %s: %v", name, err))
	}
	if len(doc.Operations) != 1 {
		panic(fmt.Sprintf("gateway: GraphQL document %s must define exactly one operation", name))
	}
	return graphqlOperation{
		name:      name,
		source:    src,
		retryable: doc.Operations[0].Operation == ast.Query,
	}
}

var (
	lookupDonorOp = mustParseOperation("lookupDonorByUserId", `
query($telegramId: String!) {
  donors(where: { telegramId: $telegramId }) {
    id
    name
  }
}`)

	createDonorOp = mustParseOperation("createDonor", `
mutation($data: DonorCreateInput!) {
  createDonor(data: $data) {
    id
    name
  }
}`)

	findDonorsOp = mustParseOperation("findDonors", `
query($bloodGroup: String!, $location: String!) {
  donors(where: { bloodGroup: $bloodGroup, location_contains: $location }) {
    name
    phoneNumber
    location {
      locality
      panchayat
      district
    }
  }
}`)
)

// HygraphGateway talks to a Hygraph (GraphCMS) content API over GraphQL.
type HygraphGateway struct {
	endpoint   string
	token      string
	client     *http.Client
	maxRetries uint64
	baseDelay  time.Duration
}

// NewHygraphGateway creates a gateway for the given content API endpoint.
// token is sent as a bearer token when non-empty. A nil client uses http.DefaultClient.
func NewHygraphGateway(endpoint, token string, client *http.Client) (*HygraphGateway, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("hygraph endpoint is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HygraphGateway{
		endpoint:   endpoint,
		token:      token,
		client:     client,
		maxRetries: DefaultHygraphRetries,
		baseDelay:  DefaultHygraphBaseDelay,
	}, nil
}

func (g *HygraphGateway) LookupDonorByUserID(ctx context.Context, userID models.UserID) (*models.DonorRef, error) {
	data, err := g.execute(ctx, lookupDonorOp, map[string]any{"telegramId": userID.String()})
	if err != nil {
		return nil, err
	}
	donors := data.Get("donors").Array()
	if len(donors) == 0 {
		return nil, nil
	}
	return &models.DonorRef{
		ID:   donors[0].Get("id").String(),
		Name: donors[0].Get("name").String(),
	}, nil
}

func (g *HygraphGateway) CreateDonor(ctx context.Context, rec models.DonorRecord) (models.DonorRef, error) {
	vars := map[string]any{
		"data": map[string]any{
			"telegramId":       rec.UserID.String(),
			"name":             rec.Name,
			"phoneNumber":      rec.PhoneNumber,
			"bloodGroup":       rec.BloodGroup,
			"lastDonationDate": rec.LastDonationDate,
			"location": map[string]any{
				"create": rec.Location,
			},
		},
	}
	data, err := g.execute(ctx, createDonorOp, vars)
	if err != nil {
		return models.DonorRef{}, err
	}
	created := data.Get("createDonor")
	if !created.Exists() {
		return models.DonorRef{}, wrap(createDonorOp.name, fmt.Errorf("response has no createDonor field"))
	}
	return models.DonorRef{ID: created.Get("id").String(), Name: created.Get("name").String()}, nil
}

func (g *HygraphGateway) FindDonors(ctx context.Context, bloodGroup, location string) ([]models.DonorMatch, error) {
	data, err := g.execute(ctx, findDonorsOp, map[string]any{"bloodGroup": bloodGroup, "location": location})
	if err != nil {
		return nil, err
	}
	var matches []models.DonorMatch
	data.Get("donors").ForEach(func(_, d gjson.Result) bool {
		matches = append(matches, models.DonorMatch{
			Name:        d.Get("name").String(),
			PhoneNumber: d.Get("phoneNumber").String(),
			Location: models.Location{
				Locality:  d.Get("location.locality").String(),
				Panchayat: d.Get("location.panchayat").String(),
				District:  d.Get("location.district").String(),
			},
		})
		return true
	})
	return matches, nil
}

// execute posts op and returns the "data" member of the response.
func (g *HygraphGateway) execute(ctx context.Context, op graphqlOperation, vars map[string]any) (gjson.Result, error) {
	payload, err := json.Marshal(map[string]any{"query": op.source, "variables": vars})
	if err != nil {
		return gjson.Result{}, wrap(op.name, err)
	}

	var data gjson.Result
	attempt := func(ctx context.Context) error {
		var err error
		data, err = g.post(ctx, payload)
		return err
	}

	if op.retryable {
		backoff := retry.WithMaxRetries(g.maxRetries, retry.NewExponential(g.baseDelay))
		err = retry.Do(ctx, backoff, attempt)
	} else {
		err = attempt(ctx)
	}
	if err != nil {
		slog.Error("HygraphGateway: request failed", "operation", op.name, "error", err)
		return gjson.Result{}, wrap(op.name, err)
	}
	slog.Debug("HygraphGateway: request succeeded", "operation", op.name)
	return data, nil
}

// post performs one HTTP round trip. Transport failures, 429 and 5xx are retryable.
func (g *HygraphGateway) post(ctx context.Context, payload []byte) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return gjson.Result{}, err
		}
		return gjson.Result{}, retry.RetryableError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHygraphResponseBytes))
	if err != nil {
		return gjson.Result{}, retry.RetryableError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return gjson.Result{}, retry.RetryableError(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("response is not valid JSON")
	}

	if errs := gjson.GetBytes(body, "errors").Array(); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Get("message").String())
		}
		return gjson.Result{}, fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
	}

	data := gjson.GetBytes(body, "data")
	if !data.IsObject() {
		return gjson.Result{}, fmt.Errorf("response has no data")
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Gateway = (*HygraphGateway)(nil)
