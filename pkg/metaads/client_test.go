package metaads

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/metasync/pkg/models"
	"github.com/ajitpratap0/metasync/pkg/retry"
	"github.com/ajitpratap0/metasync/pkg/syncerrors"
	"github.com/ajitpratap0/metasync/pkg/testutil"
)

func newTestClient(t *testing.T, api *testutil.MockGraphAPI, attempts int) *Client {
	t.Helper()
	c, err := NewClient(api.Token, api.MetaConfig(), testutil.FastRetry(attempts), WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresToken(t *testing.T) {
	api := testutil.NewMockGraphAPI(t)
	_, err := NewClient("  ", api.MetaConfig(), nil)
	require.Error(t, err)
	assert.True(t, syncerrors.IsType(err, syncerrors.ErrorTypeConfig))
}

func TestFetch_PaginationCompleteAndOrdered(t *testing.T) {
	api := testutil.NewMockGraphAPI(t)
	records := testutil.Records(250, func(i int) map[string]interface{} {
		return testutil.Campaign("111", testutil.ID("c", i))
	})
	api.SetRecords("act_111/campaigns", 100, records)
	c := newTestClient(t, api, 3)

	got, err := c.Fetch(testutil.TestContext(t), "act_111/campaigns", []string{"id", "name"}, nil)
	require.NoError(t, err)

	require.Len(t, got, 250)
	for i, r := range got {
		assert.Equal(t, testutil.ID("c", i), r["id"])
	}
	assert.Equal(t, 3, api.Requests("act_111/campaigns"))

	first := api.Queries("act_111/campaigns")[0]
	assert.Equal(t, "id,name", first.Get("fields"))
	assert.Equal(t, "100", first.Get("limit"))
	assert.Equal(t, api.Token, first.Get("access_token"))
}

func TestFetch_SinglePageNoPaging(t *testing.T) {
	api := testutil.NewMockGraphAPI(t)
	api.SetPages("act_111/ads", []map[string]interface{}{testutil.Ad("111", "a1", "s1", "c1")})
	c := newTestClient(t, api, 3)

	got, err := c.Fetch(testutil.TestContext(t), "/act_111/ads/", nil, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFetch_EmptyEdge(t *testing.T) {
	api := testutil.NewMockGraphAPI(t)
	api.SetRecords("act_111/adcreatives", 100, nil)
	c := newTestClient(t, api, 3)

	got, err := c.Fetch(testutil.TestContext(t), "act_111/adcreatives", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetch_RetriesTransientFailures(t *testing.T) {
	api := testutil.NewMockGraphAPI(t)
	api.SetPages("act_111/campaigns", []map[string]interface{}{testutil.Campaign("111", "c1")})
	api.FailNext("act_111/campaigns", 2)
	c := newTestClient(t, api, 5)

	got, err := c.Fetch(testutil.TestContext(t), "act_111/campaigns", nil, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 3, api.Requests("act_111/campaigns"))
}

func TestFetch_RetryCeiling(t *testing.T) {
	api := testutil.NewMockGraphAPI(t)
	api.AlwaysFail("act_111/insights")
	c := newTestClient(t, api, 5)

	_, err := c.Fetch(testutil.TestContext(t), "act_111/insights", nil, nil)
	require.Error(t, err)

	assert.Equal(t, 5, api.Requests("act_111/insights"))
	assert.True(t, syncerrors.IsType(err, syncerrors.ErrorTypeExtraction))
	assert.Contains(t, err.Error(), "act_111/insights")
	assert.Contains(t, err.Error(), "An unexpected error has occurred.")
	assert.NotContains(t, err.Error(), api.Token)
}

func TestFetch_EmptyPageRetriedThenRecovered(t *testing.T) {
	api := testutil.NewMockGraphAPI(t)
	api.SetPages("act_111/campaigns",
		[]map[string]interface{}{testutil.Campaign("111", "c1")},
		[]map[string]interface{}{testutil.Campaign("111", "c2")},
	)
	api.EmptyFirstPage("act_111/campaigns", 2)
	c := newTestClient(t, api, 3)

	got, err := c.Fetch(testutil.TestContext(t), "act_111/campaigns", nil, nil)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0]["id"])
	// two empty replies, the recovered first page, the second page
	assert.Equal(t, 4, api.Requests("act_111/campaigns"))
}

func TestFetch_EmptyPageAcceptedAsEnd(t *testing.T) {
	api := testutil.NewMockGraphAPI(t)
	api.SetPages("act_111/campaigns",
		[]map[string]interface{}{testutil.Campaign("111", "c1")},
		[]map[string]interface{}{testutil.Campaign("111", "c2")},
	)
	api.EmptyFirstPage("act_111/campaigns", 10)

	cfg := api.MetaConfig()
	cfg.EmptyPageRetries = 3
	c, err := NewClient(api.Token, cfg, testutil.FastRetry(3), WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)

	got, err := c.Fetch(testutil.TestContext(t), "act_111/campaigns", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 4, api.Requests("act_111/campaigns"))
}

func TestFetch_InterPageDelay(t *testing.T) {
	api := testutil.NewMockGraphAPI(t)
	api.SetRecords("act_111/campaigns", 1, testutil.Records(3, func(i int) map[string]interface{} {
		return testutil.Campaign("111", testutil.ID("c", i))
	}))

	cfg := api.MetaConfig()
	cfg.InterPageDelay = 50 * time.Millisecond
	c, err := NewClient(api.Token, cfg, testutil.FastRetry(1))
	require.NoError(t, err)

	start := time.Now()
	got, err := c.Fetch(testutil.TestContext(t), "act_111/campaigns", nil, nil)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestFetch_ContextCancelled(t *testing.T) {
	api := testutil.NewMockGraphAPI(t)
	api.AlwaysFail("act_111/campaigns")

	slow := &retry.Policy{MaxAttempts: 10, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}
	c, err := NewClient(api.Token, api.MetaConfig(), slow)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.Fetch(ctx, "act_111/campaigns", nil, nil)
	require.Error(t, err)
	assert.True(t, syncerrors.IsType(err, syncerrors.ErrorTypeTimeout))
}

func TestFetch_BreakerOpensAfterThreshold(t *testing.T) {
	api := testutil.NewMockGraphAPI(t)
	api.AlwaysFail("act_111/campaigns")

	cfg := api.MetaConfig()
	cfg.BreakerThreshold = 2
	cfg.BreakerTimeout = time.Minute
	c, err := NewClient(api.Token, cfg, testutil.FastRetry(5))
	require.NoError(t, err)

	_, err = c.Fetch(testutil.TestContext(t), "act_111/campaigns", nil, nil)
	require.Error(t, err)
	// the breaker rejects attempts three to five without reaching the server
	assert.Equal(t, 2, api.Requests("act_111/campaigns"))
	assert.True(t, syncerrors.IsType(err, syncerrors.ErrorTypeExtraction))
}

func TestValidate(t *testing.T) {
	api := testutil.NewMockGraphAPI(t)
	c := newTestClient(t, api, 3)

	require.NoError(t, c.Validate(testutil.TestContext(t)))
	id, name := c.User()
	assert.Equal(t, api.UserID, id)
	assert.Equal(t, api.UserName, name)
}

func TestValidate_BadToken(t *testing.T) {
	api := testutil.NewMockGraphAPI(t)
	c, err := NewClient("wrong", api.MetaConfig(), testutil.FastRetry(3))
	require.NoError(t, err)

	err = c.Validate(testutil.TestContext(t))
	require.Error(t, err)
	assert.True(t, syncerrors.IsType(err, syncerrors.ErrorTypeAuthentication))
	assert.Contains(t, err.Error(), "Invalid OAuth access token")
	assert.Equal(t, 1, api.Requests("me"))
}

func TestAdAccounts(t *testing.T) {
	api := testutil.NewMockGraphAPI(t)
	api.SetPages("42/adaccounts",
		[]map[string]interface{}{{"id": "act_111", "account_id": "111", "name": "One"}},
		[]map[string]interface{}{{"id": "act_222", "name": "Two"}},
	)
	c := newTestClient(t, api, 3)

	accounts, err := c.AdAccounts(testutil.TestContext(t))
	require.NoError(t, err)

	assert.Equal(t, []Account{
		{ID: "act_111", AccountID: "111", Name: "One"},
		{ID: "act_222", AccountID: "222", Name: "Two"},
	}, accounts)
}

func TestInsights_Params(t *testing.T) {
	api := testutil.NewMockGraphAPI(t)
	api.SetPages("act_111/insights", []map[string]interface{}{testutil.AdInsight("111", "a1", "2025-01-10")})
	c := newTestClient(t, api, 3)

	window, err := models.NewDateRange("2025-01-01", "2025-01-31")
	require.NoError(t, err)

	got, err := c.Insights(testutil.TestContext(t), "act_111", "ad", "1", []string{"ad_id"}, window)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	q := api.Queries("act_111/insights")[0]
	assert.Equal(t, "ad", q.Get("level"))
	assert.Equal(t, "1", q.Get("time_increment"))
	assert.Equal(t, `{"since":"2025-01-01","until":"2025-01-31"}`, q.Get("time_range"))
}

func TestEdge_UsesMaximumPreset(t *testing.T) {
	api := testutil.NewMockGraphAPI(t)
	api.SetPages("act_111/adsets", []map[string]interface{}{testutil.AdSet("111", "s1", "c1")})
	c := newTestClient(t, api, 3)

	_, err := c.Edge(testutil.TestContext(t), "111", "adsets", []string{"id"})
	require.NoError(t, err)
	assert.Equal(t, "maximum", api.Queries("act_111/adsets")[0].Get("date_preset"))
}

func TestAccountPath(t *testing.T) {
	assert.Equal(t, "act_111", AccountPath("111"))
	assert.Equal(t, "act_111", AccountPath(" act_111 "))
	assert.Equal(t, "111", NormalizeAccountID("act_111"))
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "200", statusLabel(nil))
	assert.Equal(t, "503", statusLabel(syncerrors.Wrap(&statusError{StatusCode: http.StatusServiceUnavailable}, syncerrors.ErrorTypeConnection, "x")))
	assert.Equal(t, "insights", endpointLabel("act_1/insights"))
}
