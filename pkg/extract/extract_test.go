package extract

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/metasync/pkg/metaads"
	"github.com/ajitpratap0/metasync/pkg/models"
	"github.com/ajitpratap0/metasync/pkg/schema"
	"github.com/ajitpratap0/metasync/pkg/syncerrors"
	"github.com/ajitpratap0/metasync/pkg/testutil"
)

type insightsCall struct {
	account       string
	level         string
	timeIncrement string
	window        models.DateRange
}

// fakeSource serves canned records per account and edge.
type fakeSource struct {
	mu       sync.Mutex
	records  map[string]map[string][]models.RawRecord
	failures map[string]error
	edges    []string
	insights []insightsCall
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		records:  make(map[string]map[string][]models.RawRecord),
		failures: make(map[string]error),
	}
}

func (f *fakeSource) set(account, edge string, records ...models.RawRecord) {
	if f.records[account] == nil {
		f.records[account] = make(map[string][]models.RawRecord)
	}
	f.records[account][edge] = records
}

func (f *fakeSource) Edge(ctx context.Context, accountID, edge string, fields []string) ([]models.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edges = append(f.edges, edge)
	if err := f.failures[accountID]; err != nil {
		return nil, err
	}
	return f.records[accountID][edge], nil
}

func (f *fakeSource) Insights(ctx context.Context, accountID, level, timeIncrement string, fields []string, window models.DateRange) ([]models.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insights = append(f.insights, insightsCall{accountID, level, timeIncrement, window})
	if err := f.failures[accountID]; err != nil {
		return nil, err
	}
	return f.records[accountID]["insights/"+level], nil
}

func testWindow(t *testing.T) models.DateRange {
	w, err := models.NewDateRange("2025-01-01", "2025-01-31")
	require.NoError(t, err)
	return w
}

func TestExtract_RegistryOrderAndWindow(t *testing.T) {
	src := newFakeSource()
	src.set("111", "campaigns", testutil.Campaign("111", "c1"))
	src.set("111", "ads", testutil.Ad("111", "a1", "s1", "c1"))
	src.set("111", "insights/ad", testutil.AdInsight("111", "a1", "2025-01-10"))

	e := New(src, WithLogger(testutil.TestLogger(t)))
	res, err := e.Extract(testutil.TestContext(t), "act_111",
		[]schema.LogicalTable{schema.InsightsAds, schema.Ads, schema.Campaigns}, testWindow(t))
	require.NoError(t, err)

	assert.Equal(t, []schema.LogicalTable{schema.Campaigns, schema.Ads, schema.InsightsAds}, res.Tables())
	assert.Equal(t, []string{"campaigns", "ads"}, src.edges)

	require.Len(t, src.insights, 1)
	assert.Equal(t, insightsCall{"111", "ad", "1", testWindow(t)}, src.insights[0])

	insights := res.Frame(schema.InsightsAds)
	require.Equal(t, 1, insights.Len())
	row := insights.Rows[0]
	assert.Equal(t, civil.Date{Year: 2025, Month: 1, Day: 10}, row["date"])
	assert.Equal(t, int64(25), row["action_link_click"])
	assert.Equal(t, int64(2), row["action_offsite_conversion_fb_pixel_purchase"])
	assert.Equal(t, int64(0), row["action_lead"])
	assert.Equal(t, int64(40), row["video_p25_watched_actions"])
	assert.Equal(t, 12.34, row["spend"])
	assert.NotContains(t, insights.Columns, "actions")
}

func TestExtract_SkipsUnknownTables(t *testing.T) {
	src := newFakeSource()
	src.set("111", "campaigns", testutil.Campaign("111", "c1"))

	e := New(src, WithLogger(testutil.TestLogger(t)))
	res, err := e.Extract(testutil.TestContext(t), "111",
		[]schema.LogicalTable{"campaigns", "nope"}, testWindow(t))
	require.NoError(t, err)
	assert.Equal(t, []schema.LogicalTable{schema.Campaigns}, res.Tables())
}

func TestExtract_EmptyEdgeIsEmptyFrame(t *testing.T) {
	src := newFakeSource()

	e := New(src, WithLogger(testutil.TestLogger(t)))
	res, err := e.Extract(testutil.TestContext(t), "111", []schema.LogicalTable{schema.AdSets}, testWindow(t))
	require.NoError(t, err)

	f := res.Frame(schema.AdSets)
	require.NotNil(t, f)
	assert.True(t, f.IsEmpty())
}

func TestExtract_ValidationFailureAbortsAccount(t *testing.T) {
	src := newFakeSource()
	bad := testutil.Campaign("111", "c1")
	bad["created_time"] = "not a time"
	src.set("111", "campaigns", bad)
	src.set("111", "ads", testutil.Ad("111", "a1", "s1", "c1"))

	e := New(src, WithLogger(testutil.TestLogger(t)))
	_, err := e.Extract(testutil.TestContext(t), "111",
		[]schema.LogicalTable{schema.Campaigns, schema.Ads}, testWindow(t))
	require.Error(t, err)

	assert.True(t, syncerrors.IsType(err, syncerrors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), "table=campaigns")
	assert.Contains(t, err.Error(), "account_id=111")
	assert.NotContains(t, src.edges, "ads")
}

func TestExtractAccounts_ConcatInAccountOrder(t *testing.T) {
	src := newFakeSource()
	src.set("111", "campaigns", testutil.Campaign("111", "c1"), testutil.Campaign("111", "c2"))
	src.set("222", "campaigns", testutil.Campaign("222", "c3"))
	src.set("333", "campaigns")

	e := New(src, WithLogger(testutil.TestLogger(t)), WithMaxConcurrency(2))
	res, err := e.ExtractAccounts(testutil.TestContext(t), []string{"111", "222", "333"},
		[]schema.LogicalTable{schema.Campaigns}, testWindow(t))
	require.NoError(t, err)

	f := res.Frame(schema.Campaigns)
	require.Equal(t, 3, f.Len())
	assert.Equal(t, []interface{}{"c1", "c2", "c3"}, f.Values("id"))
	assert.Equal(t, 3, res.Rows())
}

func TestExtractAccounts_OneFailureFailsBatch(t *testing.T) {
	src := newFakeSource()
	src.set("111", "campaigns", testutil.Campaign("111", "c1"))
	src.failures["222"] = syncerrors.New(syncerrors.ErrorTypeExtraction, "request to act_222/campaigns failed after 5 attempts")

	e := New(src, WithLogger(testutil.TestLogger(t)))
	res, err := e.ExtractAccounts(testutil.TestContext(t), []string{"111", "222"},
		[]schema.LogicalTable{schema.Campaigns}, testWindow(t))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, syncerrors.IsType(err, syncerrors.ErrorTypeExtraction))
	assert.Contains(t, err.Error(), "act_222/campaigns")
}

func TestExtractAccounts_RequiresAccounts(t *testing.T) {
	e := New(newFakeSource(), WithLogger(testutil.TestLogger(t)))
	_, err := e.ExtractAccounts(testutil.TestContext(t), nil, schema.DefaultTables(), testWindow(t))
	require.Error(t, err)
	assert.True(t, syncerrors.IsType(err, syncerrors.ErrorTypeConfig))
}

func TestExtract_AgainstGraphAPI(t *testing.T) {
	api := testutil.NewMockGraphAPI(t)
	api.SetRecords("act_111/campaigns", 2, testutil.Records(5, func(i int) map[string]interface{} {
		return testutil.Campaign("111", testutil.ID("c", i))
	}))
	api.SetPages("act_111/adsets", []map[string]interface{}{testutil.AdSet("111", "s1", "c0")})

	client, err := metaads.NewClient(api.Token, api.MetaConfig(), testutil.FastRetry(3),
		metaads.WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)

	e := New(client, WithLogger(testutil.TestLogger(t)))
	res, err := e.Extract(testutil.TestContext(t), "111",
		[]schema.LogicalTable{schema.Campaigns, schema.AdSets}, testWindow(t))
	require.NoError(t, err)

	assert.Equal(t, 5, res.Frame(schema.Campaigns).Len())
	adsets := res.Frame(schema.AdSets)
	require.Equal(t, 1, adsets.Len())
	assert.Equal(t, "999", adsets.Rows[0]["promoted_object_pixel_id"])
	assert.Equal(t, 2500.0, adsets.Rows[0]["daily_budget"])
	assert.Equal(t, "maximum", api.Queries("act_111/adsets")[0].Get("date_preset"))
}

func TestExtract_ErrorKeepsCause(t *testing.T) {
	src := newFakeSource()
	cause := errors.New("boom")
	src.failures["111"] = cause

	e := New(src, WithLogger(testutil.TestLogger(t)))
	_, err := e.Extract(testutil.TestContext(t), "111", []schema.LogicalTable{schema.Ads}, testWindow(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
}
