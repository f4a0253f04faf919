package schema

import (
	"github.com/ajitpratap0/metasync/pkg/normalize"
)

// LogicalTable names a destination table that can be extracted.
type LogicalTable string

const (
	Campaigns                LogicalTable = "campaigns"
	AdSets                   LogicalTable = "adsets"
	Ads                      LogicalTable = "ads"
	AdCreatives              LogicalTable = "adcreatives"
	InsightsAds              LogicalTable = "insights_ads"
	MonthlyInsightsAccounts  LogicalTable = "monthly_insights_accounts"
	MonthlyInsightsAds       LogicalTable = "monthly_insights_ads"
	MonthlyInsightsCampaigns LogicalTable = "monthly_insights_campaigns"
)

// Graph API edges under an ad account.
const (
	EdgeCampaigns   = "campaigns"
	EdgeAdSets      = "adsets"
	EdgeAds         = "ads"
	EdgeAdCreatives = "adcreatives"
	EdgeInsights    = "insights"
)

// TableSpec binds a logical table to how it is fetched, normalized and
// validated.
type TableSpec struct {
	Table  LogicalTable
	Edge   string
	Fields []string
	// Level and TimeIncrement apply to the insights edge only
	Level         string
	TimeIncrement string
	// DateColumn is the destination column windowed deletes filter on
	DateColumn string
	Normalize  normalize.Options
	Schema     *TableSchema
}

// IsInsight reports whether the table is fetched from the insights edge and
// therefore takes a date window.
func (t TableSpec) IsInsight() bool {
	return t.Edge == EdgeInsights
}

var actionPivot = map[string]string{"actions": "action_"}

var videoFirstValue = []string{
	"video_p25_watched_actions",
	"video_p50_watched_actions",
	"video_p75_watched_actions",
	"video_p95_watched_actions",
	"video_p100_watched_actions",
}

var registry = []TableSpec{
	{
		Table: Campaigns,
		Edge:  EdgeCampaigns,
		Fields: []string{
			"account_id", "account_name", "id", "name", "status", "created_time", "updated_time",
			"stop_time", "daily_budget", "objective", "source_campaign_id", "boosted_object_id",
		},
		Schema: &TableSchema{
			Name: string(Campaigns),
			Columns: []Column{
				str("account_id"),
				str("id"),
				str("name"),
				str("status"),
				timestamp("created_time"),
				timestamp("updated_time"),
				str("objective"),
				nullableStr("source_campaign_id"),
				nullableStr("boosted_object_id"),
			},
		},
	},
	{
		Table: AdSets,
		Edge:  EdgeAdSets,
		Fields: []string{
			"account_id", "account_name", "created_time", "end_time", "id", "name", "status",
			"campaign_id", "billing_event", "daily_budget", "destination_type", "optimization_goal",
			"promoted_object", "source_adset_id",
		},
		Schema: &TableSchema{
			Name: string(AdSets),
			Columns: []Column{
				str("account_id"),
				timestamp("created_time"),
				{Name: "end_time", Type: TypeTimestamp, Nullable: true},
				str("id"),
				str("name"),
				str("status"),
				str("campaign_id"),
				str("billing_event"),
				{Name: "daily_budget", Type: TypeFloat, Nullable: true},
				nullableStr("destination_type"),
				str("optimization_goal"),
				nullableStr("source_adset_id"),
				nullableStr("promoted_object_pixel_id"),
				nullableStr("promoted_object_custom_event_type"),
			},
		},
	},
	{
		Table: Ads,
		Edge:  EdgeAds,
		Fields: []string{
			"account_id", "account_name", "created_time", "id", "adset_id", "campaign_id", "status",
			"name", "ad_active_time", "creative", "source_ad_id", "preview_shareable_link",
		},
		Schema: &TableSchema{
			Name: string(Ads),
			Columns: []Column{
				str("account_id"),
				timestamp("created_time"),
				str("id"),
				str("adset_id"),
				str("campaign_id"),
				str("status"),
				str("name"),
				counter("ad_active_time"),
				nullableStr("source_ad_id"),
				nullableStr("preview_shareable_link"),
				str("creative_id"),
			},
		},
	},
	{
		Table: AdCreatives,
		Edge:  EdgeAdCreatives,
		Fields: []string{
			"account_id", "id", "name", "status", "title", "body", "object_type",
			"call_to_action_type", "effective_object_story_id", "image_url", "thumbnail_url",
		},
		Schema: &TableSchema{
			Name: string(AdCreatives),
			Columns: []Column{
				str("account_id"),
				str("id"),
				nullableStr("name"),
				nullableStr("status"),
				nullableStr("title"),
				nullableStr("body"),
				nullableStr("object_type"),
				nullableStr("call_to_action_type"),
				nullableStr("effective_object_story_id"),
				nullableStr("image_url"),
				nullableStr("thumbnail_url"),
			},
		},
	},
	{
		Table: InsightsAds,
		Edge:  EdgeInsights,
		Fields: append([]string{
			"account_id", "account_name", "ad_id", "ad_name", "objective", "optimization_goal",
			"impressions", "reach", "actions", "spend",
		}, videoFirstValue...),
		Level:         "ad",
		TimeIncrement: "1",
		DateColumn:    "date",
		Normalize: normalize.Options{
			FirstValue: videoFirstValue,
			Pivot:      actionPivot,
			Rename:     map[string]string{"date_start": "date"},
		},
		Schema: &TableSchema{
			Name: string(InsightsAds),
			Columns: append([]Column{
				date("date"),
				str("account_id"),
				str("account_name"),
				str("ad_id"),
				str("ad_name"),
				nullableStr("objective"),
				nullableStr("optimization_goal"),
				counter("impressions"),
				counter("reach"),
				amount("spend"),
			}, counters(
				"action_page_engagement",
				"action_post_engagement",
				"action_video_view",
				"action_post_reaction",
				"action_like",
				"action_link_click",
				"action_landing_page_view",
				"action_lead",
				"action_onsite_conversion_messaging_conversation_started_7d",
				"action_offsite_conversion_fb_pixel_initiate_checkout",
				"action_offsite_conversion_fb_pixel_purchase",
				"video_p25_watched_actions",
				"video_p50_watched_actions",
				"video_p75_watched_actions",
				"video_p95_watched_actions",
				"video_p100_watched_actions",
			)...),
		},
	},
	monthlyInsights(MonthlyInsightsAccounts, "account", nil),
	monthlyInsights(MonthlyInsightsAds, "ad", []string{
		"campaign_id", "campaign_name", "adset_id", "adset_name", "ad_id", "ad_name",
	}),
	monthlyInsights(MonthlyInsightsCampaigns, "campaign", []string{
		"campaign_id", "campaign_name", "objective",
	}),
}

func counters(names ...string) []Column {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = counter(n)
	}
	return cols
}

// monthlyInsights builds a calendar-month insights table at level. The
// window boundaries of each month are kept as date_start and date_stop.
func monthlyInsights(table LogicalTable, level string, dims []string) TableSpec {
	fields := append([]string{"account_id", "account_name"}, dims...)
	fields = append(fields, "impressions", "reach", "frequency", "spend", "actions")

	cols := []Column{
		date("date_start"),
		date("date_stop"),
		str("account_id"),
		str("account_name"),
	}
	for _, d := range dims {
		cols = append(cols, nullableStr(d))
	}
	cols = append(cols,
		counter("impressions"),
		counter("reach"),
		Column{Name: "frequency", Type: TypeFloat, Nullable: true},
		amount("spend"),
	)
	cols = append(cols, counters(
		"action_link_click",
		"action_landing_page_view",
		"action_lead",
		"action_post_engagement",
		"action_video_view",
		"action_offsite_conversion_fb_pixel_purchase",
	)...)

	return TableSpec{
		Table:         table,
		Edge:          EdgeInsights,
		Fields:        fields,
		Level:         level,
		TimeIncrement: "monthly",
		DateColumn:    "date_start",
		Normalize:     normalize.Options{Pivot: actionPivot},
		Schema:        &TableSchema{Name: string(table), Columns: cols},
	}
}

// Tables returns every supported table spec in registry order.
func Tables() []TableSpec {
	out := make([]TableSpec, len(registry))
	copy(out, registry)
	return out
}

// Lookup returns the spec for a table name.
func Lookup(name LogicalTable) (TableSpec, bool) {
	for _, t := range registry {
		if t.Table == name {
			return t, true
		}
	}
	return TableSpec{}, false
}

// Select returns the specs for the requested names in registry order,
// along with any names that are not supported. Duplicates collapse.
func Select(names []LogicalTable) (specs []TableSpec, unknown []LogicalTable) {
	want := make(map[LogicalTable]bool, len(names))
	for _, n := range names {
		if _, ok := Lookup(n); !ok {
			unknown = append(unknown, n)
			continue
		}
		want[n] = true
	}
	for _, t := range registry {
		if want[t.Table] {
			specs = append(specs, t)
		}
	}
	return specs, unknown
}

// ParseTables converts raw names into logical tables.
func ParseTables(names []string) []LogicalTable {
	out := make([]LogicalTable, len(names))
	for i, n := range names {
		out[i] = LogicalTable(n)
	}
	return out
}

// DefaultTables are extracted when a job names none.
func DefaultTables() []LogicalTable {
	return []LogicalTable{Campaigns, AdSets, Ads, InsightsAds}
}
