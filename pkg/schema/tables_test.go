package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTables_RegistryOrder(t *testing.T) {
	var names []LogicalTable
	for _, spec := range Tables() {
		names = append(names, spec.Table)
	}

	assert.Equal(t, []LogicalTable{
		Campaigns, AdSets, Ads, AdCreatives, InsightsAds,
		MonthlyInsightsAccounts, MonthlyInsightsAds, MonthlyInsightsCampaigns,
	}, names)
}

func TestTables_SpecsAreConsistent(t *testing.T) {
	for _, spec := range Tables() {
		t.Run(string(spec.Table), func(t *testing.T) {
			require.NotNil(t, spec.Schema)
			assert.Equal(t, string(spec.Table), spec.Schema.Name)
			assert.NotEmpty(t, spec.Fields)

			_, hasAccount := spec.Schema.Column("account_id")
			assert.True(t, hasAccount, "every table is scoped by account_id")

			if spec.IsInsight() {
				assert.NotEmpty(t, spec.Level)
				assert.NotEmpty(t, spec.TimeIncrement)
				col, ok := spec.Schema.Column(spec.DateColumn)
				require.True(t, ok)
				assert.Equal(t, TypeDate, col.Type)
			} else {
				assert.Empty(t, spec.DateColumn)
			}

			seen := map[string]bool{}
			for _, c := range spec.Schema.Columns {
				assert.False(t, seen[c.Name], "duplicate column %s", c.Name)
				seen[c.Name] = true
			}
		})
	}
}

func TestSelect(t *testing.T) {
	specs, unknown := Select([]LogicalTable{InsightsAds, "bogus", Campaigns, Campaigns})

	require.Len(t, specs, 2)
	assert.Equal(t, Campaigns, specs[0].Table)
	assert.Equal(t, InsightsAds, specs[1].Table)
	assert.Equal(t, []LogicalTable{"bogus"}, unknown)
}

func TestInsightsAds_DateColumn(t *testing.T) {
	spec, ok := Lookup(InsightsAds)
	require.True(t, ok)
	assert.Equal(t, "date", spec.DateColumn)
	assert.Equal(t, "date", spec.Normalize.Rename["date_start"])

	monthly, ok := Lookup(MonthlyInsightsCampaigns)
	require.True(t, ok)
	assert.Equal(t, "date_start", monthly.DateColumn)
	assert.Equal(t, "monthly", monthly.TimeIncrement)
}

func TestDefaultTables(t *testing.T) {
	assert.Equal(t, []LogicalTable{Campaigns, AdSets, Ads, InsightsAds}, DefaultTables())
}
