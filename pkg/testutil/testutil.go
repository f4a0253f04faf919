// Package testutil provides testing utilities for metasync
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/metasync/pkg/retry"
)

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout that is
// cancelled when the test ends.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// FastRetry returns a retry policy with millisecond delays.
func FastRetry(attempts int) *retry.Policy {
	return &retry.Policy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// Campaign builds a Graph campaign record.
func Campaign(accountID, id string) map[string]interface{} {
	return map[string]interface{}{
		"account_id":   accountID,
		"account_name": "Account " + accountID,
		"id":           id,
		"name":         "Campaign " + id,
		"status":       "ACTIVE",
		"objective":    "OUTCOME_TRAFFIC",
		"created_time": "2024-12-01T10:00:00-0300",
		"updated_time": "2024-12-15T10:00:00-0300",
		"daily_budget": "5000",
	}
}

// AdSet builds a Graph ad set record.
func AdSet(accountID, id, campaignID string) map[string]interface{} {
	return map[string]interface{}{
		"account_id":        accountID,
		"id":                id,
		"name":              "Ad set " + id,
		"status":            "ACTIVE",
		"campaign_id":       campaignID,
		"created_time":      "2024-12-01T10:00:00-0300",
		"billing_event":     "IMPRESSIONS",
		"daily_budget":      "2500",
		"destination_type":  "WEBSITE",
		"optimization_goal": "LINK_CLICKS",
		"promoted_object": map[string]interface{}{
			"pixel_id":          "999",
			"custom_event_type": "PURCHASE",
		},
	}
}

// Ad builds a Graph ad record.
func Ad(accountID, id, adsetID, campaignID string) map[string]interface{} {
	return map[string]interface{}{
		"account_id":     accountID,
		"id":             id,
		"name":           "Ad " + id,
		"status":         "ACTIVE",
		"adset_id":       adsetID,
		"campaign_id":    campaignID,
		"created_time":   "2024-12-01T10:00:00-0300",
		"ad_active_time": "86400",
		"creative":       map[string]interface{}{"id": "cr-" + id},
	}
}

// AdInsight builds a daily ad-level insights record.
func AdInsight(accountID, adID, day string) map[string]interface{} {
	return map[string]interface{}{
		"date_start":        day,
		"date_stop":         day,
		"account_id":        accountID,
		"account_name":      "Account " + accountID,
		"ad_id":             adID,
		"ad_name":           "Ad " + adID,
		"objective":         "OUTCOME_TRAFFIC",
		"optimization_goal": "LINK_CLICKS",
		"impressions":       "1000",
		"reach":             "800",
		"spend":             "12.34",
		"actions": []interface{}{
			map[string]interface{}{"action_type": "link_click", "value": "25"},
			map[string]interface{}{"action_type": "offsite_conversion.fb_pixel_purchase", "value": "2"},
		},
		"video_p25_watched_actions": []interface{}{
			map[string]interface{}{"action_type": "video_view", "value": "40"},
		},
	}
}

// Records builds n records with build(i).
func Records(n int, build func(i int) map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, build(i))
	}
	return out
}

// ID formats a numeric test id with a prefix.
func ID(prefix string, i int) string {
	return fmt.Sprintf("%s%d", prefix, i)
}
