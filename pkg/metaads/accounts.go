package metaads

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	jsonpool "github.com/ajitpratap0/metasync/pkg/json"
	"github.com/ajitpratap0/metasync/pkg/models"
	"github.com/ajitpratap0/metasync/pkg/syncerrors"
)

// Account is an ad account visible to the token's user.
type Account struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
}

// NormalizeAccountID trims whitespace and a leading "act_" prefix.
func NormalizeAccountID(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), "act_")
}

// AccountPath returns the Graph node path of an ad account.
func AccountPath(id string) string {
	return "act_" + NormalizeAccountID(id)
}

// Validate checks the token with a /me request and records the user it
// belongs to.
func (c *Client) Validate(ctx context.Context) error {
	q := url.Values{}
	q.Set("fields", "id,name")
	q.Set("access_token", c.token)

	var me struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.get(ctx, "me", c.graphURL+"/me?"+q.Encode(), &me); err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeAuthentication, "access token validation failed")
	}
	if me.ID == "" {
		return syncerrors.New(syncerrors.ErrorTypeAuthentication, "access token validation returned no user id")
	}

	c.userID, c.userName = me.ID, me.Name
	c.logger.Debug("access token validated", zap.String("user_id", me.ID), zap.String("user_name", me.Name))
	return nil
}

// User returns the id and name recorded by Validate.
func (c *Client) User() (id, name string) {
	return c.userID, c.userName
}

// AdAccounts lists the ad accounts of the token's user, validating the
// token first if needed.
func (c *Client) AdAccounts(ctx context.Context) ([]Account, error) {
	if c.userID == "" {
		if err := c.Validate(ctx); err != nil {
			return nil, err
		}
	}

	records, err := c.Fetch(ctx, c.userID+"/adaccounts", []string{"name", "account_id"}, nil)
	if err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(records))
	for _, r := range records {
		a := Account{
			ID:        stringValue(r["id"]),
			AccountID: stringValue(r["account_id"]),
			Name:      stringValue(r["name"]),
		}
		if a.AccountID == "" {
			a.AccountID = NormalizeAccountID(a.ID)
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// Edge fetches a dimension edge (campaigns, adsets, ads, adcreatives) of an
// account over its full history.
func (c *Client) Edge(ctx context.Context, accountID, edge string, fields []string) ([]models.RawRecord, error) {
	params := url.Values{}
	params.Set("date_preset", "maximum")
	return c.Fetch(ctx, AccountPath(accountID)+"/"+edge, fields, params)
}

// Insights fetches the insights edge of an account at level for window,
// split by timeIncrement ("1" for daily, "monthly", ...).
func (c *Client) Insights(ctx context.Context, accountID, level, timeIncrement string, fields []string, window models.DateRange) ([]models.RawRecord, error) {
	timeRange, err := jsonpool.Marshal(map[string]string{
		"since": window.Start.String(),
		"until": window.End.String(),
	})
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeInternal, "failed to encode time range")
	}

	params := url.Values{}
	params.Set("level", level)
	params.Set("time_range", string(timeRange))
	if timeIncrement != "" {
		params.Set("time_increment", timeIncrement)
	}
	return c.Fetch(ctx, AccountPath(accountID)+"/insights", fields, params)
}

func stringValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case jsonpool.Number:
		return x.String()
	default:
		return ""
	}
}
