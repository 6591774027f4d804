package proctor

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/stemsi/exstem-proctoring/internal/metrics"
)

// noMoreToken is the vendor's end-of-list cursor.
const noMoreToken = "null"

type page struct {
	items []Raw
	next  string
}

// fetchAll collects every item of a list endpoint, following NextToken.
// The first request is depth 0. Up to MaxRecursion follow-up requests are
// allowed; needing one more is ErrRecursionLimit.
func (c *Client) fetchAll(ctx context.Context, endpoint Endpoint, creds Credentials, params Params) ([]Raw, error) {
	def, ok := endpointDefs[endpoint]
	if !ok || def.itemsKey == "" {
		return nil, invalid("endpoint", fmt.Sprintf("%s is not a list endpoint", endpoint))
	}
	limit := params.intValue("limit")
	query := params.clone()

	var (
		items []Raw
		sent  string
	)
	for depth := 0; ; depth++ {
		if depth > c.cfg.MaxRecursion {
			return nil, fmt.Errorf("%w: %s needed more than %d follow-up requests", ErrRecursionLimit, endpoint, c.cfg.MaxRecursion)
		}
		if sent != "" {
			query["nexttoken"] = sent
		}

		resp, err := c.transport.GetSigned(ctx, endpoint, creds, query, nil)
		if err != nil {
			return nil, err
		}
		metrics.PagesFetched.WithLabelValues(string(endpoint)).Inc()
		if resp.Empty() {
			break
		}

		pg, err := decodePage(resp.Body, def.itemsKey)
		if err != nil {
			return nil, c.transport.malformed(ctx, creds.AppID, resp, err)
		}
		if sent != "" && pg.next == sent {
			c.pageLog.Warn().Str("endpoint", string(endpoint)).Int("depth", depth).Msg("Vendor echoed the page token, stopping")
			break
		}

		c.pageLog.Debug().Str("endpoint", string(endpoint)).Int("depth", depth).Int("items", len(pg.items)).Bool("more", pg.next != "").Msg("Page fetched")

		items = append(items, pg.items...)
		if limit > 0 && len(items) >= limit {
			items = items[:limit]
			break
		}
		if pg.next == "" {
			break
		}
		sent = pg.next
	}

	if items == nil {
		items = []Raw{}
	}
	return items, nil
}

// decodePage reads a list envelope. A missing, null, empty or "null" token
// all come back as "".
func decodePage(body []byte, itemsKey string) (page, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return page{}, fmt.Errorf("decode page: %w", err)
	}
	f := normalizeKeys(obj)

	var pg page
	switch list := f[itemsKey].(type) {
	case []any:
		pg.items = make([]Raw, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				pg.items = append(pg.items, m)
			}
		}
	case nil:
	default:
		return page{}, fmt.Errorf("decode page: %q is %T, not a list", itemsKey, list)
	}

	switch tok := f["nexttoken"].(type) {
	case string:
		if tok != noMoreToken {
			pg.next = tok
		}
	case json.Number:
		pg.next = tok.String()
	}
	return pg, nil
}
