package proctor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/stemsi/exstem-proctoring/internal/cache"
	"github.com/stemsi/exstem-proctoring/internal/metrics"
)

// GetParticipantsBulk fetches many participants of one course concurrently.
// All requests share one signature, since it only covers the endpoint URI.
// A 4xx answer for one user skips that user; any other failure aborts the
// whole batch. Results are also stored in the request scope so a later
// GetParticipant for the same user is free.
func (c *Client) GetParticipantsBulk(ctx context.Context, creds Credentials, courseID int, userIDs []int, instanceID int) (map[int]*Participant, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if courseID <= 0 {
		return nil, invalid("courseid", "must be a positive integer")
	}
	ids, err := uniqueUserIDs(userIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[int]*Participant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	ctx, store := c.requestScope(ctx)
	uri := c.transport.endpointURL(string(EndpointParticipant))
	header, err := c.transport.signedHeader(creds, uri, c.now())
	if err != nil {
		return nil, err
	}
	if instanceID > 0 {
		header.Set(headerInstanceID, strconv.Itoa(instanceID))
	}

	limiter := rate.NewLimiter(rate.Limit(c.cfg.BulkRatePerSecond), c.cfg.BulkConcurrency)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.BulkConcurrency)
	for _, userID := range ids {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			params := Params{"participantidentifier": userID, "courseid": courseID}
			if err := ValidateEndpointParams(EndpointParticipant, params); err != nil {
				return err
			}
			_, rawQuery := resolvePath(EndpointParticipant, params)

			resp, err := c.transport.do(gctx, string(EndpointParticipant), creds.AppID, uri+"?"+rawQuery, header)
			if err != nil {
				var te *TransportError
				if errors.As(err, &te) && te.StatusCode >= 400 && te.StatusCode < 500 {
					metrics.BulkItemsSkipped.Inc()
					c.log.Warn().Int("user_id", userID).Int("status_code", te.StatusCode).Msg("Skipping participant in bulk fetch")
					return nil
				}
				return err
			}

			p, err := c.parseParticipantResponse(gctx, creds.AppID, resp)
			if err != nil {
				return err
			}
			if err := cache.SetJSON(gctx, store, participantKey(creds.AppID, courseID, userID), p, c.cfg.RequestCacheTTL); err != nil {
				return err
			}
			if p == nil {
				return nil
			}
			mu.Lock()
			out[userID] = p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("bulk participants for course %d: %w", courseID, err)
	}

	c.log.Debug().Int("course_id", courseID).Int("requested", len(ids)).Int("found", len(out)).Msg("Bulk participants fetched")
	return out, nil
}

func uniqueUserIDs(userIDs []int) ([]int, error) {
	seen := make(map[int]struct{}, len(userIDs))
	ids := make([]int, 0, len(userIDs))
	for _, id := range userIDs {
		if id <= 0 {
			return nil, invalid("participantidentifier", fmt.Sprintf("%d is not a positive integer", id))
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}
