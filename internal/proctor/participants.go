package proctor

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/stemsi/exstem-proctoring/internal/cache"
)

// participantSet is the session-cached copy of a course's participants.
type participantSet struct {
	Participants map[int]*Participant `json:"participants"`
	// Watermark is the highest modified time seen, sent as lastmodified on
	// the next sync.
	Watermark   int64 `json:"watermark"`
	RefreshedAt int64 `json:"refreshed_at"`
}

func participantKey(appID string, courseID, userID int) string {
	return cache.Key("participant", appID, courseID, userID)
}

func checkCourseUser(courseID, userID int) error {
	if courseID <= 0 {
		return invalid("courseid", "must be a positive integer")
	}
	if userID <= 0 {
		return invalid("participantidentifier", "must be a positive integer")
	}
	return nil
}

// GetParticipant returns the user's participant record for the course, or
// nil when the vendor has none or the record does not match LMS data.
// instanceID identifies the calling block instance to the vendor.
func (c *Client) GetParticipant(ctx context.Context, creds Credentials, courseID, userID, instanceID int) (*Participant, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if err := checkCourseUser(courseID, userID); err != nil {
		return nil, err
	}
	if instanceID < 0 {
		return nil, invalid("instanceid", "must not be negative")
	}

	ctx, store := c.requestScope(ctx)
	key := participantKey(creds.AppID, courseID, userID)
	p, err := cache.Load(ctx, store, cache.ScopeRequest, key, c.cfg.RequestCacheTTL, func(ctx context.Context) (*Participant, error) {
		var extra http.Header
		if instanceID > 0 {
			extra = http.Header{}
			extra.Set(headerInstanceID, strconv.Itoa(instanceID))
		}
		resp, err := c.transport.GetSigned(ctx, EndpointParticipant, creds, Params{
			"participantidentifier": userID,
			"courseid":              courseID,
		}, extra)
		if err != nil {
			return nil, err
		}
		return c.parseParticipantResponse(ctx, creds.AppID, resp)
	})
	if err != nil {
		return nil, err
	}
	p.relink()
	return p, nil
}

func (c *Client) parseParticipantResponse(ctx context.Context, appID string, resp *Response) (*Participant, error) {
	if resp.Empty() {
		return nil, nil
	}
	raw, err := decodeObject(resp.Body)
	if err != nil {
		return nil, c.transport.malformed(ctx, appID, resp, fmt.Errorf("decode participant: %w", err))
	}
	return c.parser.ParseParticipant(ctx, raw)
}

// GetParticipants returns every valid participant of the course keyed by
// user id. The set is kept in the session scope and refreshed with
// lastmodified syncs, at most once per ParticipantsRefreshInterval.
func (c *Client) GetParticipants(ctx context.Context, creds Credentials, courseID int) (map[int]*Participant, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if courseID <= 0 {
		return nil, invalid("courseid", "must be a positive integer")
	}

	ctx, store := c.requestScope(ctx)
	key := cache.Key("participants", creds.AppID, courseID)
	set, err := cache.Load(ctx, store, cache.ScopeRequest, key, c.cfg.RequestCacheTTL, func(ctx context.Context) (map[int]*Participant, error) {
		return c.syncParticipants(ctx, creds, courseID)
	})
	if err != nil {
		return nil, err
	}
	if set == nil {
		set = map[int]*Participant{}
	}
	for _, p := range set {
		p.relink()
	}
	return set, nil
}

func (c *Client) syncParticipants(ctx context.Context, creds Credentials, courseID int) (map[int]*Participant, error) {
	store := c.sessionStore(ctx)
	key := cache.Key("participant_set", creds.AppID, courseID)
	now := c.now()

	var set participantSet
	found, err := cache.GetJSON(ctx, store, cache.ScopeSession, key, &set)
	if err != nil {
		c.log.Warn().Err(err).Int("course_id", courseID).Msg("Session cache unreadable, doing a full sync")
		found = false
	}
	if found && c.cfg.ParticipantsRefreshInterval > 0 && now.Unix()-set.RefreshedAt < int64(c.cfg.ParticipantsRefreshInterval.Seconds()) {
		return set.Participants, nil
	}

	full := !found || set.Watermark <= 0
	if full || set.Participants == nil {
		set = participantSet{Participants: map[int]*Participant{}}
	}

	params := Params{"courseid": courseID}
	if !full {
		params["lastmodified"] = set.Watermark
	}
	raws, err := c.fetchAll(ctx, EndpointCourseParticipants, creds, params)
	if err != nil {
		return nil, err
	}

	parsed := 0
	for _, raw := range raws {
		p, err := c.parser.ParseParticipant(ctx, raw)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		set.Participants[p.ParticipantIdentifier] = p
		parsed++
	}

	if full && parsed == 0 {
		if err := store.Delete(ctx, key); err != nil {
			c.log.Warn().Err(err).Int("course_id", courseID).Msg("Failed to drop empty participant set")
		}
		return map[int]*Participant{}, nil
	}

	for _, p := range set.Participants {
		if p.Modified > set.Watermark {
			set.Watermark = p.Modified
		}
	}
	set.RefreshedAt = now.Unix()
	if err := cache.SetJSON(ctx, store, key, set, c.cfg.SessionCacheTTL); err != nil {
		return nil, err
	}

	c.log.Debug().Int("course_id", courseID).Bool("full", full).Int("fetched", parsed).Int("total", len(set.Participants)).Msg("Participants synced")
	return set.Participants, nil
}
