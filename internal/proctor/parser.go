package proctor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctoring/internal/metrics"
)

// Raw is one loosely typed vendor record.
type Raw = map[string]any

// Parser turns vendor records into Participants and Sessions. A record that
// is incomplete or does not match LMS data yields nil without an error;
// errors are reserved for failing directory lookups.
type Parser struct {
	dir Directory
	log zerolog.Logger
}

func NewParser(dir Directory, log zerolog.Logger) *Parser {
	return &Parser{dir: dir, log: log}
}

// ParseParticipant normalizes a participant record and every session it
// embeds.
func (p *Parser) ParseParticipant(ctx context.Context, raw Raw) (*Participant, error) {
	f := normalizeKeys(raw)

	userID, okUser := cleanID(f["participantidentifier"])
	courseID, okCourse := cleanID(f["courseid"])
	if !okUser || !okCourse {
		return p.rejectParticipant("missing_identity", userID, courseID)
	}
	email, ok := cleanEmail(f["email"])
	if !ok {
		return p.rejectParticipant("missing_email", userID, courseID)
	}

	enrolled, err := p.enrolled(ctx, courseID, userID)
	if err != nil {
		return nil, err
	}
	if !enrolled {
		return p.rejectParticipant("not_enrolled", userID, courseID)
	}

	part := newParticipant()
	part.ParticipantIdentifier = userID
	part.CourseID = courseID
	part.Email = email

	if v, present := f["status"]; present && v != nil {
		status, err := cleanStatus(v)
		if err != nil {
			p.log.Warn().Err(err).Int("user_id", userID).Int("course_id", courseID).Msg("Participant has unknown status")
			return p.rejectParticipant("unknown_status", userID, courseID)
		}
		part.Status = status
	}
	if ts, ok := cleanTimestamp(f["created"]); ok {
		part.Created = ts
	}
	if ts, ok := cleanTimestamp(f["modified"]); ok {
		part.Modified = ts
	}
	if s, ok := cleanText(f["firstname"]); ok {
		part.FirstName = s
	}
	if s, ok := cleanText(f["lastname"]); ok {
		part.LastName = s
	}
	if v, present := f["participantphoto"]; present {
		part.ParticipantPhoto = cleanPhoto(v)
	}
	if part.Status == StatusInvalidID {
		if u, ok := cleanURL(f["resubmiturl"]); ok {
			part.ResubmitURL = u
		}
	}
	p.applyOverride(f, &part.Override)

	if list, ok := f["sessions"].([]any); ok {
		for _, item := range list {
			rawSession, ok := item.(map[string]any)
			if !ok {
				continue
			}
			s, err := p.ParseSession(ctx, rawSession, part)
			if err != nil {
				return nil, err
			}
			if s != nil {
				part.attach(s)
			}
		}
	}

	// An open latest session is what is happening now, so it wins over the
	// overall status.
	if latest := part.LatestSession(); latest != nil && !latest.Ended() {
		part.Status = latest.Status
	}

	return part, nil
}

// ParseSession normalizes a session record owned by owner.
func (p *Parser) ParseSession(ctx context.Context, raw Raw, owner Owner) (*Session, error) {
	if owner == nil {
		return p.rejectSession("no_owner", "")
	}
	f := normalizeKeys(raw)

	id, ok := cleanGUID(f["id"])
	if !ok {
		return p.rejectSession("missing_id", "")
	}
	status, err := cleanStatus(f["status"])
	if err != nil {
		p.log.Debug().Err(err).Str("session_id", id).Msg("Session status not recognised")
		return p.rejectSession("unknown_status", id)
	}
	activityID, ok := cleanID(f["activityid"])
	if !ok {
		return p.rejectSession("missing_activity", id)
	}
	if v, present := f["participantidentifier"]; present {
		if uid, ok := cleanID(v); ok && uid != owner.OwnerUserID() {
			return p.rejectSession("owner_mismatch", id)
		}
	}

	courseID, err := p.dir.ModuleCourse(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("resolve activity %d: %w", activityID, err)
	}
	if courseID == 0 || courseID != owner.OwnerCourseID() {
		return p.rejectSession("course_mismatch", id)
	}

	s := newSession(owner)
	s.ID = id
	s.ActivityID = activityID
	s.Status = status

	if ts, ok := cleanTimestamp(f["start"]); ok {
		s.Start = ts
	}
	if ts, ok := cleanTimestamp(f["end"]); ok {
		s.End = ts
	}
	if ts, ok := cleanTimestamp(f["modified"]); ok {
		s.Modified = ts
	}
	if n, ok := cleanCount(f["clickiamherecount"]); ok {
		s.ClickIAmHereCount = n
	}
	if n, ok := cleanCount(f["exitfullscreencount"]); ok {
		s.ExitFullscreenCount = n
	}
	if v, present := f["participantphoto"]; present {
		s.ParticipantPhoto = cleanPhoto(v)
	}
	if u, ok := cleanURL(f["resubmiturl"]); ok {
		s.ResubmitURL = u
	}
	p.applyOverride(f, &s.Override)

	return s, nil
}

func (p *Parser) applyOverride(f map[string]any, o *Override) {
	if v, present := f["overridestatus"]; present && v != nil && v != "" {
		status, err := cleanStatus(v)
		if err == nil {
			o.Status = &status
		}
	}
	if ts, ok := cleanTimestamp(f["overridedate"]); ok {
		o.Date = ts
	}
	if id, ok := cleanID(f["overridelmsuserid"]); ok {
		o.LMSUserID = id
	}
	if s, ok := cleanText(f["overridelmsuserfirstname"]); ok {
		o.LMSFirstName = s
	}
	if s, ok := cleanText(f["overridelmsuserlastname"]); ok {
		o.LMSLastName = s
	}
	if s, ok := cleanText(f["overridereason"]); ok {
		o.Reason = s
	}
}

// enrolled checks that the user and course exist and that the user holds an
// enrolment, active or not.
func (p *Parser) enrolled(ctx context.Context, courseID, userID int) (bool, error) {
	user, err := p.dir.User(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("lookup user %d: %w", userID, err)
	}
	if user == nil || user.Deleted {
		return false, nil
	}
	exists, err := p.dir.CourseExists(ctx, courseID)
	if err != nil {
		return false, fmt.Errorf("lookup course %d: %w", courseID, err)
	}
	if !exists {
		return false, nil
	}
	ok, err := p.dir.IsEnrolled(ctx, courseID, userID, false)
	if err != nil {
		return false, fmt.Errorf("check enrolment of user %d in course %d: %w", userID, courseID, err)
	}
	return ok, nil
}

func (p *Parser) rejectParticipant(reason string, userID, courseID int) (*Participant, error) {
	metrics.RecordsRejected.WithLabelValues("participant", reason).Inc()
	p.log.Debug().Str("reason", reason).Int("user_id", userID).Int("course_id", courseID).Msg("Participant record rejected")
	return nil, nil
}

func (p *Parser) rejectSession(reason, id string) (*Session, error) {
	metrics.RecordsRejected.WithLabelValues("session", reason).Inc()
	p.log.Debug().Str("reason", reason).Str("session_id", id).Msg("Session record rejected")
	return nil, nil
}
