package proctor

// Unset is the sentinel for timestamps the vendor did not send.
const Unset int64 = -1

// Override is an instructor's manual correction, kept beside the vendor status.
type Override struct {
	Status       *Status `json:"overridestatus,omitempty"`
	Date         int64   `json:"overridedate,omitempty"`
	LMSUserID    int     `json:"overridelmsuserid,omitempty"`
	LMSFirstName string  `json:"overridelmsuserfirstname,omitempty"`
	LMSLastName  string  `json:"overridelmsuserlastname,omitempty"`
	Reason       string  `json:"overridereason,omitempty"`
}

// IsOverridden reports whether an override status is set.
func (o *Override) IsOverridden() bool {
	return o.Status != nil
}

// Owner is the parent of a Session: either a full *Participant or a
// MinimalOwner built from the LMS user record.
type Owner interface {
	OwnerUserID() int
	OwnerCourseID() int
	OwnerName() (first, last string)
	OwnerEmail() string
}

// MinimalOwner stands in for a participant when an endpoint returns sessions
// without their participant record.
type MinimalOwner struct {
	CourseID  int    `json:"courseid"`
	UserID    int    `json:"userid"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email"`
}

func (m *MinimalOwner) OwnerUserID() int                { return m.UserID }
func (m *MinimalOwner) OwnerCourseID() int              { return m.CourseID }
func (m *MinimalOwner) OwnerName() (first, last string) { return m.FirstName, m.LastName }
func (m *MinimalOwner) OwnerEmail() string              { return m.Email }

// Participant is one user's course-level proctoring record.
type Participant struct {
	ParticipantIdentifier int    `json:"participantidentifier"`
	CourseID              int    `json:"courseid"`
	Created               int64  `json:"created"`
	Modified              int64  `json:"modified"`
	Status                Status `json:"status"`
	Override
	Email            string     `json:"email"`
	FirstName        string     `json:"firstname,omitempty"`
	LastName         string     `json:"lastname,omitempty"`
	ParticipantPhoto string     `json:"participantphoto,omitempty"`
	ResubmitURL      string     `json:"resubmiturl,omitempty"`
	Sessions         []*Session `json:"sessions"`

	sessionIndex map[string]int
}

func newParticipant() *Participant {
	return &Participant{
		Created:  Unset,
		Modified: Unset,
		Status:   StatusInProgress,
		Sessions: []*Session{},
	}
}

func (p *Participant) OwnerUserID() int                { return p.ParticipantIdentifier }
func (p *Participant) OwnerCourseID() int              { return p.CourseID }
func (p *Participant) OwnerName() (first, last string) { return p.FirstName, p.LastName }
func (p *Participant) OwnerEmail() string              { return p.Email }

// DisplayStatus is the override when one is set, else the vendor status.
func (p *Participant) DisplayStatus() Status {
	if p.Override.Status != nil {
		return *p.Override.Status
	}
	return p.Status
}

// Session returns the session with the given id, or nil.
func (p *Participant) Session(id string) *Session {
	if i, ok := p.sessionIndex[id]; ok {
		return p.Sessions[i]
	}
	return nil
}

// LatestSession is the most recently modified session, or nil.
func (p *Participant) LatestSession() *Session {
	var latest *Session
	for _, s := range p.Sessions {
		if latest == nil || s.LastChanged() > latest.LastChanged() {
			latest = s
		}
	}
	return latest
}

func (p *Participant) attach(s *Session) {
	if p.sessionIndex == nil {
		p.sessionIndex = make(map[string]int)
	}
	if i, ok := p.sessionIndex[s.ID]; ok {
		p.Sessions[i] = s
		return
	}
	p.sessionIndex[s.ID] = len(p.Sessions)
	p.Sessions = append(p.Sessions, s)
}

// relink restores the session index and owner references after the
// participant was decoded from the cache.
func (p *Participant) relink() {
	if p == nil {
		return
	}
	if p.Sessions == nil {
		p.Sessions = []*Session{}
	}
	p.sessionIndex = make(map[string]int, len(p.Sessions))
	for i, s := range p.Sessions {
		s.owner = p
		p.sessionIndex[s.ID] = i
	}
}

// Session is one proctored attempt at a course activity.
type Session struct {
	ID         string `json:"id"`
	ActivityID int    `json:"activityid"`
	Start      int64  `json:"start"`
	End        int64  `json:"end"`
	Modified   int64  `json:"modified"`
	Status     Status `json:"status"`
	Override
	ClickIAmHereCount   int    `json:"clickiamherecount"`
	ExitFullscreenCount int    `json:"exitfullscreencount"`
	ParticipantPhoto    string `json:"participantphoto,omitempty"`
	ResubmitURL         string `json:"resubmiturl,omitempty"`

	owner Owner
}

func newSession(owner Owner) *Session {
	return &Session{
		Start:    Unset,
		End:      Unset,
		Modified: Unset,
		owner:    owner,
	}
}

// Owner returns the parent reference. It is never used to mutate the parent.
func (s *Session) Owner() Owner { return s.owner }

// Ended reports whether the vendor recorded an end time.
func (s *Session) Ended() bool { return s.End > 0 }

// LastChanged is the modification time, falling back to the start time.
func (s *Session) LastChanged() int64 {
	if s.Modified > 0 {
		return s.Modified
	}
	return s.Start
}

// DisplayStatus is the override when one is set, else the vendor status.
func (s *Session) DisplayStatus() Status {
	if s.Override.Status != nil {
		return *s.Override.Status
	}
	return s.Status
}
