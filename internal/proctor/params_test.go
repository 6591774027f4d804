package proctor

import (
	"net/url"
	"testing"
)

func TestValidateEndpointParams(t *testing.T) {
	tests := []struct {
		name     string
		endpoint Endpoint
		params   Params
		wantErr  bool
	}{
		{"participant ok", EndpointParticipant, Params{"participantidentifier": 42, "courseid": 9}, false},
		{"participant missing course", EndpointParticipant, Params{"participantidentifier": 42}, true},
		{"participant extra param", EndpointParticipant, Params{"participantidentifier": 42, "courseid": 9, "limit": 1}, true},
		{"participant string id", EndpointParticipant, Params{"participantidentifier": "42", "courseid": 9}, true},
		{"participants with status", EndpointCourseParticipants, Params{"courseid": 9, "status": "Valid"}, false},
		{"participants bad status", EndpointCourseParticipants, Params{"courseid": 9, "status": "Done"}, true},
		{"participants bool backwardsearch", EndpointCourseParticipants, Params{"courseid": 9, "backwardsearch": true}, false},
		{"participants string backwardsearch", EndpointCourseParticipants, Params{"courseid": 9, "backwardsearch": "true"}, true},
		{"sessions requires activity", EndpointCourseSessions, Params{"courseid": 9}, true},
		{"activity sessions courseid optional", EndpointActivitySessions, Params{"activityid": 100}, false},
		{"activity sessions rejects lastmodified", EndpointActivitySessions, Params{"activityid": 100, "lastmodified": 1}, true},
		{"endsession guid", EndpointEndSession, Params{"appid": testAppID, "participantidentifier": 42, "courseid": 9, "activityid": 100}, false},
		{"endsession bad guid", EndpointEndSession, Params{"appid": "x", "participantidentifier": 42, "courseid": 9, "activityid": 100}, true},
		{"unknown endpoint", Endpoint("/nope"), Params{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEndpointParams(tt.endpoint, tt.params)
			if tt.wantErr {
				checkErrorIs(t, err, ErrValidation)
				return
			}
			checkNoError(t, err)
		})
	}
}

func TestResolvePathMovesPlaceholdersOutOfQuery(t *testing.T) {
	path, rawQuery := resolvePath(EndpointCourseParticipants, Params{"courseid": 9, "lastmodified": int64(1700000000)})
	checkStringEqual(t, "path", path, "/course/9/participants")

	q, err := url.ParseQuery(rawQuery)
	checkNoError(t, err)
	checkStringEqual(t, "lastmodified", q.Get("lastmodified"), "1700000000")
	if q.Has("courseid") {
		t.Error("courseid must not be repeated in the query")
	}
}
