package proctor

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Endpoint is a vendor API path relative to the version path.
type Endpoint string

const (
	EndpointParticipant        Endpoint = "/participant"
	EndpointCourseParticipants Endpoint = "/course/{courseid}/participants"
	EndpointCourseSessions     Endpoint = "/course/{courseid}/participantsessions"
	EndpointActivitySessions   Endpoint = "/participantsessions/activity"
	EndpointParticipantStatus  Endpoint = "/2-0/participantstatus"
	EndpointEndSession         Endpoint = "/participants/endsession"
)

// Item keys of the list envelopes, compared after key normalization.
const (
	itemsKeyParticipants        = "participants"
	itemsKeyParticipantSessions = "participantsessions"
)

// ParamKind is the expected type of a query parameter.
type ParamKind int

const (
	KindInt ParamKind = iota
	KindString
	KindBool
	KindGUID
	KindStatus
)

func (k ParamKind) String() string {
	switch k {
	case KindInt:
		return "integer"
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	case KindGUID:
		return "GUID"
	case KindStatus:
		return "status string"
	default:
		return "unknown"
	}
}

// Params are the query parameters of one call, keyed by vendor name.
type Params map[string]any

func (p Params) clone() Params {
	out := make(Params, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	return out
}

func (p Params) intValue(name string) int {
	switch v := p[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case int32:
		return int(v)
	default:
		return 0
	}
}

type endpointDef struct {
	allowed  map[string]ParamKind
	required []string
	// itemsKey is set for paginated list endpoints.
	itemsKey string
}

var endpointDefs = map[Endpoint]endpointDef{
	EndpointParticipant: {
		allowed:  map[string]ParamKind{"participantidentifier": KindInt, "courseid": KindInt},
		required: []string{"participantidentifier", "courseid"},
	},
	EndpointCourseParticipants: {
		allowed: map[string]ParamKind{
			"courseid":       KindInt,
			"lastmodified":   KindInt,
			"limit":          KindInt,
			"nexttoken":      KindString,
			"status":         KindStatus,
			"externaluserid": KindString,
			"backwardsearch": KindBool,
		},
		required: []string{"courseid"},
		itemsKey: itemsKeyParticipants,
	},
	EndpointCourseSessions: {
		allowed: map[string]ParamKind{
			"activityid":            KindInt,
			"courseid":              KindInt,
			"lastmodified":          KindInt,
			"limit":                 KindInt,
			"nexttoken":             KindString,
			"participantidentifier": KindInt,
			"status":                KindStatus,
			"backwardsearch":        KindBool,
		},
		required: []string{"activityid", "courseid"},
		itemsKey: itemsKeyParticipantSessions,
	},
	EndpointActivitySessions: {
		allowed: map[string]ParamKind{
			"activityid":            KindInt,
			"courseid":              KindInt,
			"participantidentifier": KindInt,
			"limit":                 KindInt,
			"nexttoken":             KindString,
			"backwardsearch":        KindBool,
		},
		required: []string{"activityid"},
		itemsKey: itemsKeyParticipantSessions,
	},
	EndpointParticipantStatus: {
		allowed:  map[string]ParamKind{"activityid": KindInt, "courseid": KindInt, "participantidentifier": KindInt},
		required: []string{"activityid", "courseid", "participantidentifier"},
	},
	EndpointEndSession: {
		allowed:  map[string]ParamKind{"appid": KindGUID, "participantidentifier": KindInt, "courseid": KindInt, "activityid": KindInt},
		required: []string{"appid", "participantidentifier", "courseid", "activityid"},
	},
}

// ValidateEndpointParams checks params against the endpoint's allow-list,
// expected types and required subset. The vendor rejects malformed requests
// opaquely, so every mistake is caught here instead.
func ValidateEndpointParams(endpoint Endpoint, params Params) error {
	def, ok := endpointDefs[endpoint]
	if !ok {
		return invalid("endpoint", fmt.Sprintf("unknown endpoint %q", endpoint))
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		kind, ok := def.allowed[name]
		if !ok {
			return invalid(name, fmt.Sprintf("parameter not allowed for %s", endpoint))
		}
		if err := checkKind(name, kind, params[name]); err != nil {
			return err
		}
	}
	for _, name := range def.required {
		if _, ok := params[name]; !ok {
			return invalid(name, fmt.Sprintf("parameter required for %s", endpoint))
		}
	}
	return nil
}

func checkKind(name string, kind ParamKind, v any) error {
	ok := false
	switch kind {
	case KindInt:
		switch v.(type) {
		case int, int32, int64:
			ok = true
		}
	case KindString:
		_, ok = v.(string)
	case KindBool:
		_, ok = v.(bool)
	case KindGUID:
		s, isString := v.(string)
		ok = isString && isGUID(s)
	case KindStatus:
		if s, isString := v.(string); isString {
			_, err := ParseStatus(s)
			ok = err == nil
		}
	}
	if !ok {
		return invalid(name, fmt.Sprintf("expected %s, got %T", kind, v))
	}
	return nil
}

// resolvePath fills {placeholders} from params and returns the path plus the
// remaining parameters encoded as a query string.
func resolvePath(endpoint Endpoint, params Params) (string, string) {
	path := string(endpoint)
	query := url.Values{}
	for name, v := range params {
		placeholder := "{" + name + "}"
		if strings.Contains(path, placeholder) {
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(formatParam(v)))
			continue
		}
		query.Set(name, formatParam(v))
	}
	return path, query.Encode()
}

func formatParam(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
