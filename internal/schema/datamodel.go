package schema

import (
	"strings"
	"sync"
)

// Mapping resolves one unified field. Either Path or Method is set.
type Mapping struct {
	Path   []string
	Method func(*Event) Value
}

// DataModel maps unified field names to log-type specific locations.
type DataModel struct {
	LogType  string
	Mappings map[string]Mapping
}

// Resolve looks up a unified field on e. Unknown fields resolve to null.
func (dm *DataModel) Resolve(e *Event, field string) Value {
	m, ok := dm.Mappings[field]
	if !ok {
		return Null
	}
	if m.Method != nil {
		return m.Method(e)
	}
	return e.DeepGet(m.Path...)
}

// PathMapping builds a Mapping from a dotted path such as "userIdentity.arn".
func PathMapping(dotted string) Mapping {
	return Mapping{Path: strings.Split(dotted, ".")}
}

var (
	dataModelsMu sync.RWMutex
	dataModels   = map[string]*DataModel{}
)

// RegisterDataModel installs dm for its log type, replacing any previous model.
func RegisterDataModel(dm *DataModel) {
	dataModelsMu.Lock()
	defer dataModelsMu.Unlock()
	dataModels[dm.LogType] = dm
}

// LookupDataModel returns the model registered for logType.
func LookupDataModel(logType string) (*DataModel, bool) {
	dataModelsMu.RLock()
	defer dataModelsMu.RUnlock()
	dm, ok := dataModels[logType]
	return dm, ok
}

func init() {
	RegisterDataModel(&DataModel{
		LogType: LogTypeAWSALB,
		Mappings: map[string]Mapping{
			"source_ip":        PathMapping("clientIp"),
			"source_port":      PathMapping("clientPort"),
			"destination_ip":   PathMapping("targetIp"),
			"destination_port": PathMapping("targetPort"),
			"user_agent":       PathMapping("userAgent"),
			"http_status":      PathMapping("targetStatusCode"),
		},
	})
	RegisterDataModel(&DataModel{
		LogType: LogTypeAWSCloudTrail,
		Mappings: map[string]Mapping{
			"source_ip":  PathMapping("sourceIPAddress"),
			"user_agent": PathMapping("userAgent"),
			"account_id": PathMapping("recipientAccountId"),
			"actor_user": {Method: cloudTrailActor},
			"event_type": PathMapping("eventType"),
		},
	})
	RegisterDataModel(&DataModel{
		LogType: LogTypePantherAudit,
		Mappings: map[string]Mapping{
			"source_ip":  PathMapping("sourceIP"),
			"user_agent": PathMapping("userAgent"),
			"actor_user": PathMapping("actor.name"),
		},
	})
	RegisterDataModel(&DataModel{
		LogType: LogTypeGSuiteActivityEvent,
		Mappings: map[string]Mapping{
			"source_ip":  PathMapping("ipAddress"),
			"actor_user": PathMapping("actor.email"),
		},
	})
	RegisterDataModel(&DataModel{
		LogType: LogTypeHostIDS,
		Mappings: map[string]Mapping{
			"user_agent": PathMapping("user_agent"),
			"hostname":   PathMapping("host_name"),
		},
	})
}

func cloudTrailActor(e *Event) Value {
	if name := e.DeepGet("userIdentity", "userName"); name.Exists() {
		return name
	}
	if e.DeepGet("userIdentity", "type").StrOr("") == "Root" {
		return ValueOf("root")
	}
	return e.DeepGet("userIdentity", "sessionContext", "sessionIssuer", "userName")
}
