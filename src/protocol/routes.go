package protocol

import "fmt"

// EventName is the name under which the supervisor publishes a decoded
// message.
type EventName string

const (
	EventInitGet                           EventName = "InitGet"
	EventInfoGet                           EventName = "InfoGet"
	EventNotificationsGet                  EventName = "NotificationsGet"
	EventNotificationsSet                  EventName = "NotificationsSet"
	EventNotificationsReportFoundChange    EventName = "NotificationsReportFoundChange"
	EventNotificationsReportPresenceChange EventName = "NotificationsReportPresenceChange"
	EventNotificationsReportGeneralError   EventName = "NotificationsReportGeneralError"
	EventKeyDelete                         EventName = "KeyDelete"
	EventBuzzRun                           EventName = "BuzzRun"
	EventRevokeRun                         EventName = "RevokeRun"
	EventSignSetup                         EventName = "SignSetup"
	EventSignRun                           EventName = "SignRun"
	EventRandomRun                         EventName = "RandomRun"
	EventTotpRun                           EventName = "TotpRun"
	EventTotpGet                           EventName = "TotpGet"
	EventSymmetricKeyRun                   EventName = "SymmetricKeyRun"
	EventSymmetricKeyGet                   EventName = "SymmetricKeyGet"
	EventCdfRun                            EventName = "CdfRun"
	EventCdfGet                            EventName = "CdfGet"
	EventProvisionRunStart                 EventName = "ProvisionRunStart"
	EventProvisionRunStop                  EventName = "ProvisionRunStop"
	EventProvisionPattern                  EventName = "ProvisionPattern"
	EventProvisionReportPatterns           EventName = "ProvisionReportPatterns"
	EventProvisionReportProvisioned        EventName = "ProvisionReportProvisioned"
	EventRoamingAuthSetupRun               EventName = "RoamingAuthSetupRun"
	EventRoamingAuthRun                    EventName = "RoamingAuthRun"
	EventRoamingAuthReportNonce            EventName = "RoamingAuthReportNonce"
	EventRoamingAuthSigRun                 EventName = "RoamingAuthSigRun"
	EventProvisionsChanged                 EventName = "ProvisionsChanged"
)

type route struct {
	path   string
	event  EventName
	decode decodeFunc
}

var routeTable = []route{
	{PathInfoGet, EventInfoGet, decodeInfo},
	{PathInitGet, EventInitGet, decodeInit},
	{PathNotificationsGet, EventNotificationsGet, decodeNotifications},
	{PathNotificationsSet, EventNotificationsSet, decodeNotifications},
	{PathNotificationsFoundChange, EventNotificationsReportFoundChange, decodeFoundChange},
	{PathNotificationsPresenceChange, EventNotificationsReportPresenceChange, decodePresenceChange},
	{PathNotificationsGeneralError, EventNotificationsReportGeneralError, decodeGeneralError},
	{PathKeyDelete, EventKeyDelete, decodeKeyDelete},
	{PathBuzzRun, EventBuzzRun, acknowledge},
	{PathRevokeRun, EventRevokeRun, acknowledge},
	{PathSignSetup, EventSignSetup, acknowledge},
	{PathSignRun, EventSignRun, decodeSignature},
	{PathRandomRun, EventRandomRun, decodeRandom},
	{PathTotpRun, EventTotpRun, acknowledge},
	{PathTotpGet, EventTotpGet, decodeTotp},
	{PathSymmetricKeyRun, EventSymmetricKeyRun, acknowledge},
	{PathSymmetricKeyGet, EventSymmetricKeyGet, decodeSymmetricKey},
	{PathCdfRun, EventCdfRun, decodeCdfRegistration},
	{PathCdfGet, EventCdfGet, decodeCdfAuth},
	{PathProvisionRunStart, EventProvisionRunStart, acknowledge},
	{PathProvisionRunStop, EventProvisionRunStop, acknowledge},
	{PathProvisionPattern, EventProvisionPattern, acknowledge},
	{PathProvisionReportPatterns, EventProvisionReportPatterns, decodePatterns},
	{PathProvisionReportProvisioned, EventProvisionReportProvisioned, decodeProvisioned},
	{PathProvisionsChanged, EventProvisionsChanged, decodeProvisionsChanged},
	{PathRoamingAuthSetupRun, EventRoamingAuthSetupRun, decodeRoamingAuthSetup},
	{PathRoamingAuthRun, EventRoamingAuthRun, acknowledge},
	{PathRoamingAuthReportNonce, EventRoamingAuthReportNonce, decodeRoamingAuthNonce},
	{PathRoamingAuthSigRun, EventRoamingAuthSigRun, decodeRoamingAuthSig},
}

var routes = mustIndexRoutes(routeTable)

func mustIndexRoutes(table []route) map[string]route {
	index, err := indexRoutes(table)
	if err != nil {
		panic(err)
	}
	return index
}

func indexRoutes(table []route) (map[string]route, error) {
	index := make(map[string]route, len(table))
	names := make(map[EventName]string, len(table))
	for _, r := range table {
		if r.path == "" || r.event == "" || r.decode == nil {
			return nil, fmt.Errorf("incomplete route %q", r.path)
		}
		if _, exists := index[r.path]; exists {
			return nil, fmt.Errorf("duplicate route %q", r.path)
		}
		if other, exists := names[r.event]; exists {
			return nil, fmt.Errorf("event %s used by %q and %q", r.event, other, r.path)
		}
		index[r.path] = r
		names[r.event] = r.path
	}
	return index, nil
}

// EventFor returns the event name published for messages on path.
func EventFor(path string) (EventName, bool) {
	r, ok := routes[path]
	return r.event, ok
}

// Paths lists every path the decoder understands, in table order.
func Paths() []string {
	paths := make([]string, 0, len(routeTable))
	for _, r := range routeTable {
		paths = append(paths, r.path)
	}
	return paths
}
