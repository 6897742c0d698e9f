package protocol

// FoundState is the discovery state of a band as reported by the driver.
type FoundState string

const (
	FoundUndetected      FoundState = "undetected"
	FoundUnclasped       FoundState = "unclasped"
	FoundUnprovisionable FoundState = "unprovisionable"
	FoundAnonymous       FoundState = "anonymous"
	FoundDiscovered      FoundState = "discovered"
	FoundProvisioning    FoundState = "provisioning"
	FoundIdentified      FoundState = "identified"
	FoundAuthenticated   FoundState = "authenticated"
)

type PresenceState string

const (
	PresenceYes      PresenceState = "yes"
	PresenceLikely   PresenceState = "likely"
	PresenceUnlikely PresenceState = "unlikely"
	PresenceNo       PresenceState = "no"
)

type ProximityState string

const (
	ProximityNotReady     ProximityState = "not_ready"
	ProximityUndetectable ProximityState = "undetectable"
	ProximityDetectable   ProximityState = "detectable"
	ProximitySphere1      ProximityState = "sphere1"
	ProximitySphere2      ProximityState = "sphere2"
	ProximitySphere3      ProximityState = "sphere3"
	ProximitySphere4      ProximityState = "sphere4"
)

type KeyType string

const (
	KeyCdf              KeyType = "cdf"
	KeyRoamingAuthSetup KeyType = "roamingAuthSetup"
	KeySigning          KeyType = "sign"
	KeySymmetric        KeyType = "symmetric"
	KeyTotp             KeyType = "totp"
)

type PatternAction string

const (
	PatternAccept PatternAction = "accept"
	PatternReject PatternAction = "reject"
)

type SignatureAlgorithm string

const (
	NIST256P SignatureAlgorithm = "NIST256P"
	SECP256K SignatureAlgorithm = "SECP256K"
)

// HapticNotification selects the vibration pattern of a buzz request.
type HapticNotification bool

const (
	HapticNegative HapticNotification = false
	HapticPositive HapticNotification = true
)

// LogLevel is the driver's own log verbosity.
type LogLevel int

const (
	LogNone LogLevel = iota
	LogNormal
	LogInfo
	LogDebug
	LogVerbose
)

func (l LogLevel) Valid() bool {
	return l >= LogNone && l <= LogVerbose
}

func (l LogLevel) String() string {
	switch l {
	case LogNone:
		return "none"
	case LogNormal:
		return "normal"
	case LogInfo:
		return "info"
	case LogDebug:
		return "debug"
	case LogVerbose:
		return "verbose"
	default:
		return "unknown"
	}
}

const (
	PathInfoGet                     = "info/get"
	PathInitGet                     = "init/get"
	PathNotificationsGet            = "notifications/get"
	PathNotificationsSet            = "notifications/set"
	PathNotificationsFoundChange    = "notifications/report/found-change"
	PathNotificationsPresenceChange = "notifications/report/presence-change"
	PathNotificationsGeneralError   = "notifications/report/general-error"
	PathKeyDelete                   = "key/delete"
	PathBuzzRun                     = "buzz/run"
	PathRevokeRun                   = "revoke/run"
	PathSignSetup                   = "sign/setup"
	PathSignRun                     = "sign/run"
	PathRandomRun                   = "random/run"
	PathTotpRun                     = "totp/run"
	PathTotpGet                     = "totp/get"
	PathSymmetricKeyRun             = "symmetricKey/run"
	PathSymmetricKeyGet             = "symmetricKey/get"
	PathCdfRun                      = "cdf/run"
	PathCdfGet                      = "cdf/get"
	PathProvisionRunStart           = "provision/run/start"
	PathProvisionRunStop            = "provision/run/stop"
	PathProvisionPattern            = "provision/pattern"
	PathProvisionReportPatterns     = "provision/report/patterns"
	PathProvisionReportProvisioned  = "provision/report/provisioned"
	PathProvisionsChanged           = "provisions/changed"
	PathRoamingAuthSetupRun         = "roaming-auth-setup/run"
	PathRoamingAuthRun              = "roaming-auth/run"
	PathRoamingAuthReportNonce      = "roaming-auth/report/nonce"
	PathRoamingAuthSigRun           = "roaming-auth-sig/run"
)
