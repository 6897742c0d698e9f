package protocol

import (
	"crypto/sha256"
	"encoding/hex"
)

type patternPayload struct {
	Action  PatternAction `json:"action"`
	Pattern string        `json:"pattern"`
}

type pidPayload struct {
	Pid string `json:"pid"`
}

type guardedPayload struct {
	Pid     string `json:"pid"`
	Guarded bool   `json:"guarded"`
}

type notificationsPayload struct {
	OnFoundChange    bool `json:"onFoundChange"`
	OnPresenceChange bool `json:"onPresenceChange"`
}

type buzzPayload struct {
	Pid  string `json:"pid"`
	Buzz bool   `json:"buzz"`
}

type revokePayload struct {
	Pid                 string `json:"pid"`
	OnlyIfAuthenticated bool   `json:"onlyIfAuthenticated"`
}

type cdfAuthPayload struct {
	Pid              string `json:"pid"`
	ServiceNonce     string `json:"serviceNonce"`
	SessionKeyNonce  string `json:"sessionKeyNonce"`
	DeviceKeyNonce   string `json:"deviceKeyNonce"`
	ServiceNonceHMAC string `json:"serviceNonceHMAC"`
}

type keyDeletePayload struct {
	Pid              string `json:"pid"`
	Cdf              bool   `json:"cdf"`
	Sign             bool   `json:"sign"`
	Symmetric        bool   `json:"symmetric"`
	Totp             bool   `json:"totp"`
	RoamingAuthSetup bool   `json:"roamingAuthSetup"`
}

type signSetupPayload struct {
	Pid   string             `json:"pid"`
	Curve SignatureAlgorithm `json:"curve"`
}

type signPayload struct {
	Pid  string `json:"pid"`
	Hash string `json:"hash"`
}

type totpPayload struct {
	Pid     string `json:"pid"`
	Key     string `json:"key"`
	Guarded bool   `json:"guarded"`
}

type roamingAuthSetupPayload struct {
	Pid              string `json:"pid"`
	PartnerPublicKey string `json:"partnerPublicKey"`
}

type roamingAuthPayload struct {
	Tid int `json:"tid"`
}

type roamingAuthSigPayload struct {
	PartnerPublicKey string `json:"partnerPublicKey"`
	ServerNonce      string `json:"serverNonce"`
	ServerSignature  string `json:"serverSignature"`
}

func newRequest(path string, payload any, exchange []string) Request {
	r := Request{Path: path, Payload: payload}
	if len(exchange) > 0 {
		r.Exchange = exchange[0]
	}
	return r
}

func AcceptPattern(pattern string, exchange ...string) Request {
	return newRequest(PathProvisionPattern, patternPayload{Action: PatternAccept, Pattern: pattern}, exchange)
}

func RejectPattern(pattern string, exchange ...string) Request {
	return newRequest(PathProvisionPattern, patternPayload{Action: PatternReject, Pattern: pattern}, exchange)
}

func CreateSymmetricKey(pid string, guarded bool, exchange ...string) Request {
	return newRequest(PathSymmetricKeyRun, guardedPayload{Pid: pid, Guarded: guarded}, exchange)
}

func GetSymmetricKey(pid string, exchange ...string) Request {
	return newRequest(PathSymmetricKeyGet, pidPayload{Pid: pid}, exchange)
}

func ProvisionStart(exchange ...string) Request {
	return newRequest(PathProvisionRunStart, nil, exchange)
}

func ProvisionStop(exchange ...string) Request {
	return newRequest(PathProvisionRunStop, nil, exchange)
}

func GetInfo(exchange ...string) Request {
	return newRequest(PathInfoGet, nil, exchange)
}

// GetInit asks the driver for its initialization status. The worker queues
// one of these ahead of everything else when it starts.
func GetInit(exchange ...string) Request {
	return newRequest(PathInitGet, nil, exchange)
}

// SetEvents enables or disables found-change and presence-change reports.
func SetEvents(onFoundChange, onPresenceChange bool, exchange ...string) Request {
	return newRequest(PathNotificationsSet, notificationsPayload{
		OnFoundChange:    onFoundChange,
		OnPresenceChange: onPresenceChange,
	}, exchange)
}

func GetEvents(exchange ...string) Request {
	return newRequest(PathNotificationsGet, nil, exchange)
}

func GetRandom(pid string, exchange ...string) Request {
	return newRequest(PathRandomRun, pidPayload{Pid: pid}, exchange)
}

func NotifyBand(pid string, haptic HapticNotification, exchange ...string) Request {
	return newRequest(PathBuzzRun, buzzPayload{Pid: pid, Buzz: bool(haptic)}, exchange)
}

func RevokeProvision(pid string, onlyIfAuthenticated bool, exchange ...string) Request {
	return newRequest(PathRevokeRun, revokePayload{Pid: pid, OnlyIfAuthenticated: onlyIfAuthenticated}, exchange)
}

func CreateCdfKey(pid string, guarded bool, exchange ...string) Request {
	return newRequest(PathCdfRun, guardedPayload{Pid: pid, Guarded: guarded}, exchange)
}

func GetCdfKey(pid, serviceNonce, sessionKeyNonce, deviceKeyNonce, serviceNonceHMAC string, exchange ...string) Request {
	return newRequest(PathCdfGet, cdfAuthPayload{
		Pid:              pid,
		ServiceNonce:     serviceNonce,
		SessionKeyNonce:  sessionKeyNonce,
		DeviceKeyNonce:   deviceKeyNonce,
		ServiceNonceHMAC: serviceNonceHMAC,
	}, exchange)
}

// DeleteKey removes every key type flagged in keys from the band.
func DeleteKey(pid string, keys KeyTypeInfo, exchange ...string) Request {
	return newRequest(PathKeyDelete, keyDeletePayload{
		Pid:              pid,
		Cdf:              keys.Cdf,
		Sign:             keys.Signing,
		Symmetric:        keys.SymmetricKey,
		Totp:             keys.Totp,
		RoamingAuthSetup: keys.RoamingAuthSetup,
	}, exchange)
}

func SignSetup(pid string, curve SignatureAlgorithm, exchange ...string) Request {
	return newRequest(PathSignSetup, signSetupPayload{Pid: pid, Curve: curve}, exchange)
}

// SignMessage asks the band to sign hash. An empty hash is replaced with the
// hex SHA-256 digest of message.
func SignMessage(pid, message, hash string, exchange ...string) Request {
	if hash == "" {
		sum := sha256.Sum256([]byte(message))
		hash = hex.EncodeToString(sum[:])
	}
	return newRequest(PathSignRun, signPayload{Pid: pid, Hash: hash}, exchange)
}

func CreateTotp(pid, key string, guarded bool, exchange ...string) Request {
	return newRequest(PathTotpRun, totpPayload{Pid: pid, Key: key, Guarded: guarded}, exchange)
}

func GetTotp(pid string, exchange ...string) Request {
	return newRequest(PathTotpGet, pidPayload{Pid: pid}, exchange)
}

func SetupRoamingAuth(pid, partnerPublicKey string, exchange ...string) Request {
	return newRequest(PathRoamingAuthSetupRun, roamingAuthSetupPayload{Pid: pid, PartnerPublicKey: partnerPublicKey}, exchange)
}

func StartRoamingAuth(tid int, exchange ...string) Request {
	return newRequest(PathRoamingAuthRun, roamingAuthPayload{Tid: tid}, exchange)
}

func CompleteRoamingAuth(partnerPublicKey, serverNonce, serverSignature string, exchange ...string) Request {
	return newRequest(PathRoamingAuthSigRun, roamingAuthSigPayload{
		PartnerPublicKey: partnerPublicKey,
		ServerNonce:      serverNonce,
		ServerSignature:  serverSignature,
	}, exchange)
}
