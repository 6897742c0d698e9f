package protocol

import (
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Envelope carries the fields every decoded message shares.
type Envelope struct {
	Path       string
	Operation  []string
	Exchange   string
	Completed  bool
	Successful bool
	Outcome    string
	Errors     [][]string
	Request    json.RawMessage
}

// Header gives access to the shared envelope of any decoded message.
func (e *Envelope) Header() *Envelope {
	return e
}

// Ok reports whether the driver completed the operation successfully.
func (e *Envelope) Ok() bool {
	return e.Completed && e.Successful
}

// ErrorText flattens the error groups into a single sentence list, for
// example [["a","b"],["c"]] becomes "a b. c.". It returns "" when there are
// no errors.
func (e *Envelope) ErrorText() string {
	if len(e.Errors) == 0 {
		return ""
	}
	groups := make([]string, 0, len(e.Errors))
	for _, group := range e.Errors {
		groups = append(groups, strings.Join(group, " "))
	}
	return strings.Join(groups, ". ") + "."
}

// RequestField decodes one field of the echoed request into v. It returns
// false when the request does not carry the field.
func (e *Envelope) RequestField(name string, v any) bool {
	if len(e.Request) == 0 {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.Request, &fields); err != nil {
		return false
	}
	raw, ok := fields[name]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// Response is implemented by every decoded message.
type Response interface {
	Header() *Envelope
}

// Acknowledge is returned for operations without a payload of their own.
type Acknowledge struct {
	Envelope
}

type InfoResponse struct {
	Envelope
	Config            NapiConfigInfo
	NymiBands         []NymiBandInfo
	ProvisionMap      json.RawMessage
	Provisions        []string
	ProvisionsPresent []string
	TidIndex          json.RawMessage
}

// BandFilter narrows InfoResponse.Bands. All set conditions must hold.
type BandFilter struct {
	OnlyAuthenticated bool
	OnlyPresent       bool
	OnlyProvisioned   bool
}

func (r *InfoResponse) Bands(filter BandFilter) []NymiBandInfo {
	if !filter.OnlyAuthenticated && !filter.OnlyPresent && !filter.OnlyProvisioned {
		return r.NymiBands
	}
	bands := []NymiBandInfo{}
	for _, band := range r.NymiBands {
		pid := band.Pid()
		if filter.OnlyProvisioned && (pid == "" || !contains(r.Provisions, pid)) {
			continue
		}
		if filter.OnlyPresent && (pid == "" || !contains(r.ProvisionsPresent, pid)) {
			continue
		}
		if filter.OnlyAuthenticated && band.Found != FoundAuthenticated {
			continue
		}
		bands = append(bands, band)
	}
	return bands
}

// ClosestBand returns the band with the strongest smoothed signal among
// bands, or among all bands when none are given.
func (r *InfoResponse) ClosestBand(bands ...NymiBandInfo) (NymiBandInfo, bool) {
	if len(bands) == 0 {
		bands = r.NymiBands
	}
	if len(bands) == 0 {
		return NymiBandInfo{}, false
	}
	sorted := make([]NymiBandInfo, len(bands))
	copy(sorted, bands)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RSSI(true) < sorted[j].RSSI(true)
	})
	return sorted[len(sorted)-1], true
}

func (r *InfoResponse) BandByPid(pid string) (NymiBandInfo, bool) {
	for _, band := range r.NymiBands {
		if pid != "" && band.Pid() == pid {
			return band, true
		}
	}
	return NymiBandInfo{}, false
}

func (r *InfoResponse) BandByTid(tid int) (NymiBandInfo, bool) {
	for _, band := range r.NymiBands {
		if band.Tid == tid {
			return band, true
		}
	}
	return NymiBandInfo{}, false
}

type InitResponse struct {
	Envelope
	Info NapiInitInfo
}

type SignatureResponse struct {
	Envelope
	Signature       string
	VerificationKey string
}

func (r *SignatureResponse) SignatureBytes() ([]byte, error) {
	return hex.DecodeString(r.Signature)
}

func (r *SignatureResponse) VerificationKeyBytes() ([]byte, error) {
	return hex.DecodeString(r.VerificationKey)
}

type KeyDeleteResponse struct {
	Envelope
	KeyTypes KeyTypeInfo
}

type RandomResponse struct {
	Envelope
	PseudoRandomNumber string
}

func (r *RandomResponse) PseudoRandomBytes() ([]byte, error) {
	return hex.DecodeString(r.PseudoRandomNumber)
}

type TotpResponse struct {
	Envelope
	Totp string
}

type SymmetricKeyResponse struct {
	Envelope
	Key string
}

func (r *SymmetricKeyResponse) KeyBytes() ([]byte, error) {
	return hex.DecodeString(r.Key)
}

type CdfRegistrationResponse struct {
	Envelope
	AuthenticationKey string
	DeviceKey         string
}

func (r *CdfRegistrationResponse) AuthenticationKeyBytes() ([]byte, error) {
	return hex.DecodeString(r.AuthenticationKey)
}

func (r *CdfRegistrationResponse) DeviceKeyBytes() ([]byte, error) {
	return hex.DecodeString(r.DeviceKey)
}

type CdfAuthResponse struct {
	Envelope
	DeviceKeyHMAC  string
	SessionKeyHMAC string
}

func (r *CdfAuthResponse) DeviceKeyHMACBytes() ([]byte, error) {
	return hex.DecodeString(r.DeviceKeyHMAC)
}

func (r *CdfAuthResponse) SessionKeyHMACBytes() ([]byte, error) {
	return hex.DecodeString(r.SessionKeyHMAC)
}

type RoamingAuthSetupResponse struct {
	Envelope
	RAKey   string
	RAKeyID string
}

type RoamingAuthSigResponse struct {
	Envelope
	NymibandSig string
	RAKeyID     string
}

func (r *RoamingAuthSigResponse) NymibandSigBytes() ([]byte, error) {
	return hex.DecodeString(r.NymibandSig)
}

type NotificationResponse struct {
	Envelope
	Notifications NotificationInfo
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
