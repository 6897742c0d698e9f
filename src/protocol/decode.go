package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Decode turns one raw driver message into its typed form. Unknown paths
// yield ErrUnsupportedPath and malformed input yields ErrMalformed.
func Decode(raw []byte) (Response, error) {
	var msg WireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	r, ok := routes[msg.Path]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPath, msg.Path)
	}

	resp, err := r.decode(msg.envelope(), &msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, msg.Path, err)
	}
	return resp, nil
}

type decodeFunc func(env Envelope, msg *WireMessage) (Response, error)

func payload(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return json.Unmarshal(raw, v)
}

type wireKeyTypes struct {
	EnabledCDF              bool `json:"enabledCDF"`
	CDF                     bool `json:"cdf"`
	EnabledRoamingAuthSetup bool `json:"enabledRoamingAuthSetup"`
	RA                      bool `json:"ra"`
	EnabledSigning          bool `json:"enabledSigning"`
	Sign                    bool `json:"sign"`
	EnabledSymmetricKeys    bool `json:"enabledSymmetricKeys"`
	Symmetric               bool `json:"symmetric"`
	EnabledTOTP             bool `json:"enabledTOTP"`
	TOTP                    bool `json:"totp"`
}

func (w wireKeyTypes) info() KeyTypeInfo {
	return KeyTypeInfo{
		Cdf:              w.EnabledCDF || w.CDF,
		RoamingAuthSetup: w.EnabledRoamingAuthSetup || w.RA,
		Signing:          w.EnabledSigning || w.Sign,
		SymmetricKey:     w.EnabledSymmetricKeys || w.Symmetric,
		Totp:             w.EnabledTOTP || w.TOTP,
	}
}

type wireProvisioned struct {
	wireKeyTypes
	Pid                           Text    `json:"pid"`
	AuthenticationWindowRemaining float64 `json:"authenticationWindowRemaining"`
	CommandsQueued                int     `json:"commandsQueued"`
}

type wireBand struct {
	wireKeyTypes
	RSSILast                      float64           `json:"RSSI_last"`
	RSSISmoothed                  float64           `json:"RSSI_smoothed"`
	FirmwareVersion               Text              `json:"firmwareVersion"`
	Found                         string            `json:"found"`
	Present                       string            `json:"present"`
	SinceLastContact              float64           `json:"sinceLastContact"`
	Tid                           int               `json:"tid"`
	IsProvisioned                 bool              `json:"isProvisioned"`
	Provisioned                   json.RawMessage   `json:"provisioned"`
	Pid                           Text              `json:"pid"`
	AuthenticationWindowRemaining float64           `json:"authenticationWindowRemaining"`
	CommandQueue                  []json.RawMessage `json:"commandQueue"`
	CommandsQueued                int               `json:"commandsQueued"`
	HasApproached                 bool              `json:"hasApproached"`
	Proximity                     string            `json:"proximity"`
}

// provisioned reports the provisioned flag, which arrives either as a bool
// or as an object describing the provision.
func (w *wireBand) provisioned() (bool, *wireProvisioned) {
	raw := bytes.TrimSpace(w.Provisioned)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return w.IsProvisioned, nil
	}
	if raw[0] == '{' {
		var sub wireProvisioned
		if err := json.Unmarshal(raw, &sub); err != nil {
			return true, nil
		}
		return true, &sub
	}
	var flag bool
	if err := json.Unmarshal(raw, &flag); err != nil {
		return w.IsProvisioned, nil
	}
	return flag || w.IsProvisioned, nil
}

func (w *wireBand) provisionInfo() *ProvisionInfo {
	_, sub := w.provisioned()
	info := &ProvisionInfo{
		Pid:                           string(w.Pid),
		AuthenticationWindowRemaining: w.AuthenticationWindowRemaining,
		CommandQueue:                  w.CommandQueue,
		CommandsQueued:                w.CommandsQueued,
		HasApproached:                 w.HasApproached,
		Proximity:                     ProximityState(w.Proximity),
		KeyTypes:                      w.wireKeyTypes.info(),
	}
	if info.CommandQueue == nil {
		info.CommandQueue = []json.RawMessage{}
	}
	if info.Proximity == "" {
		info.Proximity = ProximityNotReady
	}
	if sub != nil {
		if info.Pid == "" {
			info.Pid = string(sub.Pid)
		}
		if info.AuthenticationWindowRemaining == 0 {
			info.AuthenticationWindowRemaining = sub.AuthenticationWindowRemaining
		}
		if info.CommandsQueued == 0 {
			info.CommandsQueued = sub.CommandsQueued
		}
		info.KeyTypes = sub.wireKeyTypes.info()
	}
	return info
}

func (w *wireBand) bandInfo(provision *ProvisionInfo) NymiBandInfo {
	provisioned, _ := w.provisioned()
	return NymiBandInfo{
		RSSILast:         w.RSSILast,
		RSSISmoothed:     w.RSSISmoothed,
		FirmwareVersion:  string(w.FirmwareVersion),
		Found:            FoundState(w.Found),
		Provisioned:      provisioned,
		Present:          PresenceState(w.Present),
		SinceLastContact: w.SinceLastContact,
		Tid:              w.Tid,
		Provision:        provision,
	}
}

func acknowledge(env Envelope, _ *WireMessage) (Response, error) {
	return &Acknowledge{Envelope: env}, nil
}

func decodeInfo(env Envelope, msg *WireMessage) (Response, error) {
	var w struct {
		Config struct {
			Commit      Text `json:"commit"`
			Detecting   bool `json:"detecting"`
			Discovering bool `json:"discovering"`
			EcoDaemon   Text `json:"ecodaemon"`
			Finding     bool `json:"finding"`
			Net         bool `json:"net"`
			Running     bool `json:"running"`
			Version     Text `json:"version"`
		} `json:"config"`
		NymiBand          []wireBand      `json:"nymiband"`
		ProvisionMap      json.RawMessage `json:"provisionMap"`
		Provisions        []string        `json:"provisions"`
		ProvisionsPresent []string        `json:"provisionsPresent"`
		TidIndex          json.RawMessage `json:"tidIndex"`
	}
	if err := payload(msg.Response, &w); err != nil {
		return nil, err
	}

	bands := make([]NymiBandInfo, 0, len(w.NymiBand))
	for i := range w.NymiBand {
		b := &w.NymiBand[i]
		var provision *ProvisionInfo
		if b.IsProvisioned {
			provision = b.provisionInfo()
		}
		bands = append(bands, b.bandInfo(provision))
	}

	resp := &InfoResponse{
		Envelope: env,
		Config: NapiConfigInfo{
			Commit:      string(w.Config.Commit),
			Detecting:   w.Config.Detecting,
			Discovering: w.Config.Discovering,
			EcoDaemon:   string(w.Config.EcoDaemon),
			Finding:     w.Config.Finding,
			Net:         w.Config.Net,
			Running:     w.Config.Running,
			Version:     string(w.Config.Version),
		},
		NymiBands:         bands,
		ProvisionMap:      w.ProvisionMap,
		Provisions:        w.Provisions,
		ProvisionsPresent: w.ProvisionsPresent,
		TidIndex:          w.TidIndex,
	}
	if resp.Provisions == nil {
		resp.Provisions = []string{}
	}
	if resp.ProvisionsPresent == nil {
		resp.ProvisionsPresent = []string{}
	}
	return resp, nil
}

func decodeInit(env Envelope, msg *WireMessage) (Response, error) {
	var w struct {
		NEAName Text `json:"NEAName"`
		Inited  bool `json:"inited"`
		Network struct {
			Host Text `json:"host"`
			Port int  `json:"port"`
		} `json:"network"`
		SignatureAlgorithm string `json:"signatureAlgorithm"`
	}
	if err := payload(msg.Response, &w); err != nil {
		return nil, err
	}
	return &InitResponse{
		Envelope: env,
		Info: NapiInitInfo{
			NeaName:            string(w.NEAName),
			Inited:             w.Inited,
			Host:               string(w.Network.Host),
			Port:               w.Network.Port,
			SignatureAlgorithm: SignatureAlgorithm(w.SignatureAlgorithm),
		},
	}, nil
}

func decodeNotifications(env Envelope, msg *WireMessage) (Response, error) {
	resp := &NotificationResponse{Envelope: env}
	if err := payload(msg.Response, &resp.Notifications); err != nil {
		return nil, err
	}
	return resp, nil
}

func decodeKeyDelete(env Envelope, msg *WireMessage) (Response, error) {
	var w wireKeyTypes
	if err := payload(msg.Response, &w); err != nil {
		return nil, err
	}
	return &KeyDeleteResponse{Envelope: env, KeyTypes: w.info()}, nil
}

func decodeSignature(env Envelope, msg *WireMessage) (Response, error) {
	var w struct {
		Signature       string `json:"signature"`
		VerificationKey string `json:"verificationKey"`
	}
	if err := payload(msg.Response, &w); err != nil {
		return nil, err
	}
	return &SignatureResponse{Envelope: env, Signature: w.Signature, VerificationKey: w.VerificationKey}, nil
}

func decodeRandom(env Envelope, msg *WireMessage) (Response, error) {
	var w struct {
		PseudoRandomNumber string `json:"pseudoRandomNumber"`
	}
	if err := payload(msg.Response, &w); err != nil {
		return nil, err
	}
	return &RandomResponse{Envelope: env, PseudoRandomNumber: w.PseudoRandomNumber}, nil
}

func decodeTotp(env Envelope, msg *WireMessage) (Response, error) {
	var w struct {
		Totp Text `json:"totp"`
	}
	if err := payload(msg.Response, &w); err != nil {
		return nil, err
	}
	return &TotpResponse{Envelope: env, Totp: string(w.Totp)}, nil
}

func decodeSymmetricKey(env Envelope, msg *WireMessage) (Response, error) {
	var w struct {
		Key string `json:"key"`
	}
	if err := payload(msg.Response, &w); err != nil {
		return nil, err
	}
	return &SymmetricKeyResponse{Envelope: env, Key: w.Key}, nil
}

func decodeCdfRegistration(env Envelope, msg *WireMessage) (Response, error) {
	var w struct {
		AuthenticationKey string `json:"authenticationKey"`
		DeviceKey         string `json:"deviceKey"`
	}
	if err := payload(msg.Response, &w); err != nil {
		return nil, err
	}
	return &CdfRegistrationResponse{Envelope: env, AuthenticationKey: w.AuthenticationKey, DeviceKey: w.DeviceKey}, nil
}

func decodeCdfAuth(env Envelope, msg *WireMessage) (Response, error) {
	var w struct {
		DeviceKeyHMAC  string `json:"deviceKeyHMAC"`
		SessionKeyHMAC string `json:"sessionKeyHMAC"`
	}
	if err := payload(msg.Response, &w); err != nil {
		return nil, err
	}
	return &CdfAuthResponse{Envelope: env, DeviceKeyHMAC: w.DeviceKeyHMAC, SessionKeyHMAC: w.SessionKeyHMAC}, nil
}

func decodeRoamingAuthSetup(env Envelope, msg *WireMessage) (Response, error) {
	var w struct {
		RAKey   string `json:"RAKey"`
		RAKeyID Text   `json:"RAKeyId"`
	}
	if err := payload(msg.Response, &w); err != nil {
		return nil, err
	}
	return &RoamingAuthSetupResponse{Envelope: env, RAKey: w.RAKey, RAKeyID: string(w.RAKeyID)}, nil
}

func decodeRoamingAuthSig(env Envelope, msg *WireMessage) (Response, error) {
	var w struct {
		NymibandSig string `json:"nymibandSig"`
		RAKeyID     Text   `json:"raKeyId"`
	}
	if err := payload(msg.Response, &w); err != nil {
		return nil, err
	}
	return &RoamingAuthSigResponse{Envelope: env, NymibandSig: w.NymibandSig, RAKeyID: string(w.RAKeyID)}, nil
}

type wireEvent struct {
	Kind Text `json:"kind"`
}

type wireFoundChange struct {
	wireEvent
	After  string `json:"after"`
	Before string `json:"before"`
	Pid    Text   `json:"pid"`
	Tid    int    `json:"tid"`
}

func (w wireFoundChange) foundChange() FoundChange {
	return FoundChange{After: w.After, Before: w.Before, Pid: string(w.Pid), Tid: w.Tid}
}

func decodeFoundChange(env Envelope, msg *WireMessage) (Response, error) {
	var w wireFoundChange
	if err := payload(msg.Event, &w); err != nil {
		return nil, err
	}
	return &FoundChangeEvent{
		EventHeader: EventHeader{Envelope: env, Kind: string(w.Kind)},
		FoundChange: w.foundChange(),
	}, nil
}

func decodePresenceChange(env Envelope, msg *WireMessage) (Response, error) {
	var w struct {
		wireFoundChange
		Authenticated bool    `json:"authenticated"`
		Age           float64 `json:"age"`
		Remaining     float64 `json:"remaining"`
	}
	if err := payload(msg.Event, &w); err != nil {
		return nil, err
	}
	return &PresenceChangeEvent{
		EventHeader:   EventHeader{Envelope: env, Kind: string(w.Kind)},
		FoundChange:   w.foundChange(),
		Authenticated: w.Authenticated,
		Age:           w.Age,
		Remaining:     w.Remaining,
	}, nil
}

func decodeGeneralError(env Envelope, msg *WireMessage) (Response, error) {
	var w struct {
		wireEvent
		Err Text `json:"err"`
	}
	if err := payload(msg.Event, &w); err != nil {
		return nil, err
	}
	return &GeneralErrorEvent{EventHeader: EventHeader{Envelope: env, Kind: string(w.Kind)}, Err: string(w.Err)}, nil
}

func decodePatterns(env Envelope, msg *WireMessage) (Response, error) {
	var w struct {
		wireEvent
		Patterns []string `json:"patterns"`
	}
	if err := payload(msg.Event, &w); err != nil {
		return nil, err
	}
	if w.Patterns == nil {
		w.Patterns = []string{}
	}
	return &PatternEvent{EventHeader: EventHeader{Envelope: env, Kind: string(w.Kind)}, Patterns: w.Patterns}, nil
}

func decodeProvisioned(env Envelope, msg *WireMessage) (Response, error) {
	var w struct {
		wireEvent
		Info wireBand `json:"info"`
	}
	if err := payload(msg.Event, &w); err != nil {
		return nil, err
	}
	return &ProvisionedEvent{
		EventHeader: EventHeader{Envelope: env, Kind: string(w.Kind)},
		Band:        w.Info.bandInfo(w.Info.provisionInfo()),
	}, nil
}

func decodeRoamingAuthNonce(env Envelope, msg *WireMessage) (Response, error) {
	var w struct {
		wireEvent
		NymibandNonce string `json:"nymibandNonce"`
	}
	if err := payload(msg.Event, &w); err != nil {
		return nil, err
	}
	return &RoamingAuthNonceEvent{EventHeader: EventHeader{Envelope: env, Kind: string(w.Kind)}, NymibandNonce: w.NymibandNonce}, nil
}

// decodeProvisionsChanged reads the kind from the event and the blob from the
// response. A JSON string blob is unquoted, anything else is kept as text.
func decodeProvisionsChanged(env Envelope, msg *WireMessage) (Response, error) {
	var kind wireEvent
	if err := payload(msg.Event, &kind); err != nil {
		return nil, err
	}
	var w struct {
		Provisions json.RawMessage `json:"provisions"`
	}
	if err := payload(msg.Response, &w); err != nil {
		return nil, err
	}

	provisions := ""
	raw := bytes.TrimSpace(w.Provisions)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &provisions); err != nil {
			return nil, err
		}
	default:
		provisions = string(raw)
	}

	return &ProvisionsChangedEvent{
		EventHeader: EventHeader{Envelope: env, Kind: string(kind.Kind)},
		Provisions:  provisions,
	}, nil
}
