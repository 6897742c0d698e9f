// Package simulator is an in-memory NAPI implementation used when a NEA runs
// with the nymulator flag. It answers every request path the decoder knows
// and plays one band through provisioning and roaming authentication.
package simulator

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/q-controller/nea-supervisor/src/driver"
	"github.com/q-controller/nea-supervisor/src/protocol"
)

func init() {
	driver.Register(driver.Simulator, Open)
}

func Open() (driver.Driver, error) {
	return New(), nil
}

type provision struct {
	Pid        string `json:"pid"`
	Tid        int    `json:"tid"`
	Cdf        bool   `json:"cdf,omitempty"`
	Signing    bool   `json:"sign,omitempty"`
	Symmetric  bool   `json:"symmetric,omitempty"`
	Totp       bool   `json:"totp,omitempty"`
	RoamingKey bool   `json:"ra,omitempty"`

	signer       *ecdsa.PrivateKey
	symmetricKey []byte
	totpKey      []byte
}

type message struct {
	Path       string          `json:"path"`
	Exchange   string          `json:"exchange,omitempty"`
	Request    json.RawMessage `json:"request,omitempty"`
	Response   any             `json:"response,omitempty"`
	Event      any             `json:"event,omitempty"`
	Completed  bool            `json:"completed"`
	Successful bool            `json:"successful"`
	Outcome    string          `json:"outcome,omitempty"`
	Errors     [][]string      `json:"errors,omitempty"`
}

type request struct {
	Path     string          `json:"path"`
	Exchange protocol.Text   `json:"exchange"`
	Request  json.RawMessage `json:"request"`
}

type args struct {
	Pid              string `json:"pid"`
	Guarded          bool   `json:"guarded"`
	Action           string `json:"action"`
	Pattern          string `json:"pattern"`
	OnFoundChange    bool   `json:"onFoundChange"`
	OnPresenceChange bool   `json:"onPresenceChange"`
	Key              string `json:"key"`
	Hash             string `json:"hash"`
	Curve            string `json:"curve"`
	Tid              int    `json:"tid"`
	Cdf              bool   `json:"cdf"`
	Sign             bool   `json:"sign"`
	Symmetric        bool   `json:"symmetric"`
	Totp             bool   `json:"totp"`
	RoamingAuthSetup bool   `json:"roamingAuthSetup"`
}

// Nymulator holds the simulated driver state.
type Nymulator struct {
	mu            sync.Mutex
	cfg           driver.Config
	configured    bool
	provisions    []*provision
	nextTid       int
	provisioning  bool
	pattern       string
	notifications protocol.NotificationInfo
	outbox        [][]byte
}

func New() *Nymulator {
	return &Nymulator{nextTid: 1}
}

func (n *Nymulator) Configure(cfg driver.Config) driver.ConfigOutcome {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.configured {
		return driver.ConfigAlreadyConfigured
	}
	if cfg.NeaName == "" {
		return driver.ConfigMissingNeaName
	}
	if !protocol.LogLevel(cfg.LogLevel).Valid() {
		return driver.ConfigInvalidLogLevel
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return driver.ConfigInvalidPort
	}
	if cfg.Host == "" {
		return driver.ConfigInvalidHost
	}

	provisions, err := parseProvisions(cfg.Provisions)
	if err != nil {
		return driver.ConfigInvalidProvisions
	}
	for _, p := range provisions {
		p.Tid = n.nextTid
		n.nextTid++
	}

	n.cfg = cfg
	n.provisions = provisions
	n.notifications = protocol.NotificationInfo{OnGeneralError: true, OnProvision: true}
	n.configured = true
	return driver.ConfigOkay
}

func parseProvisions(raw string) ([]*provision, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 {
		return []*provision{}, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, err
	}
	provisions := make([]*provision, 0, len(list))
	for _, item := range list {
		p := &provision{}
		if err := json.Unmarshal(item, p); err != nil {
			if err := json.Unmarshal(item, &p.Pid); err != nil {
				return nil, err
			}
		}
		if p.Pid == "" {
			return nil, fmt.Errorf("provision without pid")
		}
		provisions = append(provisions, p)
	}
	return provisions, nil
}

func (n *Nymulator) Put(data []byte) driver.PutOutcome {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.configured {
		return driver.PutNapiNotRunning
	}
	var req request
	if err := json.Unmarshal(data, &req); err != nil || req.Path == "" {
		return driver.PutInvalidJSON
	}
	var a args
	if len(req.Request) > 0 {
		if err := json.Unmarshal(req.Request, &a); err != nil {
			return driver.PutInvalidJSON
		}
	}
	n.handle(req, a)
	return driver.PutOkay
}

func (n *Nymulator) TryGet() ([]byte, driver.GetOutcome) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.configured {
		return nil, driver.GetNapiNotRunning
	}
	if len(n.outbox) == 0 {
		return nil, driver.GetQueueEmpty
	}
	next := n.outbox[0]
	n.outbox = n.outbox[1:]
	return next, driver.GetOkay
}

func (n *Nymulator) Terminate() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.configured = false
	n.outbox = nil
}

func (n *Nymulator) emit(m message) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	n.outbox = append(n.outbox, data)
}

func (n *Nymulator) reply(req request, response any) {
	n.emit(message{
		Path:       req.Path,
		Exchange:   string(req.Exchange),
		Request:    req.Request,
		Response:   response,
		Completed:  true,
		Successful: true,
	})
}

func (n *Nymulator) fail(req request, outcome string, errs ...string) {
	n.emit(message{
		Path:      req.Path,
		Exchange:  string(req.Exchange),
		Request:   req.Request,
		Completed: true,
		Outcome:   outcome,
		Errors:    [][]string{errs},
	})
}

func (n *Nymulator) report(path string, event map[string]any, response any) {
	n.emit(message{Path: path, Event: event, Response: response, Completed: true, Successful: true})
}

func (n *Nymulator) find(pid string) *provision {
	for _, p := range n.provisions {
		if p.Pid == pid {
			return p
		}
	}
	return nil
}

func (n *Nymulator) handle(req request, a args) {
	switch req.Path {
	case protocol.PathInitGet:
		n.reply(req, map[string]any{
			"NEAName":            n.cfg.NeaName,
			"inited":             true,
			"network":            map[string]any{"host": n.cfg.Host, "port": n.cfg.Port},
			"signatureAlgorithm": protocol.NIST256P,
		})
	case protocol.PathInfoGet:
		n.reply(req, n.info())
	case protocol.PathNotificationsGet:
		n.reply(req, n.notifications)
	case protocol.PathNotificationsSet:
		n.notifications.OnFoundChange = a.OnFoundChange
		n.notifications.OnPresenceChange = a.OnPresenceChange
		n.reply(req, n.notifications)
	case protocol.PathProvisionRunStart:
		n.provisioning = true
		n.pattern = protocol.IntToPattern(int(randomBytes(1)[0]))
		n.reply(req, nil)
		n.report(protocol.PathProvisionReportPatterns, map[string]any{"kind": "patterns", "patterns": []string{n.pattern}}, nil)
	case protocol.PathProvisionRunStop:
		n.provisioning = false
		n.pattern = ""
		n.reply(req, nil)
	case protocol.PathProvisionPattern:
		n.handlePattern(req, a)
	default:
		n.handleBand(req, a)
	}
}

func (n *Nymulator) handlePattern(req request, a args) {
	if !n.provisioning {
		n.fail(req, "NOT_PROVISIONING", "provisioning", "not", "started")
		return
	}
	if a.Action == string(protocol.PatternReject) {
		n.reply(req, nil)
		return
	}
	if a.Pattern != n.pattern {
		n.fail(req, "PATTERN_MISMATCH", "pattern", a.Pattern, "not", "offered")
		return
	}

	p := &provision{Pid: hex.EncodeToString(randomBytes(16)), Tid: n.nextTid}
	n.nextTid++
	n.provisions = append(n.provisions, p)
	n.provisioning = false
	n.pattern = ""

	n.reply(req, nil)
	n.report(protocol.PathProvisionReportProvisioned, map[string]any{
		"kind": "provisioned",
		"info": n.band(p),
	}, nil)
	n.provisionsChanged()
}

func (n *Nymulator) provisionsChanged() {
	blob, err := json.Marshal(n.provisions)
	if err != nil {
		return
	}
	n.report(protocol.PathProvisionsChanged, map[string]any{"kind": "provisions"}, map[string]any{"provisions": string(blob)})
}

func (n *Nymulator) handleBand(req request, a args) {
	if req.Path == protocol.PathRoamingAuthRun {
		n.reply(req, nil)
		n.report(protocol.PathRoamingAuthReportNonce, map[string]any{
			"kind":          "nonce",
			"nymibandNonce": hex.EncodeToString(randomBytes(32)),
		}, nil)
		return
	}
	if req.Path == protocol.PathRoamingAuthSigRun {
		n.reply(req, map[string]any{"nymibandSig": hex.EncodeToString(randomBytes(64)), "raKeyId": "1"})
		return
	}

	p := n.find(a.Pid)
	if p == nil {
		if _, known := protocol.EventFor(req.Path); !known {
			n.fail(req, "UNKNOWN_PATH", "unknown", "path", req.Path)
			return
		}
		n.fail(req, "PID_NOT_FOUND", "pid", a.Pid, "not", "found")
		return
	}

	switch req.Path {
	case protocol.PathBuzzRun:
		n.reply(req, nil)
	case protocol.PathRevokeRun:
		kept := n.provisions[:0]
		for _, other := range n.provisions {
			if other != p {
				kept = append(kept, other)
			}
		}
		n.provisions = kept
		n.reply(req, nil)
		n.provisionsChanged()
	case protocol.PathRandomRun:
		n.reply(req, map[string]any{"pseudoRandomNumber": hex.EncodeToString(randomBytes(16))})
	case protocol.PathSignSetup:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			n.fail(req, "IMPOSSIBLE", err.Error())
			return
		}
		p.signer = key
		p.Signing = true
		n.reply(req, nil)
	case protocol.PathSignRun:
		n.sign(req, p, a.Hash)
	case protocol.PathTotpRun:
		p.totpKey = []byte(a.Key)
		p.Totp = true
		n.reply(req, nil)
	case protocol.PathTotpGet:
		if !p.Totp {
			n.fail(req, "KEY_NOT_FOUND", "totp", "not", "registered")
			return
		}
		n.reply(req, map[string]any{"totp": totp(p.totpKey, time.Now())})
	case protocol.PathSymmetricKeyRun:
		p.symmetricKey = randomBytes(32)
		p.Symmetric = true
		n.reply(req, nil)
	case protocol.PathSymmetricKeyGet:
		if !p.Symmetric {
			n.fail(req, "KEY_NOT_FOUND", "symmetric", "key", "not", "registered")
			return
		}
		n.reply(req, map[string]any{"key": hex.EncodeToString(p.symmetricKey)})
	case protocol.PathCdfRun:
		p.Cdf = true
		n.reply(req, map[string]any{
			"authenticationKey": hex.EncodeToString(randomBytes(32)),
			"deviceKey":         hex.EncodeToString(randomBytes(32)),
		})
	case protocol.PathCdfGet:
		n.reply(req, map[string]any{
			"deviceKeyHMAC":  hex.EncodeToString(randomBytes(32)),
			"sessionKeyHMAC": hex.EncodeToString(randomBytes(32)),
		})
	case protocol.PathKeyDelete:
		p.Cdf = p.Cdf && !a.Cdf
		p.Signing = p.Signing && !a.Sign
		p.Symmetric = p.Symmetric && !a.Symmetric
		p.Totp = p.Totp && !a.Totp
		p.RoamingKey = p.RoamingKey && !a.RoamingAuthSetup
		n.reply(req, map[string]any{
			"cdf": a.Cdf, "sign": a.Sign, "symmetric": a.Symmetric, "totp": a.Totp, "ra": a.RoamingAuthSetup,
		})
	case protocol.PathRoamingAuthSetupRun:
		p.RoamingKey = true
		n.reply(req, map[string]any{"RAKey": hex.EncodeToString(randomBytes(32)), "RAKeyId": strconv.Itoa(p.Tid)})
	default:
		n.fail(req, "UNKNOWN_PATH", "unknown", "path", req.Path)
	}
}

func (n *Nymulator) sign(req request, p *provision, hash string) {
	if p.signer == nil {
		n.fail(req, "KEY_NOT_FOUND", "signing", "key", "not", "set", "up")
		return
	}
	digest, err := hex.DecodeString(hash)
	if err != nil {
		n.fail(req, "INVALID_HASH", "hash", "is", "not", "hex")
		return
	}
	r, s, err := ecdsa.Sign(rand.Reader, p.signer, digest)
	if err != nil {
		n.fail(req, "IMPOSSIBLE", err.Error())
		return
	}
	n.reply(req, map[string]any{
		"signature":       hex.EncodeToString(append(pad32(r), pad32(s)...)),
		"verificationKey": hex.EncodeToString(append(pad32(p.signer.X), pad32(p.signer.Y)...)),
	})
}

func (n *Nymulator) band(p *provision) map[string]any {
	return map[string]any{
		"tid":              p.Tid,
		"found":            protocol.FoundAuthenticated,
		"present":          protocol.PresenceYes,
		"RSSI_last":        -60 - p.Tid,
		"RSSI_smoothed":    -60 - p.Tid,
		"firmwareVersion":  "sim-1.0",
		"sinceLastContact": 0,
		"isProvisioned":    true,
		"pid":              p.Pid,
		"proximity":        protocol.ProximitySphere1,
		"hasApproached":    true,
		"provisioned": map[string]any{
			"pid":                           p.Pid,
			"authenticationWindowRemaining": 300,
			"enabledCDF":                    p.Cdf,
			"enabledSigning":                p.Signing,
			"enabledSymmetricKeys":          p.Symmetric,
			"enabledTOTP":                   p.Totp,
			"enabledRoamingAuthSetup":       p.RoamingKey,
		},
	}
}

func (n *Nymulator) info() map[string]any {
	bands := make([]any, 0, len(n.provisions))
	pids := make([]string, 0, len(n.provisions))
	tids := make([]int, 0, len(n.provisions))
	for _, p := range n.provisions {
		bands = append(bands, n.band(p))
		pids = append(pids, p.Pid)
		tids = append(tids, p.Tid)
	}
	return map[string]any{
		"config": map[string]any{
			"commit":      "simulator",
			"detecting":   true,
			"discovering": n.provisioning,
			"ecodaemon":   "",
			"finding":     true,
			"net":         false,
			"running":     true,
			"version":     "simulator",
		},
		"nymiband":          bands,
		"provisions":        pids,
		"provisionsPresent": pids,
		"tidIndex":          tids,
		"provisionMap":      map[string]any{},
	}
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func pad32(v *big.Int) []byte {
	out := make([]byte, 32)
	v.FillBytes(out)
	return out
}

// totp computes an RFC 6238 code with a 30 second step.
func totp(key []byte, at time.Time) string {
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], uint64(at.Unix()/30))
	mac := hmac.New(sha1.New, key)
	mac.Write(counter[:])
	sum := mac.Sum(nil)
	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", code%1000000)
}
