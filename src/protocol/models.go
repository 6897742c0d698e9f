package protocol

import "encoding/json"

// KeyTypeInfo flags which key types are enabled on a provision.
type KeyTypeInfo struct {
	Cdf              bool
	RoamingAuthSetup bool
	Signing          bool
	SymmetricKey     bool
	Totp             bool
}

// ProvisionInfo describes the provision a band holds with this NEA.
type ProvisionInfo struct {
	Pid                           string
	AuthenticationWindowRemaining float64
	CommandQueue                  []json.RawMessage
	CommandsQueued                int
	HasApproached                 bool
	Proximity                     ProximityState
	KeyTypes                      KeyTypeInfo
}

// CommandAt returns the queued command at index.
func (p ProvisionInfo) CommandAt(index int) (json.RawMessage, bool) {
	if index < 0 || index >= len(p.CommandQueue) {
		return nil, false
	}
	return p.CommandQueue[index], true
}

type NymiBandInfo struct {
	RSSILast         float64
	RSSISmoothed     float64
	FirmwareVersion  string
	Found            FoundState
	Provisioned      bool
	Present          PresenceState
	SinceLastContact float64
	Tid              int
	// Provision is nil for bands that are not provisioned with this NEA.
	Provision *ProvisionInfo
}

func (b NymiBandInfo) RSSI(smoothed bool) float64 {
	if smoothed {
		return b.RSSISmoothed
	}
	return b.RSSILast
}

// Pid returns the provision id, or "" when the band carries no provision.
func (b NymiBandInfo) Pid() string {
	if b.Provision == nil {
		return ""
	}
	return b.Provision.Pid
}

type NapiInitInfo struct {
	NeaName            string
	Inited             bool
	Host               string
	Port               int
	SignatureAlgorithm SignatureAlgorithm
}

type NapiConfigInfo struct {
	Commit      string
	Detecting   bool
	Discovering bool
	EcoDaemon   string
	Finding     bool
	Net         bool
	Running     bool
	Version     string
}

type NotificationInfo struct {
	OnFirmwareVersion bool `json:"onFirmwareVersion"`
	OnFoundChange     bool `json:"onFoundChange"`
	OnGeneralError    bool `json:"onGeneralError"`
	OnPresenceChange  bool `json:"onPresenceChange"`
	OnProvision       bool `json:"onProvision"`
}
