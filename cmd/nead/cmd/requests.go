package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/q-controller/nea-supervisor/src/protocol"
)

type requestCommand struct {
	usage string
	args  int
	build func(args []string) (protocol.Request, error)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on", "guarded", "positive":
		return true, nil
	case "0", "false", "no", "off", "unguarded", "negative":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

func parseKeyTypes(list string) (protocol.KeyTypeInfo, error) {
	var keys protocol.KeyTypeInfo
	for _, name := range strings.Split(list, ",") {
		switch protocol.KeyType(strings.TrimSpace(name)) {
		case protocol.KeyCdf:
			keys.Cdf = true
		case protocol.KeySigning:
			keys.Signing = true
		case protocol.KeySymmetric:
			keys.SymmetricKey = true
		case protocol.KeyTotp:
			keys.Totp = true
		case protocol.KeyRoamingAuthSetup:
			keys.RoamingAuthSetup = true
		default:
			return keys, fmt.Errorf("unknown key type %q", name)
		}
	}
	return keys, nil
}

func noArgs(build func(...string) protocol.Request) func([]string) (protocol.Request, error) {
	return func([]string) (protocol.Request, error) { return build(), nil }
}

func pidOnly(build func(string, ...string) protocol.Request) func([]string) (protocol.Request, error) {
	return func(args []string) (protocol.Request, error) { return build(args[0]), nil }
}

func pidFlag(build func(string, bool, ...string) protocol.Request) func([]string) (protocol.Request, error) {
	return func(args []string) (protocol.Request, error) {
		flag, err := parseBool(args[1])
		if err != nil {
			return protocol.Request{}, err
		}
		return build(args[0], flag), nil
	}
}

// requestCommands maps console verbs onto request builders.
var requestCommands = map[string]requestCommand{
	"info":           {"info", 0, noArgs(protocol.GetInfo)},
	"init":           {"init", 0, noArgs(protocol.GetInit)},
	"provision":      {"provision", 0, noArgs(protocol.ProvisionStart)},
	"provision-stop": {"provision-stop", 0, noArgs(protocol.ProvisionStop)},
	"events":         {"events", 0, noArgs(protocol.GetEvents)},
	"accept":         {"accept <pattern>", 1, func(a []string) (protocol.Request, error) { return protocol.AcceptPattern(a[0]), nil }},
	"reject":         {"reject <pattern>", 1, func(a []string) (protocol.Request, error) { return protocol.RejectPattern(a[0]), nil }},
	"random":         {"random <pid>", 1, pidOnly(protocol.GetRandom)},
	"symmetric-key":  {"symmetric-key <pid>", 1, pidOnly(protocol.GetSymmetricKey)},
	"totp":           {"totp <pid>", 1, pidOnly(protocol.GetTotp)},

	"symmetric-key-create": {"symmetric-key-create <pid> <guarded>", 2, pidFlag(protocol.CreateSymmetricKey)},
	"cdf-create":           {"cdf-create <pid> <guarded>", 2, pidFlag(protocol.CreateCdfKey)},
	"revoke":               {"revoke <pid> <only-if-authenticated>", 2, pidFlag(protocol.RevokeProvision)},

	"set-events": {"set-events <found-change> <presence-change>", 2, func(a []string) (protocol.Request, error) {
		found, err := parseBool(a[0])
		if err != nil {
			return protocol.Request{}, err
		}
		presence, err := parseBool(a[1])
		if err != nil {
			return protocol.Request{}, err
		}
		return protocol.SetEvents(found, presence), nil
	}},
	"buzz": {"buzz <pid> <positive|negative>", 2, func(a []string) (protocol.Request, error) {
		haptic, err := parseBool(a[1])
		if err != nil {
			return protocol.Request{}, err
		}
		return protocol.NotifyBand(a[0], protocol.HapticNotification(haptic)), nil
	}},
	"cdf": {"cdf <pid> <serviceNonce> <sessionKeyNonce> <deviceKeyNonce> <serviceNonceHMAC>", 5, func(a []string) (protocol.Request, error) {
		return protocol.GetCdfKey(a[0], a[1], a[2], a[3], a[4]), nil
	}},
	"delete-key": {"delete-key <pid> <cdf,sign,symmetric,totp,roamingAuthSetup>", 2, func(a []string) (protocol.Request, error) {
		keys, err := parseKeyTypes(a[1])
		if err != nil {
			return protocol.Request{}, err
		}
		return protocol.DeleteKey(a[0], keys), nil
	}},
	"sign-setup": {"sign-setup <pid> <NIST256P|SECP256K>", 2, func(a []string) (protocol.Request, error) {
		curve := protocol.SignatureAlgorithm(strings.ToUpper(a[1]))
		if curve != protocol.NIST256P && curve != protocol.SECP256K {
			return protocol.Request{}, fmt.Errorf("unknown curve %q", a[1])
		}
		return protocol.SignSetup(a[0], curve), nil
	}},
	"sign": {"sign <pid> <message> [hash]", 2, func(a []string) (protocol.Request, error) {
		hash := ""
		if len(a) > 2 {
			hash = a[2]
		}
		return protocol.SignMessage(a[0], a[1], hash), nil
	}},
	"totp-create": {"totp-create <pid> <key> <guarded>", 3, func(a []string) (protocol.Request, error) {
		guarded, err := parseBool(a[2])
		if err != nil {
			return protocol.Request{}, err
		}
		return protocol.CreateTotp(a[0], a[1], guarded), nil
	}},
	"roaming-setup": {"roaming-setup <pid> <partnerPublicKey>", 2, func(a []string) (protocol.Request, error) {
		return protocol.SetupRoamingAuth(a[0], a[1]), nil
	}},
	"roaming-start": {"roaming-start <tid>", 1, func(a []string) (protocol.Request, error) {
		tid, err := strconv.Atoi(a[0])
		if err != nil {
			return protocol.Request{}, fmt.Errorf("tid: %w", err)
		}
		return protocol.StartRoamingAuth(tid), nil
	}},
	"roaming-sig": {"roaming-sig <partnerPublicKey> <serverNonce> <serverSignature>", 3, func(a []string) (protocol.Request, error) {
		return protocol.CompleteRoamingAuth(a[0], a[1], a[2]), nil
	}},
	"raw": {"raw <json request>", 1, func(a []string) (protocol.Request, error) {
		var req protocol.Request
		if err := json.Unmarshal([]byte(strings.Join(a, " ")), &req); err != nil {
			return protocol.Request{}, err
		}
		if req.Path == "" {
			return protocol.Request{}, fmt.Errorf("request without path")
		}
		return req, nil
	}},
}

// buildRequest turns one console line into a request.
func buildRequest(verb string, args []string) (protocol.Request, error) {
	command, ok := requestCommands[verb]
	if !ok {
		return protocol.Request{}, fmt.Errorf("unknown command %q", verb)
	}
	if len(args) < command.args {
		return protocol.Request{}, fmt.Errorf("usage: %s", command.usage)
	}
	return command.build(args)
}

func requestUsages() []string {
	usages := make([]string, 0, len(requestCommands))
	for _, command := range requestCommands {
		usages = append(usages, command.usage)
	}
	sort.Strings(usages)
	return usages
}
