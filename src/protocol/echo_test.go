package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echo wraps a marshalled request the way the driver answers it: the
// request object comes back under "request" next to the outcome flags.
func echo(t *testing.T, req Request) []byte {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)

	var sent map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &sent))

	msg := map[string]any{
		"path":       req.Path,
		"exchange":   sent["exchange"],
		"completed":  true,
		"successful": true,
	}
	if request, ok := sent["request"]; ok {
		msg["request"] = request
	}
	out, err := json.Marshal(msg)
	require.NoError(t, err)
	return out
}

func TestDecodeEchoedRequests(t *testing.T) {
	tests := []struct {
		name   string
		req    Request
		fields map[string]any
	}{
		{"accept pattern", AcceptPattern("+-+-+", "x1"), map[string]any{"action": "accept", "pattern": "+-+-+"}},
		{"reject pattern", RejectPattern("--++-", "x2"), map[string]any{"action": "reject", "pattern": "--++-"}},
		{"create symmetric key", CreateSymmetricKey("p1", true, "x3"), map[string]any{"pid": "p1", "guarded": true}},
		{"get symmetric key", GetSymmetricKey("p1", "x4"), map[string]any{"pid": "p1"}},
		{"provision start", ProvisionStart("x5"), nil},
		{"provision stop", ProvisionStop("x6"), nil},
		{"info", GetInfo("x7"), nil},
		{"init", GetInit("x8"), nil},
		{"set events", SetEvents(true, false, "x9"), map[string]any{"onFoundChange": true, "onPresenceChange": false}},
		{"get events", GetEvents("x10"), nil},
		{"random", GetRandom("p2", "x11"), map[string]any{"pid": "p2"}},
		{"buzz", NotifyBand("p2", HapticPositive, "x12"), map[string]any{"pid": "p2", "buzz": true}},
		{"revoke", RevokeProvision("p3", true, "x13"), map[string]any{"pid": "p3", "onlyIfAuthenticated": true}},
		{"create cdf key", CreateCdfKey("p3", false, "x14"), map[string]any{"pid": "p3", "guarded": false}},
		{"get cdf key", GetCdfKey("p4", "sn", "skn", "dkn", "hmac", "x15"), map[string]any{
			"pid": "p4", "serviceNonce": "sn", "sessionKeyNonce": "skn", "deviceKeyNonce": "dkn", "serviceNonceHMAC": "hmac",
		}},
		{"delete key", DeleteKey("p4", KeyTypeInfo{Cdf: true, Totp: true}, "x16"), map[string]any{
			"pid": "p4", "cdf": true, "sign": false, "symmetric": false, "totp": true, "roamingAuthSetup": false,
		}},
		{"sign setup", SignSetup("p5", NIST256P, "x17"), map[string]any{"pid": "p5", "curve": "NIST256P"}},
		{"sign", SignMessage("p5", "", "abcd", "x18"), map[string]any{"pid": "p5", "hash": "abcd"}},
		{"create totp", CreateTotp("p6", "JBSWY3DP", true, "x19"), map[string]any{"pid": "p6", "key": "JBSWY3DP", "guarded": true}},
		{"get totp", GetTotp("p6", "x20"), map[string]any{"pid": "p6"}},
		{"roaming auth setup", SetupRoamingAuth("p7", "04ab", "x21"), map[string]any{"pid": "p7", "partnerPublicKey": "04ab"}},
		{"roaming auth", StartRoamingAuth(7, "x22"), map[string]any{"tid": float64(7)}},
		{"roaming auth sig", CompleteRoamingAuth("04ab", "00ff", "beef", "x23"), map[string]any{
			"partnerPublicKey": "04ab", "serverNonce": "00ff", "serverSignature": "beef",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Decode(echo(t, tt.req))
			require.NoError(t, err)

			header := resp.Header()
			assert.Equal(t, tt.req.Path, header.Path)
			assert.Equal(t, tt.req.Exchange, header.Exchange)
			assert.True(t, header.Ok())

			for name, want := range tt.fields {
				var got any
				require.True(t, header.RequestField(name, &got), "field %s", name)
				assert.Equal(t, want, got, "field %s", name)
			}
			if tt.fields == nil {
				var pid string
				assert.False(t, header.RequestField("pid", &pid))
			}
		})
	}
}

func TestDecodeEchoedRequestDefaultExchange(t *testing.T) {
	defer func(previous func() time.Time) { now = previous }(now)
	now = func() time.Time { return time.UnixMilli(1700000000123) }

	resp, err := Decode(echo(t, GetRandom("p1")))
	require.NoError(t, err)
	assert.Equal(t, "1700000000123", resp.Header().Exchange)
}
